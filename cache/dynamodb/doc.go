// Package dynamodb provides a segment cache backend stored in Amazon DynamoDB.
//
// Each entry is one item keyed by the header hash. The item holds the
// encoded header, the compressed body and the schema, cube and measure as
// plain attributes for inspection. Items larger than the DynamoDB item
// limit are rejected, so the backend suits small and medium segments.
//
// The table needs a string partition key named "pk":
//
//	aws dynamodb create-table \
//	  --table-name olapcache-segments \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//
// Enable TTL on the "expires_at" attribute to let DynamoDB expire entries
// written with WithTTL.
package dynamodb
