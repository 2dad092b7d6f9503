// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("segments/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	eng, err := olapcache.Open(executor,
//	    olapcache.WithBackend(cache.NewBlobCache(store)),
//	)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads for large segments
//   - CRC32C upload validation
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
