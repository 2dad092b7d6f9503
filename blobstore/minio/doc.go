// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible storage such as Ceph,
// SeaweedFS and Garage, without pulling in the AWS SDK.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "olap/")
//	backend := cache.NewBlobCache(store)
//	eng, err := olapcache.Open(ctx, executor, olapcache.WithBackend("minio", backend))
//
// Segment blobs are written with SegmentContentType and carry the schema
// and cube in user metadata (see SegmentMetadata). Whole segments are read
// with one GET; Open serves ranged reads pinned to the object's ETag.
package minio
