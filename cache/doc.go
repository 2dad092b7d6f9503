// Package cache defines the segment cache SPI and its building blocks.
//
// A SegmentCache stores segment bodies keyed by their header. Backends
// included here:
//
//   - MemoryCache: byte-budgeted LRU in process memory
//   - ShardedMemoryCache: MemoryCache split into shards to reduce contention
//   - BlobCache: encoded, compressed segments in a blobstore.BlobStore
//
// The dynamodb subpackage adds a DynamoDB backend.
//
// Each backend is wrapped by a Worker, which turns backend failures into
// misses. A Composite fans operations out to its workers and publishes
// EntryCreated and EntryDeleted events on an EventBus. Listeners run on the
// bus goroutine, never on the goroutine that mutated the cache.
package cache
