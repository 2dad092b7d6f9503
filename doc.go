// Package olapcache is an aggregate segment cache for OLAP engines.
//
// A query front end asks for cells: a measure of a cube under constraints
// on some dimension columns. The engine groups such requests, merges them
// into covering segments and loads each segment at most once at a time
// through an Executor that talks to the underlying database. Loaded
// segments are kept in an in-process LRU and, optionally, in remote
// backends shared between engines.
//
// # Quick Start
//
//	exec := olapcache.ExecutorFunc(func(ctx context.Context, spec olapcache.FetchSpec) (olapcache.RowSource, error) {
//	    return runGroupBy(ctx, spec) // SELECT ... GROUP BY spec.Columns
//	})
//	e, _ := olapcache.Open(ctx, exec)
//	defer e.Close()
//
//	segs, _ := e.Load(ctx, olapcache.Request{
//	    Schema:      "FoodMart",
//	    Cube:        "Sales",
//	    Measure:     "unit_sales",
//	    Aggregator:  segment.Sum,
//	    Constraints: []segment.ColumnConstraint{segment.In("gender", "F", "M")},
//	})
//	v, ok := segs[0].Value(map[string]string{"gender": "F"})
//
// # Remote backends
//
// Backends implement cache.SegmentCache. The repository ships blob-store
// backed caches for S3, MinIO and the local file system, and a DynamoDB
// cache:
//
//	store, _ := s3.New(ctx, "olap-segments", s3.WithPrefix("prod/"))
//	e, _ := olapcache.Open(ctx, exec,
//	    olapcache.WithRegistry(reg),
//	    olapcache.WithBackend("s3", cache.NewBlobCache(store, cache.WithBlobRegistry(reg))),
//	    olapcache.WithWarmStart(),
//	)
//
// A backend that fails is treated as a miss; failures are logged and
// counted, never returned to callers.
//
// # Flushing
//
// When the underlying data changes, Flush removes every segment that may
// hold an affected cell:
//
//	e.Flush(ctx, olapcache.Region{
//	    Cube:        "Sales",
//	    Constraints: []segment.ColumnConstraint{segment.In("year", "1998")},
//	})
//
// Listeners added with AddListener see one ENTRY_CREATED event per stored
// segment and one ENTRY_DELETED event per removed segment.
package olapcache
