// Package resource implements the Controller for global limits.
//
// The Controller governs three resources shared by every query of an engine:
//
//   - Memory: bytes held by in-process segment caches (non-blocking, fail-fast)
//   - Fetches: concurrent segment loads issued to the executor (semaphore)
//   - Fetch rate: loads started per second (token bucket)
//
// # Memory Management
//
// TryAcquireMemory never blocks. A cache that cannot reserve memory simply
// does not keep the segment:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	})
//
//	if !rc.TryAcquireMemory(body.SizeBytes()) {
//	    return // not cached
//	}
//
// # Fetch Limits
//
//	if err := rc.AcquireFetch(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFetch()
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
