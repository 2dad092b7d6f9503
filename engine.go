package olapcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/internal/agg"
	"github.com/hupe1980/olapcache/internal/resource"
	"github.com/hupe1980/olapcache/segment"
)

// Engine answers cell requests from cached segments, loading missing
// segments through an Executor.
type Engine struct {
	reg     *segment.Registry
	rc      *resource.Controller
	cache   *cache.Composite
	manager *agg.Manager
	logger  *Logger
	closed  atomic.Bool
}

// Stats is a snapshot of engine state.
type Stats struct {
	// ReadySegments is the number of indexed segments held by a cache.
	ReadySegments int
	// PendingSegments is the number of loads in flight.
	PendingSegments int
	// MemoryUsage is the number of bytes held by in-process bodies.
	MemoryUsage int64
	// InFlightFetches is the number of executor fetches running.
	InFlightFetches int64
	// PendingEvents is the number of cache events not yet delivered.
	PendingEvents int
	// Workers names the cache workers in lookup order.
	Workers []string
}

// Open builds an engine that fetches through exec.
func Open(ctx context.Context, exec Executor, optFns ...Option) (*Engine, error) {
	if exec == nil {
		return nil, errors.New("olapcache: nil executor")
	}
	o := applyOptions(optFns)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.memoryLimit,
		MaxConcurrentFetches: o.maxFetches,
		FetchesPerSecond:     o.fetchesPerSec,
		FetchBurst:           o.fetchBurst,
	})

	c := cache.NewComposite(
		cache.WithLogger(o.logger.Logger),
		cache.WithMetrics(o.metricsCollector),
		cache.WithEventBusOptions(cache.WithEventQueueCapacity(o.eventQueueCap)),
	)
	workerOpts := []cache.Option{
		cache.WithLogger(o.logger.Logger),
		cache.WithMetrics(o.metricsCollector),
	}
	if !o.noLocalCache {
		var local cache.SegmentCache
		if o.localCacheShards > 1 {
			local = cache.NewShardedMemoryCache(o.localCacheSize, o.localCacheShards, rc)
		} else {
			local = cache.NewMemoryCache(o.localCacheSize, rc)
		}
		if err := c.AddWorker(cache.NewWorker("memory", local, workerOpts...)); err != nil {
			return nil, translateError(err)
		}
	}
	for _, b := range o.backends {
		if err := c.AddWorker(cache.NewWorker(b.name, b.cache, workerOpts...)); err != nil {
			return nil, translateError(err)
		}
	}

	managerOpts := []agg.Option{
		agg.WithLogger(o.logger.Logger),
		agg.WithMetrics(o.metricsCollector),
		agg.WithResourceController(rc),
		agg.WithMergePolicy(o.mergePolicy),
	}
	if o.denseThreshold != nil {
		managerOpts = append(managerOpts, agg.WithBuilderOptions(segment.WithDenseThreshold(*o.denseThreshold)))
	}

	e := &Engine{
		reg:     o.registry,
		rc:      rc,
		cache:   c,
		manager: agg.NewManager(o.registry, exec, c, managerOpts...),
		logger:  o.logger,
	}

	if o.warmStart {
		n, err := e.manager.Warm(ctx)
		e.logger.LogWarm(ctx, n, err)
		if err != nil {
			_ = e.Close()
			return nil, translateError(err)
		}
	}
	return e, nil
}

// Registry returns the column registry headers are built with.
func (e *Engine) Registry() *segment.Registry { return e.reg }

// Load returns one segment per request, in request order.
//
// Requests are grouped and merged into covering fetches; a segment is
// fetched at most once at a time no matter how many callers ask for it.
// If some loads fail the other segments are still returned and the error
// matches ErrFetchFailed. Canceling ctx abandons the wait, not the loads.
func (e *Engine) Load(ctx context.Context, reqs ...Request) ([]*segment.Segment, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	segs, err := e.manager.Load(ctx, reqs...)
	if err != nil {
		loaded := 0
		for _, s := range segs {
			if s != nil {
				loaded++
			}
		}
		e.logger.LogLoad(ctx, len(reqs), loaded, err)
		return segs, translateError(err)
	}
	e.logger.LogLoad(ctx, len(reqs), len(segs), nil)
	return segs, nil
}

// Peek answers r from an already cached segment. It returns ErrNotFound
// instead of fetching.
func (e *Engine) Peek(ctx context.Context, r Request) (*segment.Segment, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	seg, err := e.manager.Peek(ctx, r)
	return seg, translateError(err)
}

// Flush removes every cached segment that may hold a cell of region and
// returns how many were removed. Loads in flight are not affected. When
// Flush returns, ENTRY_DELETED events for the removed segments are queued.
func (e *Engine) Flush(ctx context.Context, region Region) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	n, err := e.manager.Flush(ctx, region)
	e.logger.LogFlush(ctx, region, n, err)
	return n, translateError(err)
}

// Warm indexes the segments the cache backends already hold.
func (e *Engine) Warm(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	n, err := e.manager.Warm(ctx)
	e.logger.LogWarm(ctx, n, err)
	return n, translateError(err)
}

// AddListener subscribes l to cache events and returns its id.
func (e *Engine) AddListener(l Listener) uint64 {
	return e.cache.AddListener(l)
}

// RemoveListener unsubscribes the listener with the given id.
func (e *Engine) RemoveListener(id uint64) bool {
	return e.cache.RemoveListener(id)
}

// DrainEvents blocks until every queued event has been delivered.
func (e *Engine) DrainEvents() {
	e.cache.Bus().Drain()
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	ms := e.manager.Stats()
	workers := e.cache.Workers()
	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = w.Name()
	}
	return Stats{
		ReadySegments:   ms.Ready,
		PendingSegments: ms.Pending,
		MemoryUsage:     e.rc.MemoryUsage(),
		InFlightFetches: e.rc.InFlightFetches(),
		PendingEvents:   e.cache.Bus().Pending(),
		Workers:         names,
	}
}

// Close cancels running loads, closes every cache backend and delivers
// the queued events. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()

	var result *multierror.Error
	if err := e.manager.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.cache.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	err := result.ErrorOrNil()
	if err != nil {
		e.logger.Error("close failed", "error", err)
	} else {
		e.logger.Debug("engine closed", "duration", time.Since(start))
	}
	return err
}
