// Package metrics defines the Collector the engine reports operational
// metrics to, with no-op, in-memory and Prometheus implementations.
package metrics

import (
	"sync/atomic"
	"time"
)

// Lookup outcomes reported by RecordLookup.
const (
	// LookupHit is a request answered by a ready segment.
	LookupHit = "hit"
	// LookupJoined is a request that waited on an in-flight load.
	LookupJoined = "joined"
	// LookupRemote is a load answered by a cache backend instead of the executor.
	LookupRemote = "remote"
	// LookupMiss is a request that started a new load.
	LookupMiss = "miss"
)

// Collector defines an interface for collecting operational metrics.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordLoad is called after each Load call.
	// requests is the number of requests, batches the number of covering
	// segments they were grouped into.
	RecordLoad(requests, batches int, duration time.Duration, err error)

	// RecordLookup is called once per distinct request with one of the
	// Lookup* outcomes, and once per load answered by a cache backend.
	RecordLookup(outcome string)

	// RecordFetch is called after each executor fetch.
	RecordFetch(cells int, duration time.Duration, err error)

	// RecordFlush is called after each flush.
	RecordFlush(removed int, duration time.Duration)

	// RecordEvent is called for every cache event dispatched to listeners.
	RecordEvent(eventType string)

	// RecordBackendError is called when a cache backend fails an operation.
	RecordBackendError(backend, op string)
}

// NoopCollector is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type NoopCollector struct{}

func (NoopCollector) RecordLoad(int, int, time.Duration, error) {}
func (NoopCollector) RecordLookup(string)                       {}
func (NoopCollector) RecordFetch(int, time.Duration, error)     {}
func (NoopCollector) RecordFlush(int, time.Duration)            {}
func (NoopCollector) RecordEvent(string)                        {}
func (NoopCollector) RecordBackendError(string, string)         {}

// BasicCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicCollector struct {
	LoadCount      atomic.Int64
	LoadErrors     atomic.Int64
	LoadRequests   atomic.Int64
	LoadBatches    atomic.Int64
	LoadTotalNanos atomic.Int64

	Hits   atomic.Int64
	Joined atomic.Int64
	Remote atomic.Int64
	Misses atomic.Int64

	FetchCount      atomic.Int64
	FetchErrors     atomic.Int64
	FetchCells      atomic.Int64
	FetchTotalNanos atomic.Int64

	FlushCount   atomic.Int64
	FlushRemoved atomic.Int64

	EventsCreated atomic.Int64
	EventsDeleted atomic.Int64

	BackendErrors atomic.Int64
}

// RecordLoad implements Collector.
func (b *BasicCollector) RecordLoad(requests, batches int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadRequests.Add(int64(requests))
	b.LoadBatches.Add(int64(batches))
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordLookup implements Collector.
func (b *BasicCollector) RecordLookup(outcome string) {
	switch outcome {
	case LookupHit:
		b.Hits.Add(1)
	case LookupJoined:
		b.Joined.Add(1)
	case LookupRemote:
		b.Remote.Add(1)
	case LookupMiss:
		b.Misses.Add(1)
	}
}

// RecordFetch implements Collector.
func (b *BasicCollector) RecordFetch(cells int, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchCells.Add(int64(cells))
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordFlush implements Collector.
func (b *BasicCollector) RecordFlush(removed int, _ time.Duration) {
	b.FlushCount.Add(1)
	b.FlushRemoved.Add(int64(removed))
}

// RecordEvent implements Collector.
func (b *BasicCollector) RecordEvent(eventType string) {
	switch eventType {
	case "ENTRY_CREATED":
		b.EventsCreated.Add(1)
	case "ENTRY_DELETED":
		b.EventsDeleted.Add(1)
	}
}

// RecordBackendError implements Collector.
func (b *BasicCollector) RecordBackendError(string, string) {
	b.BackendErrors.Add(1)
}

// Stats returns a snapshot of current metrics.
func (b *BasicCollector) Stats() BasicStats {
	return BasicStats{
		LoadCount:     b.LoadCount.Load(),
		LoadErrors:    b.LoadErrors.Load(),
		LoadRequests:  b.LoadRequests.Load(),
		LoadBatches:   b.LoadBatches.Load(),
		LoadAvgNanos:  avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		Hits:          b.Hits.Load(),
		Joined:        b.Joined.Load(),
		Remote:        b.Remote.Load(),
		Misses:        b.Misses.Load(),
		FetchCount:    b.FetchCount.Load(),
		FetchErrors:   b.FetchErrors.Load(),
		FetchCells:    b.FetchCells.Load(),
		FetchAvgNanos: avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		FlushCount:    b.FlushCount.Load(),
		FlushRemoved:  b.FlushRemoved.Load(),
		EventsCreated: b.EventsCreated.Load(),
		EventsDeleted: b.EventsDeleted.Load(),
		BackendErrors: b.BackendErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicStats is a snapshot of BasicCollector state.
type BasicStats struct {
	LoadCount     int64
	LoadErrors    int64
	LoadRequests  int64
	LoadBatches   int64
	LoadAvgNanos  int64
	Hits          int64
	Joined        int64
	Remote        int64
	Misses        int64
	FetchCount    int64
	FetchErrors   int64
	FetchCells    int64
	FetchAvgNanos int64
	FlushCount    int64
	FlushRemoved  int64
	EventsCreated int64
	EventsDeleted int64
	BackendErrors int64
}
