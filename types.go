package olapcache

import (
	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/internal/agg"
	"github.com/hupe1980/olapcache/segment"
)

type (
	// Request asks for the cells of one measure under a set of constraints.
	Request = agg.Request
	// Executor produces aggregated rows for a fetch.
	Executor = agg.Executor
	// ExecutorFunc adapts a function to Executor.
	ExecutorFunc = agg.ExecutorFunc
	// FetchSpec describes the rows of one fetch.
	FetchSpec = agg.FetchSpec
	// RowSource streams the rows of one fetch.
	RowSource = agg.RowSource

	// MergePolicy decides whether requests share one fetch.
	MergePolicy = agg.MergePolicy
	// RowMultiplierPolicy bounds the growth of a merged fetch.
	RowMultiplierPolicy = agg.RowMultiplierPolicy

	// Region selects the segments removed by Flush.
	Region = segment.Region

	// Event reports a segment added to or removed from the cache.
	Event = cache.Event
	// EventType is the kind of an Event.
	EventType = cache.EventType
	// Listener receives cache events on the event bus goroutine.
	Listener = cache.Listener
	// ListenerFunc adapts a function to Listener.
	ListenerFunc = cache.ListenerFunc
)

const (
	// EntryCreated is published once per segment stored in the cache.
	EntryCreated = cache.EntryCreated
	// EntryDeleted is published once per segment removed from the cache.
	EntryDeleted = cache.EntryDeleted
)
