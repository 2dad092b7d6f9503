package cache

import (
	"context"
	"errors"

	"github.com/hupe1980/olapcache/segment"
)

var (
	// ErrNotFound is returned by Get when the backend has no body for the header.
	ErrNotFound = errors.New("cache: segment not found")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")

	// ErrRejected is returned by Put when the backend declines to store an entry,
	// e.g. because it exceeds the capacity.
	ErrRejected = errors.New("cache: entry rejected")
)

// SegmentCache is the SPI implemented by segment cache backends.
// Implementations must be safe for concurrent use.
type SegmentCache interface {
	// Get returns the body stored for h, or ErrNotFound.
	Get(ctx context.Context, h *segment.Header) (*segment.Body, error)
	// Put stores b under h, replacing any previous body.
	Put(ctx context.Context, h *segment.Header, b *segment.Body) error
	// Remove deletes the entry for h and reports whether it existed.
	Remove(ctx context.Context, h *segment.Header) (bool, error)
	// Contains reports whether an entry for h exists.
	Contains(ctx context.Context, h *segment.Header) (bool, error)
	// Headers returns the headers of all stored entries.
	Headers(ctx context.Context) ([]*segment.Header, error)
	// Close releases resources held by the backend.
	Close() error
}

// EvictionNotifier is implemented by backends that drop entries on their own,
// e.g. under capacity pressure.
type EvictionNotifier interface {
	// OnEvict registers fn to be called for every evicted header.
	// fn is called without internal locks held.
	OnEvict(fn func(h *segment.Header))
}
