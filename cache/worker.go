package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hupe1980/olapcache/metrics"
	"github.com/hupe1980/olapcache/segment"
)

// Worker adapts one backend for the Composite.
//
// Backend failures never escape a Worker: a failed Get is a miss and a
// failed Put leaves the entry uncached in that backend. Failures are logged
// at warn level and counted.
type Worker struct {
	name    string
	backend SegmentCache
	logger  *slog.Logger
	metrics metrics.Collector
}

// NewWorker wraps backend. name identifies the worker in logs and metrics.
func NewWorker(name string, backend SegmentCache, opts ...Option) *Worker {
	o := applyOptions(opts)
	return &Worker{
		name:    name,
		backend: backend,
		logger:  o.logger.With(slog.String("worker", name)),
		metrics: o.metrics,
	}
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Backend returns the wrapped backend.
func (w *Worker) Backend() SegmentCache { return w.backend }

// Get returns the body for h, or false on a miss or backend failure.
func (w *Worker) Get(ctx context.Context, h *segment.Header) (*segment.Body, bool) {
	b, err := w.backend.Get(ctx, h)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			w.fail("get", h, err)
		}
		return nil, false
	}
	return b, true
}

// Put stores b and reports success.
func (w *Worker) Put(ctx context.Context, h *segment.Header, b *segment.Body) bool {
	if err := w.backend.Put(ctx, h, b); err != nil {
		w.fail("put", h, err)
		return false
	}
	return true
}

// Remove deletes h and reports whether the backend held it.
func (w *Worker) Remove(ctx context.Context, h *segment.Header) bool {
	ok, err := w.backend.Remove(ctx, h)
	if err != nil {
		w.fail("remove", h, err)
		return false
	}
	return ok
}

// Contains reports whether the backend holds h. Failures report false.
func (w *Worker) Contains(ctx context.Context, h *segment.Header) bool {
	ok, err := w.backend.Contains(ctx, h)
	if err != nil {
		w.fail("contains", h, err)
		return false
	}
	return ok
}

// Headers lists the backend's headers. Failures yield none.
func (w *Worker) Headers(ctx context.Context) []*segment.Header {
	hs, err := w.backend.Headers(ctx)
	if err != nil {
		w.fail("headers", nil, err)
		return nil
	}
	return hs
}

// Close closes the backend.
func (w *Worker) Close() error {
	return w.backend.Close()
}

func (w *Worker) fail(op string, h *segment.Header, err error) {
	w.metrics.RecordBackendError(w.name, op)
	attrs := []any{slog.String("op", op), slog.String("error", err.Error())}
	if h != nil {
		attrs = append(attrs, slog.String("header", h.String()))
	}
	w.logger.Warn("cache backend failed", attrs...)
}
