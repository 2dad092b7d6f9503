package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/olapcache/segment"
)

// Composite aggregates workers behind one cache and owns the event bus.
//
// Reads are answered by the first worker, in registration order, that holds
// the entry. Writes and removals go to every worker; exactly one event is
// published per successful operation no matter how many workers took part.
type Composite struct {
	mu      sync.RWMutex
	workers []*Worker
	closed  bool

	bus     *EventBus
	logger  *slog.Logger
	onEvict atomic.Pointer[func(*segment.Header)]
}

// NewComposite creates a composite with no workers.
func NewComposite(opts ...Option) *Composite {
	o := applyOptions(opts)
	busOpts := append([]EventBusOption{
		WithEventLogger(o.logger),
		WithEventHook(func(t EventType) { o.metrics.RecordEvent(t.String()) }),
	}, o.busOpts...)

	return &Composite{
		bus:    NewEventBus(busOpts...),
		logger: o.logger,
	}
}

// AddWorker registers w. Entries already held by w are not announced.
func (c *Composite) AddWorker(w *Worker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if n, ok := w.Backend().(EvictionNotifier); ok {
		n.OnEvict(func(h *segment.Header) { c.evicted(w, h) })
	}
	c.workers = append(c.workers, w)
	c.logger.Debug("cache worker added", slog.String("worker", w.Name()))
	return nil
}

// RemoveWorker unregisters the worker with the given name without closing it.
func (c *Composite) RemoveWorker(name string) (*Worker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.workers {
		if w.Name() == name {
			c.workers = slices.Delete(c.workers, i, i+1)
			if n, ok := w.Backend().(EvictionNotifier); ok {
				n.OnEvict(nil)
			}
			c.logger.Debug("cache worker removed", slog.String("worker", name))
			return w, true
		}
	}
	return nil, false
}

// Workers returns the registered workers in order.
func (c *Composite) Workers() []*Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.workers)
}

func (c *Composite) snapshot() []*Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	return slices.Clone(c.workers)
}

// OnEvict registers fn to be called when a backend evicted h on its own and
// no other worker still holds it.
func (c *Composite) OnEvict(fn func(h *segment.Header)) {
	if fn == nil {
		c.onEvict.Store(nil)
		return
	}
	c.onEvict.Store(&fn)
}

// AddListener subscribes l to cache events.
func (c *Composite) AddListener(l Listener) uint64 {
	return c.bus.AddListener(l)
}

// RemoveListener unsubscribes the listener with the given id.
func (c *Composite) RemoveListener(id uint64) bool {
	return c.bus.RemoveListener(id)
}

// Bus returns the event bus.
func (c *Composite) Bus() *EventBus {
	return c.bus
}

// Get returns the body for h from the first worker holding it.
func (c *Composite) Get(ctx context.Context, h *segment.Header) (*segment.Body, bool) {
	for _, w := range c.snapshot() {
		if b, ok := w.Get(ctx, h); ok {
			return b, true
		}
	}
	return nil, false
}

// Put stores b in every worker and publishes EntryCreated if at least one
// worker stored it.
func (c *Composite) Put(ctx context.Context, h *segment.Header, b *segment.Body) bool {
	stored := c.fanOut(ctx, func(ctx context.Context, w *Worker) bool {
		return w.Put(ctx, h, b)
	})
	if stored {
		c.bus.Publish(NewEvent(EntryCreated, h))
	}
	return stored
}

// Remove deletes h from every worker and publishes EntryDeleted if at least
// one worker held it.
func (c *Composite) Remove(ctx context.Context, h *segment.Header) bool {
	removed := c.fanOut(ctx, func(ctx context.Context, w *Worker) bool {
		return w.Remove(ctx, h)
	})
	if removed {
		c.bus.Publish(NewEvent(EntryDeleted, h))
	}
	return removed
}

// Contains reports whether any worker holds h.
func (c *Composite) Contains(ctx context.Context, h *segment.Header) bool {
	for _, w := range c.snapshot() {
		if w.Contains(ctx, h) {
			return true
		}
	}
	return false
}

// Headers returns the union of all workers' headers.
func (c *Composite) Headers(ctx context.Context) []*segment.Header {
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		out  []*segment.Header
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range c.snapshot() {
		g.Go(func() error {
			hs := w.Headers(gctx)
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hs {
				if _, dup := seen[h.Key()]; !dup {
					seen[h.Key()] = struct{}{}
					out = append(out, h)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close closes every worker and then the event bus, delivering queued events.
func (c *Composite) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	workers := c.workers
	c.workers = nil
	c.mu.Unlock()

	var result *multierror.Error
	for _, w := range workers {
		if err := w.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.bus.Close()
	return result.ErrorOrNil()
}

// fanOut runs op on every worker in parallel and reports whether any succeeded.
func (c *Composite) fanOut(ctx context.Context, op func(context.Context, *Worker) bool) bool {
	var ok atomic.Bool
	var g errgroup.Group
	for _, w := range c.snapshot() {
		g.Go(func() error {
			if op(ctx, w) {
				ok.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ok.Load()
}

func (c *Composite) evicted(from *Worker, h *segment.Header) {
	for _, w := range c.snapshot() {
		if w != from && w.Contains(context.Background(), h) {
			return
		}
	}
	c.bus.Publish(NewEvent(EntryDeleted, h))
	if fn := c.onEvict.Load(); fn != nil {
		(*fn)(h)
	}
}
