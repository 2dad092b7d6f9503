package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/olapcache/internal/resource"
	"github.com/hupe1980/olapcache/segment"
)

// MemoryCache is an in-process SegmentCache with LRU eviction.
//
// Capacity is measured in body bytes (segment.Body.SizeBytes). If a resource
// controller is set, cached bytes are also accounted against its memory
// budget and entries are evicted to make room under it.
type MemoryCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List
	rc        *resource.Controller
	onEvict   func(*segment.Header)
	closed    bool

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	header *segment.Header
	body   *segment.Body
	size   int64
}

var (
	_ SegmentCache     = (*MemoryCache)(nil)
	_ EvictionNotifier = (*MemoryCache)(nil)
)

// NewMemoryCache creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it will be used to track memory usage.
func NewMemoryCache(capacity int64, rc *resource.Controller) *MemoryCache {
	return &MemoryCache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// OnEvict registers the eviction callback. Entries removed through Remove
// are not reported.
func (c *MemoryCache) OnEvict(fn func(h *segment.Header)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns a cached body.
func (c *MemoryCache) Get(_ context.Context, h *segment.Header) (*segment.Body, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if ent, ok := c.items[h.Key()]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).body, nil
	}
	c.misses.Add(1)
	return nil, ErrNotFound
}

// Put caches a body.
func (c *MemoryCache) Put(_ context.Context, h *segment.Header, b *segment.Body) error {
	evicted, err := c.put(h, b)
	c.notify(evicted)
	return err
}

func (c *MemoryCache) put(h *segment.Header, b *segment.Body) ([]*segment.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	itemSize := b.SizeBytes()
	if itemSize > c.capacity {
		return nil, fmt.Errorf("%w: %d bytes exceed capacity %d", ErrRejected, itemSize, c.capacity)
	}

	// Replace in place; the new body is accounted below. A rejected
	// replacement leaves the old entry evicted.
	var replaced *segment.Header
	if ent, ok := c.items[h.Key()]; ok {
		replaced = ent.Value.(*entry).header
		c.removeElement(ent)
	}

	// Evict to make space in local capacity first.
	var evicted []*segment.Header
	for c.size+itemSize > c.capacity {
		evicted = append(evicted, c.evictOldest())
	}

	// Then make room under the global budget.
	for !c.rc.TryAcquireMemory(itemSize) {
		if c.evictList.Len() == 0 {
			if replaced != nil {
				evicted = append(evicted, replaced)
			}
			return evicted, fmt.Errorf("%w: %w", ErrRejected, resource.ErrMemoryLimitExceeded)
		}
		evicted = append(evicted, c.evictOldest())
	}

	e := &entry{header: h, body: b, size: itemSize}
	c.items[h.Key()] = c.evictList.PushFront(e)
	c.size += itemSize
	return evicted, nil
}

// Remove deletes the entry for h.
func (c *MemoryCache) Remove(_ context.Context, h *segment.Header) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	ent, ok := c.items[h.Key()]
	if !ok {
		return false, nil
	}
	c.removeElement(ent)
	return true, nil
}

// Contains reports whether h is cached. It does not touch the LRU order.
func (c *MemoryCache) Contains(_ context.Context, h *segment.Header) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	_, ok := c.items[h.Key()]
	return ok, nil
}

// Headers returns the cached headers, most recently used first.
func (c *MemoryCache) Headers(_ context.Context) ([]*segment.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	out := make([]*segment.Header, 0, c.evictList.Len())
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*entry).header)
	}
	return out, nil
}

// Close drops all entries and releases their memory.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
	return nil
}

// Stats returns hit and miss counts.
func (c *MemoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current size of the cache in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *MemoryCache) evictOldest() *segment.Header {
	ent := c.evictList.Back()
	c.removeElement(ent)
	return ent.Value.(*entry).header
}

func (c *MemoryCache) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.header.Key())
	c.size -= kv.size
	c.rc.ReleaseMemory(kv.size)
}

func (c *MemoryCache) notify(evicted []*segment.Header) {
	if len(evicted) == 0 {
		return
	}
	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, h := range evicted {
		fn(h)
	}
}
