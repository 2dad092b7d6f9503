package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapcache/segment"
)

var errBackend = errors.New("backend down")

// testEntry returns a header for measure over gender=[F,M] and a body
// with one value per gender.
func testEntry(t *testing.T, reg *segment.Registry, measure string) (*segment.Header, *segment.Body) {
	t.Helper()
	h, err := segment.NewHeader(reg, segment.HeaderSpec{
		Schema:      "FoodMart",
		Cube:        "Sales",
		Measure:     measure,
		Aggregator:  segment.Sum,
		Constraints: []segment.ColumnConstraint{segment.In("gender", "F", "M")},
	})
	require.NoError(t, err)

	b, err := segment.NewBuilder(segment.Sum, []segment.Axis{{Column: "gender", Values: []string{"F", "M"}}})
	require.NoError(t, err)
	require.NoError(t, b.Add([]int{0}, 1))
	require.NoError(t, b.Add([]int{1}, 2))
	return h, b.Build()
}

// flakyCache is a MemoryCache whose operations can be made to fail.
type flakyCache struct {
	*MemoryCache

	mu      sync.Mutex
	failGet bool
	failPut bool
	failAll bool
}

func newFlakyCache() *flakyCache {
	return &flakyCache{MemoryCache: NewMemoryCache(1<<20, nil)}
}

func (f *flakyCache) set(get, put, all bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet, f.failPut, f.failAll = get, put, all
}

func (f *flakyCache) fail(get, put bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failAll || (get && f.failGet) || (put && f.failPut)
}

func (f *flakyCache) Get(ctx context.Context, h *segment.Header) (*segment.Body, error) {
	if f.fail(true, false) {
		return nil, errBackend
	}
	return f.MemoryCache.Get(ctx, h)
}

func (f *flakyCache) Put(ctx context.Context, h *segment.Header, b *segment.Body) error {
	if f.fail(false, true) {
		return errBackend
	}
	return f.MemoryCache.Put(ctx, h, b)
}

func (f *flakyCache) Remove(ctx context.Context, h *segment.Header) (bool, error) {
	if f.fail(false, false) {
		return false, errBackend
	}
	return f.MemoryCache.Remove(ctx, h)
}

func (f *flakyCache) Contains(ctx context.Context, h *segment.Header) (bool, error) {
	if f.fail(false, false) {
		return false, errBackend
	}
	return f.MemoryCache.Contains(ctx, h)
}

func (f *flakyCache) Close() error {
	_ = f.MemoryCache.Close()
	if f.fail(false, false) {
		return errBackend
	}
	return nil
}

// eventRecorder collects events delivered by a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
