package agg

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/segment"
)

var domain = map[string][]string{
	"gender": {"F", "M"},
	"state":  {"CA", "OR", "WA"},
	"year":   {"1997", "1998"},
}

type fact struct {
	coords map[string]string
	value  float64
}

// facts enumerates every gender/state/year combination with values 1..12.
func facts() []fact {
	var out []fact
	for _, g := range domain["gender"] {
		for _, s := range domain["state"] {
			for _, y := range domain["year"] {
				out = append(out, fact{
					coords: map[string]string{"gender": g, "state": s, "year": y},
					value:  float64(len(out) + 1),
				})
			}
		}
	}
	return out
}

// expected sums the facts that match every constraint in where.
func expected(where map[string]string) float64 {
	sum := 0.0
	for _, f := range facts() {
		ok := true
		for col, v := range where {
			if f.coords[col] != v {
				ok = false
				break
			}
		}
		if ok {
			sum += f.value
		}
	}
	return sum
}

type sliceRows struct {
	axes   []segment.Axis
	rows   [][]int
	values []float64
	pos    int
	closed bool
}

func (r *sliceRows) Axes() []segment.Axis { return r.axes }

func (r *sliceRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *sliceRows) Row() ([]int, float64) { return r.rows[r.pos-1], r.values[r.pos-1] }

func (r *sliceRows) Err() error { return nil }

func (r *sliceRows) Close() error {
	r.closed = true
	return nil
}

// scan answers spec from the fact table, one row per fact.
func scan(spec FetchSpec) *sliceRows {
	rows := &sliceRows{}
	lookup := make([]map[string]int, len(spec.Constraints))
	for i, c := range spec.Constraints {
		values := domain[c.Column]
		if !c.IsWildcard() {
			values = slices.DeleteFunc(slices.Clone(values), func(v string) bool { return !c.Contains(v) })
		}
		rows.axes = append(rows.axes, segment.Axis{Column: c.Column, Values: values})
		lookup[i] = make(map[string]int, len(values))
		for o, v := range values {
			lookup[i][v] = o
		}
	}

facts:
	for _, f := range facts() {
		ordinals := make([]int, len(spec.Constraints))
		for i, c := range spec.Constraints {
			o, ok := lookup[i][f.coords[c.Column]]
			if !ok {
				continue facts
			}
			ordinals[i] = o
		}
		rows.rows = append(rows.rows, ordinals)
		rows.values = append(rows.values, f.value)
	}
	return rows
}

// factExecutor serves fetches from the fact table. A non-nil gate blocks
// every fetch until it is closed.
type factExecutor struct {
	gate  chan struct{}
	calls atomic.Int32

	mu    sync.Mutex
	specs []FetchSpec
}

func (e *factExecutor) Fetch(ctx context.Context, spec FetchSpec) (RowSource, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.specs = append(e.specs, spec)
	e.mu.Unlock()

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return scan(spec), nil
}

func (e *factExecutor) fetched() []FetchSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.specs)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Fetch(ctx context.Context, spec FetchSpec) (RowSource, error) {
	args := m.Called(ctx, spec)
	switch v := args.Get(0).(type) {
	case func(context.Context, FetchSpec) RowSource:
		return v(ctx, spec), args.Error(1)
	case RowSource:
		return v, args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

// gatedCache holds Remove calls until gate is closed.
type gatedCache struct {
	cache.SegmentCache
	entered chan struct{}
	gate    chan struct{}
}

func newGatedCache(capacity int64) *gatedCache {
	return &gatedCache{
		SegmentCache: cache.NewMemoryCache(capacity, nil),
		entered:      make(chan struct{}, 1),
		gate:         make(chan struct{}),
	}
}

func (c *gatedCache) Remove(ctx context.Context, h *segment.Header) (bool, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.gate
	return c.SegmentCache.Remove(ctx, h)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []cache.Event
}

func (r *eventRecorder) Handle(e cache.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t cache.EventType) int {
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

func newTestManager(t *testing.T, exec Executor, capacity int64, opts ...Option) (*Manager, *cache.Composite, *eventRecorder) {
	t.Helper()

	c := cache.NewComposite()
	require.NoError(t, c.AddWorker(cache.NewWorker("memory", cache.NewMemoryCache(capacity, nil))))
	rec := &eventRecorder{}
	c.AddListener(rec)

	m := NewManager(segment.NewRegistry(), exec, c, opts...)
	t.Cleanup(func() {
		_ = m.Close()
		_ = c.Close()
	})
	return m, c, rec
}

func salesRequest(measure string, constraints ...segment.ColumnConstraint) Request {
	return Request{
		Schema:      "FoodMart",
		Cube:        "Sales",
		Measure:     measure,
		Aggregator:  segment.Sum,
		Constraints: constraints,
	}
}

func header(t *testing.T, reg *segment.Registry, r Request) *segment.Header {
	t.Helper()
	h, err := r.header(reg)
	require.NoError(t, err)
	return h
}
