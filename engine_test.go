package olapcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapcache/blobstore"
	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/segment"
)

// yearRows answers every fetch with one row per year; the value is the
// year's index plus one, multiplied across constrained gender values.
type yearRows struct {
	axes []segment.Axis
	rows [][]int
	pos  int
}

func (r *yearRows) Axes() []segment.Axis { return r.axes }
func (r *yearRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}
func (r *yearRows) Row() ([]int, float64) { return r.rows[r.pos-1], float64(r.rows[r.pos-1][0] + 1) }
func (r *yearRows) Err() error            { return nil }
func (r *yearRows) Close() error          { return nil }

type testExecutor struct {
	calls atomic.Int32
	fail  error
}

func (e *testExecutor) Fetch(_ context.Context, spec FetchSpec) (RowSource, error) {
	e.calls.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	years := []string{"1997", "1998"}
	if c := spec.Constraints[0]; !c.IsWildcard() {
		years = c.Values
	}
	rows := &yearRows{axes: []segment.Axis{{Column: "year", Values: years}}}
	for i := range years {
		rows.rows = append(rows.rows, []int{i})
	}
	return rows, nil
}

type listener struct {
	mu     sync.Mutex
	counts map[EventType]int
}

func (l *listener) Handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[EventType]int)
	}
	l.counts[e.Type]++
}

func (l *listener) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[t]
}

func yearRequest(measure string, years ...string) Request {
	c := segment.Wildcard("year")
	if len(years) > 0 {
		c = segment.In("year", years...)
	}
	return Request{
		Schema:      "FoodMart",
		Cube:        "Sales",
		Measure:     measure,
		Aggregator:  segment.Sum,
		Constraints: []segment.ColumnConstraint{c},
	}
}

func TestEngine(t *testing.T) {
	t.Run("LoadAndFlush", func(t *testing.T) {
		exec := &testExecutor{}
		e, err := Open(t.Context(), exec)
		require.NoError(t, err)
		defer e.Close()

		l := &listener{}
		id := e.AddListener(l)

		segs, err := e.Load(t.Context(), yearRequest("unit_sales"), yearRequest("unit_sales", "1998"))
		require.NoError(t, err)
		require.Len(t, segs, 2)
		v, ok := segs[1].Value(map[string]string{"year": "1998"})
		require.True(t, ok)
		assert.Equal(t, 2.0, v)
		assert.Equal(t, int32(1), exec.calls.Load())

		stats := e.Stats()
		assert.Equal(t, 1, stats.ReadySegments)
		assert.Positive(t, stats.MemoryUsage)
		assert.Equal(t, []string{"memory"}, stats.Workers)

		n, err := e.Flush(t.Context(), Region{Cube: "Sales"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Zero(t, e.Stats().MemoryUsage)

		e.DrainEvents()
		assert.Equal(t, 1, l.count(EntryCreated))
		assert.Equal(t, 1, l.count(EntryDeleted))

		assert.True(t, e.RemoveListener(id))
		assert.False(t, e.RemoveListener(id))
	})

	t.Run("Peek", func(t *testing.T) {
		e, err := Open(t.Context(), &testExecutor{})
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Peek(t.Context(), yearRequest("unit_sales", "1997"))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = e.Load(t.Context(), yearRequest("unit_sales"))
		require.NoError(t, err)

		seg, err := e.Peek(t.Context(), yearRequest("unit_sales", "1997"))
		require.NoError(t, err)
		v, ok := seg.Value(map[string]string{"year": "1997"})
		require.True(t, ok)
		assert.Equal(t, 1.0, v)
	})

	t.Run("FetchFailed", func(t *testing.T) {
		cause := errors.New("relation does not exist")
		e, err := Open(t.Context(), &testExecutor{fail: cause})
		require.NoError(t, err)
		defer e.Close()

		segs, err := e.Load(t.Context(), yearRequest("unit_sales"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.ErrorIs(t, err, cause)
		assert.Nil(t, segs[0])

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "unit_sales", fe.Measure)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		e, err := Open(t.Context(), &testExecutor{})
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Load(t.Context(), Request{Cube: "Sales", Measure: "unit_sales"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.ErrorIs(t, err, segment.ErrMissingField)
	})

	t.Run("Closed", func(t *testing.T) {
		e, err := Open(t.Context(), &testExecutor{})
		require.NoError(t, err)
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())

		_, err = e.Load(t.Context(), yearRequest("unit_sales"))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = e.Flush(t.Context(), Region{})
		assert.ErrorIs(t, err, ErrClosed)
		_, err = e.Warm(t.Context())
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("NilExecutor", func(t *testing.T) {
		_, err := Open(t.Context(), nil)
		assert.Error(t, err)
	})
}

func TestEngineSharedBackend(t *testing.T) {
	store := blobstore.NewMemoryStore()
	reg := segment.NewRegistry()

	first := &testExecutor{}
	e1, err := Open(t.Context(), first,
		WithRegistry(reg),
		WithBackend("blob", cache.NewBlobCache(store, cache.WithBlobRegistry(reg))),
	)
	require.NoError(t, err)
	_, err = e1.Load(t.Context(), yearRequest("unit_sales"))
	require.NoError(t, err)
	require.NoError(t, e1.Close())
	assert.Equal(t, 1, store.Len())

	second := &testExecutor{}
	e2, err := Open(t.Context(), second,
		WithoutLocalCache(),
		WithBackend("blob", cache.NewBlobCache(store)),
		WithWarmStart(),
	)
	require.NoError(t, err)
	defer e2.Close()
	assert.Equal(t, 1, e2.Stats().ReadySegments)
	assert.Equal(t, []string{"blob"}, e2.Stats().Workers)

	segs, err := e2.Load(t.Context(), yearRequest("unit_sales", "1997"))
	require.NoError(t, err)
	v, ok := segs[0].Value(map[string]string{"year": "1997"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	assert.Zero(t, second.calls.Load())

	n, err := e2.Flush(t.Context(), Region{Schema: "FoodMart"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, store.Len())
}

func TestEngineOptions(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	collector := &BasicMetricsCollector{}

	e, err := Open(t.Context(), &testExecutor{},
		WithLogger(logger),
		WithMetricsCollector(collector),
		WithLocalCacheSize(1<<20),
		WithLocalCacheShards(4),
		WithMemoryLimit(1<<20),
		WithMaxConcurrentFetches(2),
		WithFetchRateLimit(1000, 10),
		WithMergePolicy(RowMultiplierPolicy{Multiplier: 0.5}),
		WithDenseThreshold(0),
		WithEventQueueCapacity(16),
	)
	require.NoError(t, err)

	segs, err := e.Load(t.Context(), yearRequest("unit_sales", "1997"), yearRequest("unit_sales", "1998"))
	require.NoError(t, err)
	assert.True(t, segs[0].Body().Dense())
	_, err = e.Flush(t.Context(), Region{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	stats := collector.Stats()
	assert.Equal(t, int64(1), stats.LoadCount)
	// A multiplier below 1 rejects the two-value cover.
	assert.Equal(t, int64(2), stats.LoadBatches)
	assert.Equal(t, int64(2), stats.EventsCreated)
	assert.Equal(t, int64(2), stats.EventsDeleted)

	assert.Contains(t, buf.String(), `"msg":"flush completed"`)
	assert.Contains(t, buf.String(), `"removed":2`)
}
