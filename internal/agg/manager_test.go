package agg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/metrics"
	"github.com/hupe1980/olapcache/segment"
)

func TestLoad(t *testing.T) {
	exec := &factExecutor{}
	m, _, rec := newTestManager(t, exec, 1<<20)

	segs, err := m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender"), segment.In("year", "1997")))
	require.NoError(t, err)
	require.Len(t, segs, 1)

	for _, g := range domain["gender"] {
		v, ok := segs[0].Value(map[string]string{"gender": g, "year": "1997"})
		require.True(t, ok)
		assert.Equal(t, expected(map[string]string{"gender": g, "year": "1997"}), v)
	}
	_, ok := segs[0].Value(map[string]string{"gender": "F", "year": "1998"})
	assert.False(t, ok)

	m.Cache().Bus().Drain()
	assert.Equal(t, 1, rec.count(cache.EntryCreated))
	assert.Equal(t, Stats{Ready: 1}, m.Stats())
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestLoadConcurrentCallersShareOneFetch(t *testing.T) {
	exec := &factExecutor{gate: make(chan struct{})}
	m, _, rec := newTestManager(t, exec, 1<<20)
	req := salesRequest("unit_sales", segment.In("gender", "F", "M"))

	const callers = 16
	var wg sync.WaitGroup
	results := make([][]*segment.Segment, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Load(context.Background(), req)
		}()
	}

	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(exec.gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		v, ok := results[i][0].Value(map[string]string{"gender": "M"})
		require.True(t, ok)
		assert.Equal(t, expected(map[string]string{"gender": "M"}), v)
	}
	assert.Equal(t, int32(1), exec.calls.Load())

	m.Cache().Bus().Drain()
	assert.Equal(t, 1, rec.count(cache.EntryCreated))
}

func TestLoadMergesOverlappingRequests(t *testing.T) {
	exec := &factExecutor{}
	m, _, _ := newTestManager(t, exec, 1<<20)

	segs, err := m.Load(t.Context(),
		salesRequest("unit_sales", segment.In("state", "CA", "OR")),
		salesRequest("unit_sales", segment.In("state", "OR", "WA")),
	)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	specs := exec.fetched()
	require.Len(t, specs, 1)
	assert.Equal(t, []segment.ColumnConstraint{segment.In("state", "CA", "OR", "WA")}, specs[0].Constraints)

	v, ok := segs[0].Value(map[string]string{"state": "CA"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"state": "CA"}), v)
	_, ok = segs[0].Value(map[string]string{"state": "WA"})
	assert.False(t, ok)

	v, ok = segs[1].Value(map[string]string{"state": "WA"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"state": "WA"}), v)
}

func TestLoadDuplicateRequestsShareSegment(t *testing.T) {
	exec := &factExecutor{}
	m, _, _ := newTestManager(t, exec, 1<<20)
	req := salesRequest("unit_sales", segment.In("year", "1998"))

	segs, err := m.Load(t.Context(), req, req)
	require.NoError(t, err)
	assert.Same(t, segs[0], segs[1])
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestLoadSameHeaderAcrossDialects(t *testing.T) {
	exec := &factExecutor{}
	m, _, rec := newTestManager(t, exec, 1<<20)
	a := salesRequest("unit_sales", segment.In("year", "1998"))
	b := a
	b.Dialect = "postgres"

	segs, err := m.Load(t.Context(), a, b)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	want := expected(map[string]string{"year": "1998"})
	for _, seg := range segs {
		v, ok := seg.Value(map[string]string{"year": "1998"})
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	m.Cache().Bus().Drain()
	assert.Equal(t, 1, rec.count(cache.EntryCreated))
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestLoadServesSubsumedRequestFromReadySegment(t *testing.T) {
	exec := &factExecutor{}
	collector := &metrics.BasicCollector{}
	m, _, _ := newTestManager(t, exec, 1<<20, WithMetrics(collector))

	_, err := m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender"), segment.Wildcard("year")))
	require.NoError(t, err)

	segs, err := m.Load(t.Context(), salesRequest("unit_sales", segment.In("gender", "F")))
	require.NoError(t, err)
	assert.Equal(t, int32(1), exec.calls.Load())

	v, ok := segs[0].Value(map[string]string{"gender": "F"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"gender": "F"}), v)
	assert.Equal(t, []string{"gender"}, segs[0].Header().Columns())

	assert.Equal(t, int64(1), collector.Hits.Load())
	assert.Equal(t, int64(1), collector.Misses.Load())
	assert.Equal(t, int64(1), collector.FetchCount.Load())
}

func TestLoadDistinctCountDoesNotRollUp(t *testing.T) {
	exec := &factExecutor{}
	m, _, _ := newTestManager(t, exec, 1<<20)

	wide := salesRequest("customers", segment.Wildcard("gender"), segment.Wildcard("year"))
	wide.Aggregator = segment.DistinctCount
	narrow := salesRequest("customers", segment.Wildcard("gender"))
	narrow.Aggregator = segment.DistinctCount

	_, err := m.Load(t.Context(), wide)
	require.NoError(t, err)
	_, err = m.Load(t.Context(), narrow)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestLoadFetchErrorIsSharedAndNotCached(t *testing.T) {
	exec := &mockExecutor{}
	boom := errors.New("connection refused")
	exec.On("Fetch", mock.Anything, mock.Anything).Return(nil, boom).Once()
	exec.On("Fetch", mock.Anything, mock.Anything).Return(func(_ context.Context, spec FetchSpec) RowSource {
		return scan(spec)
	}, nil).Once()

	m, _, rec := newTestManager(t, exec, 1<<20)
	reqs := []Request{
		salesRequest("unit_sales", segment.In("state", "CA")),
		salesRequest("unit_sales", segment.In("state", "OR")),
	}

	segs, err := m.Load(t.Context(), reqs...)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, segs[0])
	assert.Nil(t, segs[1])

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Sales", fe.Cube)
	assert.Equal(t, "unit_sales", fe.Measure)
	assert.Contains(t, fe.Constraints, "state")
	assert.Equal(t, Stats{}, m.Stats())

	segs, err = m.Load(t.Context(), reqs...)
	require.NoError(t, err)
	assert.NotNil(t, segs[0])
	exec.AssertExpectations(t)

	m.Cache().Bus().Drain()
	assert.Equal(t, 1, rec.count(cache.EntryCreated))
}

func TestLoadFailureIsolatedToItsBatch(t *testing.T) {
	exec := ExecutorFunc(func(_ context.Context, spec FetchSpec) (RowSource, error) {
		if spec.Measure == "broken" {
			return nil, errors.New("no such column")
		}
		return scan(spec), nil
	})
	m, _, _ := newTestManager(t, exec, 1<<20)

	segs, err := m.Load(t.Context(),
		salesRequest("broken", segment.In("state", "CA")),
		salesRequest("unit_sales", segment.In("state", "CA")),
	)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Nil(t, segs[0])
	require.NotNil(t, segs[1])
	v, ok := segs[1].Value(map[string]string{"state": "CA"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"state": "CA"}), v)
}

func TestLoadCancellationDetachesWaiter(t *testing.T) {
	exec := &factExecutor{gate: make(chan struct{})}
	m, _, _ := newTestManager(t, exec, 1<<20)
	req := salesRequest("unit_sales", segment.In("year", "1997"))

	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan error, 1)
	go func() {
		_, err := m.Load(ctx, req)
		canceled <- err
	}()
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)

	other := make(chan []*segment.Segment, 1)
	go func() {
		segs, err := m.Load(context.Background(), req)
		assert.NoError(t, err)
		other <- segs
	}()

	cancel()
	select {
	case err := <-canceled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter did not return")
	}

	close(exec.gate)
	segs := <-other
	require.NotNil(t, segs[0])
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.Equal(t, Stats{Ready: 1}, m.Stats())
}

func TestLoadInvalidRequest(t *testing.T) {
	m, _, _ := newTestManager(t, &factExecutor{}, 1<<20)

	_, err := m.Load(t.Context(), Request{Schema: "FoodMart", Cube: "Sales"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, segment.ErrMissingField)

	_, err = m.Load(t.Context(), salesRequest("unit_sales", segment.In("gender", "F"), segment.In("gender", "M")))
	assert.ErrorIs(t, err, segment.ErrDuplicateColumn)
}

func TestLoadRefetchesAfterEviction(t *testing.T) {
	exec := &factExecutor{}

	// Size the cache for one body of this shape.
	sizing, _, _ := newTestManager(t, &factExecutor{}, 1<<20)
	segs, err := sizing.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("state")))
	require.NoError(t, err)
	size := segs[0].Body().SizeBytes()

	m, _, rec := newTestManager(t, exec, size+size/2)

	_, err = m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("state")))
	require.NoError(t, err)
	_, err = m.Load(t.Context(), salesRequest("store_sales", segment.Wildcard("state")))
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1}, m.Stats())

	_, err = m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("state")))
	require.NoError(t, err)
	assert.Equal(t, int32(3), exec.calls.Load())

	m.Cache().Bus().Drain()
	assert.Equal(t, 3, rec.count(cache.EntryCreated))
	assert.Equal(t, 2, rec.count(cache.EntryDeleted))
}

func TestLoadWithoutCacheWorkers(t *testing.T) {
	exec := &factExecutor{}
	c := cache.NewComposite()
	m := NewManager(segment.NewRegistry(), exec, c)
	t.Cleanup(func() {
		_ = m.Close()
		_ = c.Close()
	})
	req := salesRequest("unit_sales", segment.In("gender", "F"))

	for range 2 {
		segs, err := m.Load(t.Context(), req)
		require.NoError(t, err)
		require.NotNil(t, segs[0])
	}
	assert.Equal(t, int32(2), exec.calls.Load())
	assert.Equal(t, Stats{}, m.Stats())
}

func TestFlush(t *testing.T) {
	exec := &factExecutor{}
	m, _, rec := newTestManager(t, exec, 1<<20)

	segs, err := m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender")))
	require.NoError(t, err)
	h := segs[0].Header()
	require.True(t, m.Contains(t.Context(), h))

	removed, err := m.Flush(t.Context(), segment.Region{Schema: "FoodMart", Cube: "Sales"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, m.Contains(t.Context(), h))
	assert.Equal(t, Stats{}, m.Stats())

	m.Cache().Bus().Drain()
	assert.Equal(t, 1, rec.count(cache.EntryDeleted))

	_, err = m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender")))
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestFlushLeavesPendingLoads(t *testing.T) {
	gate := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, spec FetchSpec) (RowSource, error) {
		if spec.Measure == "slow" {
			<-gate
		}
		return scan(spec), nil
	})
	m, _, rec := newTestManager(t, exec, 1<<20)

	_, err := m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("year")))
	require.NoError(t, err)

	done := make(chan []*segment.Segment, 1)
	go func() {
		segs, err := m.Load(context.Background(), salesRequest("slow", segment.Wildcard("year")))
		assert.NoError(t, err)
		done <- segs
	}()
	require.Eventually(t, func() bool { return m.Stats().Pending == 1 }, time.Second, time.Millisecond)

	removed, err := m.Flush(t.Context(), segment.Region{Cube: "Sales"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, Stats{Pending: 1}, m.Stats())

	close(gate)
	segs := <-done
	require.NotNil(t, segs[0])
	assert.True(t, m.Contains(t.Context(), segs[0].Header()))
	assert.Equal(t, Stats{Ready: 1}, m.Stats())

	m.Cache().Bus().Drain()
	assert.Equal(t, 2, rec.count(cache.EntryCreated))
	assert.Equal(t, 1, rec.count(cache.EntryDeleted))
}

func TestFlushRefetchesForLoadStartedDuringFlush(t *testing.T) {
	exec := &factExecutor{}
	backend := newGatedCache(1 << 20)
	c := cache.NewComposite()
	require.NoError(t, c.AddWorker(cache.NewWorker("gated", backend)))
	rec := &eventRecorder{}
	c.AddListener(rec)
	m := NewManager(segment.NewRegistry(), exec, c)
	t.Cleanup(func() {
		_ = m.Close()
		_ = c.Close()
	})

	req := salesRequest("unit_sales", segment.Wildcard("year"))
	_, err := m.Load(t.Context(), req)
	require.NoError(t, err)
	require.Equal(t, int32(1), exec.calls.Load())

	flushed := make(chan int, 1)
	go func() {
		n, err := m.Flush(context.Background(), segment.Region{Cube: "Sales"})
		assert.NoError(t, err)
		flushed <- n
	}()
	<-backend.entered

	segs, err := m.Load(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, segs[0])
	assert.Equal(t, int32(2), exec.calls.Load())
	assert.Equal(t, Stats{Pending: 1}, m.Stats())

	v, ok := segs[0].Value(map[string]string{"year": "1997"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"year": "1997"}), v)

	close(backend.gate)
	assert.Equal(t, 1, <-flushed)

	h := header(t, m.Registry(), req)
	assert.True(t, m.Contains(t.Context(), h))
	assert.Equal(t, Stats{Ready: 1}, m.Stats())

	m.Cache().Bus().Drain()
	assert.Equal(t, 2, rec.count(cache.EntryCreated))
	assert.Equal(t, 1, rec.count(cache.EntryDeleted))

	_, err = m.Load(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestFlushRegion(t *testing.T) {
	m, _, _ := newTestManager(t, &factExecutor{}, 1<<20, WithMergePolicy(NoMerge{}))

	segs, err := m.Load(t.Context(),
		salesRequest("unit_sales", segment.In("state", "CA")),
		salesRequest("unit_sales", segment.In("state", "WA")),
		salesRequest("unit_sales", segment.In("year", "1997")),
		salesRequest("store_sales", segment.In("state", "CA")),
	)
	require.NoError(t, err)

	removed, err := m.Flush(t.Context(), segment.Region{
		Cube:        "Sales",
		Measures:    []string{"unit_sales"},
		Constraints: []segment.ColumnConstraint{segment.In("state", "CA")},
	})
	require.NoError(t, err)
	// {state:[CA]} and {year:[1997]}, which aggregates over every state.
	assert.Equal(t, 2, removed)

	assert.False(t, m.Contains(t.Context(), segs[0].Header()))
	assert.True(t, m.Contains(t.Context(), segs[1].Header()))
	assert.False(t, m.Contains(t.Context(), segs[2].Header()))
	assert.True(t, m.Contains(t.Context(), segs[3].Header()))
	assert.Equal(t, Stats{Ready: 2}, m.Stats())
}

func TestWarm(t *testing.T) {
	mc := cache.NewMemoryCache(1<<20, nil)

	first := cache.NewComposite()
	require.NoError(t, first.AddWorker(cache.NewWorker("memory", mc)))
	t.Cleanup(first.Bus().Close)
	seed := NewManager(segment.NewRegistry(), &factExecutor{}, first)
	_, err := seed.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender"), segment.Wildcard("state")))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	// A fresh registry assigns different fingerprint positions.
	reg := segment.NewRegistry()
	reg.Position("year")
	exec := &factExecutor{}
	second := cache.NewComposite()
	require.NoError(t, second.AddWorker(cache.NewWorker("memory", mc)))
	m := NewManager(reg, exec, second)
	t.Cleanup(func() {
		_ = m.Close()
		_ = second.Close()
	})

	n, err := m.Warm(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Stats{Ready: 1}, m.Stats())

	segs, err := m.Load(t.Context(), salesRequest("unit_sales", segment.In("state", "OR")))
	require.NoError(t, err)
	assert.Equal(t, int32(0), exec.calls.Load())
	v, ok := segs[0].Value(map[string]string{"state": "OR"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"state": "OR"}), v)

	n, err = m.Warm(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadUsesRemoteHit(t *testing.T) {
	mc := cache.NewMemoryCache(1<<20, nil)
	seedCache := cache.NewComposite()
	require.NoError(t, seedCache.AddWorker(cache.NewWorker("shared", mc)))
	t.Cleanup(seedCache.Bus().Close)
	seed := NewManager(segment.NewRegistry(), &factExecutor{}, seedCache)
	req := salesRequest("unit_sales", segment.In("gender", "F", "M"))
	_, err := seed.Load(t.Context(), req)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	exec := &factExecutor{}
	collector := &metrics.BasicCollector{}
	c := cache.NewComposite()
	require.NoError(t, c.AddWorker(cache.NewWorker("shared", mc)))
	m := NewManager(segment.NewRegistry(), exec, c, WithMetrics(collector))
	t.Cleanup(func() {
		_ = m.Close()
		_ = c.Close()
	})

	segs, err := m.Load(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, segs[0])
	assert.Zero(t, exec.calls.Load())
	assert.Equal(t, int64(1), collector.Remote.Load())
	assert.Equal(t, Stats{Ready: 1}, m.Stats())
}

func TestClosed(t *testing.T) {
	m, _, _ := newTestManager(t, &factExecutor{}, 1<<20)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Load(t.Context(), salesRequest("unit_sales"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Flush(t.Context(), segment.Region{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Warm(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseFailsRunningLoads(t *testing.T) {
	exec := &factExecutor{gate: make(chan struct{})}
	m, _, _ := newTestManager(t, exec, 1<<20)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Load(context.Background(), salesRequest("unit_sales"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	err := <-errc
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPeek(t *testing.T) {
	exec := &factExecutor{}
	m, _, _ := newTestManager(t, exec, 1<<20)
	req := salesRequest("unit_sales", segment.In("gender", "F"))

	_, err := m.Peek(t.Context(), req)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Load(t.Context(), salesRequest("unit_sales", segment.Wildcard("gender")))
	require.NoError(t, err)

	seg, err := m.Peek(t.Context(), req)
	require.NoError(t, err)
	v, ok := seg.Value(map[string]string{"gender": "F"})
	require.True(t, ok)
	assert.Equal(t, expected(map[string]string{"gender": "F"}), v)
	assert.Equal(t, int32(1), exec.calls.Load())
}
