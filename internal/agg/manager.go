package agg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/internal/resource"
	"github.com/hupe1980/olapcache/metrics"
	"github.com/hupe1980/olapcache/segment"
)

// maxResolveRounds bounds how often a request is re-resolved after its
// READY segment turned out to be gone from every cache.
const maxResolveRounds = 4

// Stats is a snapshot of the manager index.
type Stats struct {
	Ready   int
	Pending int
}

// Manager batches requests into loads and serves them from the cache.
type Manager struct {
	reg         *segment.Registry
	exec        Executor
	cache       *cache.Composite
	policy      MergePolicy
	rc          *resource.Controller
	logger      *slog.Logger
	metrics     metrics.Collector
	builderOpts []segment.BuilderOption

	pool   *loaderPool
	stop   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	idx       *index
	flushes   map[*flushRun]struct{}
	flushDone *sync.Cond
	closed    bool
}

// flushRun is a flush whose cache removals are in progress. Loads whose
// cover overlaps it neither read the cache nor put until it ends, and the
// flush waits for those puts before it returns.
type flushRun struct {
	region segment.Region
	held   sync.WaitGroup
}

// NewManager returns a manager that fetches through exec and stores
// segments in c. It subscribes to c's evictions.
func NewManager(reg *segment.Registry, exec Executor, c *cache.Composite, opts ...Option) *Manager {
	o := applyOptions(opts)
	stop, cancel := context.WithCancel(context.Background())
	m := &Manager{
		reg:         reg,
		exec:        exec,
		cache:       c,
		policy:      o.policy,
		rc:          o.rc,
		logger:      o.logger,
		metrics:     o.metrics,
		builderOpts: o.builderOpts,
		pool:        newLoaderPool(o.loadWorkers),
		stop:        stop,
		cancel:      cancel,
		idx:         newIndex(),
		flushes:     make(map[*flushRun]struct{}),
	}
	m.flushDone = sync.NewCond(&m.mu)
	c.OnEvict(m.evicted)
	return m
}

// Registry returns the column registry used for headers.
func (m *Manager) Registry() *segment.Registry { return m.reg }

// Cache returns the composite cache.
func (m *Manager) Cache() *cache.Composite { return m.cache }

// wait is how one target will be answered.
type wait struct {
	target  *target
	outcome string
	ready   *segment.Header // READY segment to read from the cache
	load    *pending        // load to wait for
}

// Load returns one segment per request, in request order.
//
// Segments of failed loads are nil and the returned error carries one
// *FetchError per failed load. If ctx ends first Load returns ctx.Err();
// the loads it started keep running for other waiters.
func (m *Manager) Load(ctx context.Context, reqs ...Request) ([]*segment.Segment, error) {
	start := time.Now()

	targets, err := m.targets(reqs)
	if err != nil {
		return nil, err
	}

	out := make([]*segment.Segment, len(reqs))
	errs := make([]error, len(reqs))
	batches := 0
	for round := 0; len(targets) > 0; round++ {
		if round == maxResolveRounds {
			return nil, fmt.Errorf("agg: %d requests kept missing from cache", len(targets))
		}

		waits, bs, err := m.resolve(targets)
		if err != nil {
			return nil, err
		}
		batches += len(bs)
		m.start(ctx, bs)

		var retry []*target
		for _, w := range waits {
			m.metrics.RecordLookup(w.outcome)

			seg, stale, err := m.await(ctx, w)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if stale {
				retry = append(retry, w.target)
				continue
			}
			for _, slot := range w.target.slots {
				out[slot] = seg
				errs[slot] = err
			}
		}
		targets = retry
	}

	err = joinErrors(errs)
	m.metrics.RecordLoad(len(reqs), batches, time.Since(start), err)
	return out, err
}

// Peek answers r from a READY segment without fetching.
func (m *Manager) Peek(ctx context.Context, r Request) (*segment.Segment, error) {
	h, err := r.header(m.reg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	var ready *segment.Header
	if e := m.idx.find(h); e != nil && e.state == stateReady {
		ready = e.header
	}
	m.mu.Unlock()

	if ready == nil {
		return nil, ErrNotFound
	}
	seg, stale, err := m.await(ctx, wait{target: &target{header: h}, ready: ready})
	if stale {
		return nil, ErrNotFound
	}
	return seg, err
}

// targets deduplicates requests by header and dialect.
func (m *Manager) targets(reqs []Request) ([]*target, error) {
	var (
		out  []*target
		seen = make(map[string]*target, len(reqs))
	)
	for i, r := range reqs {
		h, err := r.header(m.reg)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		k := h.Key() + "\x00" + r.Dialect
		if t, ok := seen[k]; ok {
			t.slots = append(t.slots, i)
			continue
		}
		t := &target{header: h, dialect: r.Dialect, slots: []int{i}}
		seen[k] = t
		out = append(out, t)
	}
	return out, nil
}

// resolve probes the index and registers PENDING entries for the misses
// in one critical section.
func (m *Manager) resolve(targets []*target) ([]wait, []*batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}

	waits := make([]wait, 0, len(targets))
	var misses []*target
	for _, t := range targets {
		e := m.idx.find(t.header)
		switch {
		case e == nil:
			misses = append(misses, t)
		case e.state == stateReady:
			waits = append(waits, wait{target: t, outcome: metrics.LookupHit, ready: e.header})
		default:
			waits = append(waits, wait{target: t, outcome: metrics.LookupJoined, load: e.load})
		}
	}

	var started []*batch
	for _, b := range plan(m.reg, m.policy, misses) {
		// Batches of another dialect may share a cover registered above.
		if e := m.idx.get(b.cover.Key()); e != nil {
			for _, t := range b.members {
				w := wait{target: t, outcome: metrics.LookupJoined, load: e.load}
				if e.state == stateReady {
					w = wait{target: t, outcome: metrics.LookupHit, ready: e.header}
				}
				waits = append(waits, w)
			}
			continue
		}
		b.load = newPending()
		e := &entry{
			family: familyOf(b.cover),
			key:    b.cover.Key(),
			header: b.cover,
			state:  statePending,
			load:   b.load,
		}
		if !m.idx.insert(e) {
			panic(fmt.Errorf("%w: unmatched cover %s already indexed", ErrInvariantViolation, b.cover))
		}
		for _, t := range b.members {
			waits = append(waits, wait{target: t, outcome: metrics.LookupMiss, load: b.load})
		}
		started = append(started, b)
	}
	return waits, started, nil
}

// start submits one load per batch. Loads are detached from ctx
// cancellation but stop when the manager closes.
func (m *Manager) start(ctx context.Context, batches []*batch) {
	for _, b := range batches {
		lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(m.stop, cancel)
		task := func() {
			defer cancel()
			defer stop()
			m.load(lctx, b)
		}
		if err := m.pool.Submit(m.stop, task); err != nil {
			stop()
			cancel()
			m.finish(b, nil, false, err)
		}
	}
}

func (m *Manager) await(ctx context.Context, w wait) (*segment.Segment, bool, error) {
	if w.ready != nil {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		body, ok := m.cache.Get(ctx, w.ready)
		if !ok {
			m.forget(w.ready)
			return nil, true, nil
		}
		seg, err := segment.New(w.ready, body)
		if err != nil {
			m.logger.Warn("cached body does not fit header", "header", w.ready.String(), "error", err)
			m.forget(w.ready)
			return nil, true, nil
		}
		return m.slice(seg, w.target.header)
	}

	select {
	case <-w.load.done:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if w.load.err != nil {
		return nil, false, w.load.err
	}
	return m.slice(w.load.seg, w.target.header)
}

func (m *Manager) slice(seg *segment.Segment, h *segment.Header) (*segment.Segment, bool, error) {
	out, err := seg.Slice(h, m.builderOpts...)
	if err != nil {
		return nil, false, err
	}
	return out, false, nil
}

func (m *Manager) load(ctx context.Context, b *batch) {
	start := time.Now()
	seg, remote, err := m.materialize(ctx, b)
	if err != nil {
		m.finish(b, nil, false, err)
		m.logger.Warn("segment load failed",
			"header", b.cover.String(), "requests", len(b.members), "error", err)
		return
	}

	cached := remote
	var held []*flushRun
	if !remote {
		held = m.awaitFlushes(b, seg)
		cached = m.cache.Put(ctx, b.cover, seg.Body())
	}
	m.finish(b, seg, cached, nil)
	for _, f := range held {
		f.held.Done()
	}

	m.logger.Debug("segment loaded",
		"header", b.cover.String(), "requests", len(b.members),
		"cells", seg.Body().Len(), "cached", cached, "duration", time.Since(start))
}

// materialize reads the cover from the cache or fetches it. remote reports
// whether the segment came from a cache worker.
func (m *Manager) materialize(ctx context.Context, b *batch) (*segment.Segment, bool, error) {
	m.mu.Lock()
	flushing := m.flushing(b.cover)
	m.mu.Unlock()

	// A body read while an overlapping flush runs may be one it removes.
	if !flushing {
		if body, ok := m.cache.Get(ctx, b.cover); ok {
			seg, err := segment.New(b.cover, body)
			if err == nil {
				m.metrics.RecordLookup(metrics.LookupRemote)
				return seg, true, nil
			}
			m.logger.Warn("cached body does not fit header", "header", b.cover.String(), "error", err)
		}
	}

	seg, err := m.fetch(ctx, b)
	if err != nil {
		return nil, false, err
	}
	return seg, false, nil
}

// flushing reports whether an active flush overlaps h. m.mu must be held.
func (m *Manager) flushing(h *segment.Header) bool {
	for f := range m.flushes {
		if h.Overlaps(m.reg, f.region) {
			return true
		}
	}
	return false
}

// awaitFlushes blocks until no active flush overlaps the cover of b. The
// waiters get seg as soon as the load has to wait. The returned flushes
// wait for the caller to release them once the segment is stored.
func (m *Manager) awaitFlushes(b *batch, seg *segment.Segment) []*flushRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	var held []*flushRun
	for {
		blocked := false
		for f := range m.flushes {
			if !b.cover.Overlaps(m.reg, f.region) {
				continue
			}
			blocked = true
			if !slices.Contains(held, f) {
				f.held.Add(1)
				held = append(held, f)
			}
		}
		if !blocked {
			return held
		}
		b.load.publish(seg, nil)
		m.flushDone.Wait()
	}
}

func (m *Manager) fetch(ctx context.Context, b *batch) (seg *segment.Segment, err error) {
	if err := m.rc.AcquireFetch(ctx); err != nil {
		return nil, err
	}
	defer m.rc.ReleaseFetch()

	start := time.Now()
	cells := 0
	defer func() {
		m.metrics.RecordFetch(cells, time.Since(start), err)
	}()

	h := b.cover
	rows, err := m.exec.Fetch(ctx, FetchSpec{
		Schema:             h.Schema(),
		Cube:               h.Cube(),
		Measure:            h.Measure(),
		Aggregator:         h.Aggregator(),
		Dialect:            b.dialect,
		Columns:            h.Columns(),
		Constraints:        h.Constraints(),
		CompoundPredicates: h.CompoundPredicates(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			seg, err = nil, cerr
		}
	}()

	builder, err := segment.NewBuilder(h.Aggregator(), rows.Axes(), m.builderOpts...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		ordinals, v := rows.Row()
		if err := builder.Add(ordinals, v); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	cells = builder.Len()
	return segment.New(h, builder.Build())
}

// finish settles the index entry of a load and wakes its waiters.
func (m *Manager) finish(b *batch, seg *segment.Segment, cached bool, err error) {
	if err != nil {
		seg, err = nil, newFetchError(b.cover, err)
	}

	m.mu.Lock()
	if e := m.idx.get(b.cover.Key()); e != nil && e.load == b.load {
		if err == nil && cached {
			m.idx.markReady(e)
		} else {
			m.idx.remove(e)
		}
	}
	m.mu.Unlock()

	b.load.publish(seg, err)
}

// forget drops a READY entry whose body no cache holds anymore.
func (m *Manager) forget(h *segment.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.idx.get(h.Key()); e != nil && e.state == stateReady && e.header == h {
		m.idx.remove(e)
	}
}

func (m *Manager) evicted(h *segment.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.idx.get(h.Key()); e != nil && e.state == stateReady {
		m.idx.remove(e)
	}
}

// Flush removes every READY segment that may hold a cell of r from the
// index and from every cache worker. PENDING loads are left alone; their
// segments become READY and can be flushed later. A load overlapping r that
// starts while the flush runs fetches fresh cells and stores them after the
// flush removed the old ones.
func (m *Manager) Flush(ctx context.Context, r segment.Region) (int, error) {
	start := time.Now()

	run := &flushRun{region: r}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	victims := m.idx.removeReady(m.reg, r)
	m.flushes[run] = struct{}{}
	m.mu.Unlock()
	defer m.endFlush(run)

	seen := make(map[string]struct{}, len(victims))
	for _, h := range victims {
		seen[h.Key()] = struct{}{}
	}
	for _, h := range m.cache.Headers(ctx) {
		if _, ok := seen[h.Key()]; ok {
			continue
		}
		local, err := m.rebase(h)
		if err != nil {
			m.logger.Warn("skipping cached header", "header", h.String(), "error", err)
			continue
		}
		if local.Overlaps(m.reg, r) {
			seen[h.Key()] = struct{}{}
			victims = append(victims, local)
		}
	}

	removed := 0
	for _, h := range victims {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if m.cache.Remove(ctx, h) {
			removed++
		}
	}

	m.metrics.RecordFlush(removed, time.Since(start))
	m.logger.Info("flushed segments", "region", r.String(), "removed", removed, "duration", time.Since(start))
	return removed, nil
}

// endFlush lets loads held by run store their segments and waits until
// they did.
func (m *Manager) endFlush(run *flushRun) {
	m.mu.Lock()
	delete(m.flushes, run)
	m.flushDone.Broadcast()
	m.mu.Unlock()

	run.held.Wait()
}

// Warm indexes every segment the cache workers already hold and returns
// how many were added.
func (m *Manager) Warm(ctx context.Context) (int, error) {
	hs := m.cache.Headers(ctx)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries := make([]*entry, 0, len(hs))
	for _, h := range hs {
		local, err := m.rebase(h)
		if err != nil {
			m.logger.Warn("skipping cached header", "header", h.String(), "error", err)
			continue
		}
		entries = append(entries, &entry{
			family: familyOf(local),
			key:    local.Key(),
			header: local,
			state:  stateReady,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, e := range entries {
		if m.idx.insert(e) {
			n++
		}
	}
	m.logger.Info("warmed segment index", "headers", len(hs), "added", n)
	return n, nil
}

// rebase rebuilds h against the manager's registry. Backends decode
// headers with their own registry, so fingerprints are not comparable.
func (m *Manager) rebase(h *segment.Header) (*segment.Header, error) {
	return segment.NewHeader(m.reg, h.Spec())
}

// Contains reports whether any cache worker holds h.
func (m *Manager) Contains(ctx context.Context, h *segment.Header) bool {
	return m.cache.Contains(ctx, h)
}

// Stats returns the number of READY and PENDING index entries.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{Ready: m.idx.ready, Pending: m.idx.len() - m.idx.ready}
}

// Close stops new loads, cancels running ones and waits for them. The
// composite cache is not closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.pool.Close()
	return nil
}

// joinErrors joins the errors in errs. A load shared by several requests
// contributes one error.
func joinErrors(errs []error) error {
	var (
		uniq []error
		seen = make(map[*FetchError]struct{})
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		if fe, ok := err.(*FetchError); ok {
			if _, dup := seen[fe]; dup {
				continue
			}
			seen[fe] = struct{}{}
		}
		uniq = append(uniq, err)
	}
	switch len(uniq) {
	case 0:
		return nil
	case 1:
		return uniq[0]
	default:
		return errors.Join(uniq...)
	}
}
