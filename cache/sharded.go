package cache

import (
	"context"
	"errors"
	"runtime"

	"github.com/hupe1980/olapcache/internal/resource"
	"github.com/hupe1980/olapcache/segment"
)

// ShardedMemoryCache is a sharded MemoryCache for high-concurrency workloads.
// Headers are assigned to shards by their xxhash, and the capacity is
// divided evenly across shards.
type ShardedMemoryCache struct {
	shards []*MemoryCache
}

var (
	_ SegmentCache     = (*ShardedMemoryCache)(nil)
	_ EvictionNotifier = (*ShardedMemoryCache)(nil)
)

// NewShardedMemoryCache creates a sharded cache. A non-positive shard count
// defaults to GOMAXPROCS.
func NewShardedMemoryCache(capacity int64, shards int, rc *resource.Controller) *ShardedMemoryCache {
	if shards <= 0 {
		shards = runtime.GOMAXPROCS(0)
	}
	shardCapacity := max(capacity/int64(shards), 1)

	s := &ShardedMemoryCache{shards: make([]*MemoryCache, shards)}
	for i := range s.shards {
		s.shards[i] = NewMemoryCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedMemoryCache) shard(h *segment.Header) *MemoryCache {
	return s.shards[h.Hash()%uint64(len(s.shards))]
}

// OnEvict registers fn on every shard.
func (s *ShardedMemoryCache) OnEvict(fn func(h *segment.Header)) {
	for _, sh := range s.shards {
		sh.OnEvict(fn)
	}
}

// Get returns a cached body.
func (s *ShardedMemoryCache) Get(ctx context.Context, h *segment.Header) (*segment.Body, error) {
	return s.shard(h).Get(ctx, h)
}

// Put caches a body.
func (s *ShardedMemoryCache) Put(ctx context.Context, h *segment.Header, b *segment.Body) error {
	return s.shard(h).Put(ctx, h, b)
}

// Remove deletes the entry for h.
func (s *ShardedMemoryCache) Remove(ctx context.Context, h *segment.Header) (bool, error) {
	return s.shard(h).Remove(ctx, h)
}

// Contains reports whether h is cached.
func (s *ShardedMemoryCache) Contains(ctx context.Context, h *segment.Header) (bool, error) {
	return s.shard(h).Contains(ctx, h)
}

// Headers returns the headers of all shards.
func (s *ShardedMemoryCache) Headers(ctx context.Context) ([]*segment.Header, error) {
	var out []*segment.Header
	for _, sh := range s.shards {
		hs, err := sh.Headers(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, hs...)
	}
	return out, nil
}

// Close closes all shards.
func (s *ShardedMemoryCache) Close() error {
	var errs []error
	for _, sh := range s.shards {
		errs = append(errs, sh.Close())
	}
	return errors.Join(errs...)
}

// Stats returns aggregated hit/miss statistics.
func (s *ShardedMemoryCache) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedMemoryCache) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}

// Len returns the number of entries across all shards.
func (s *ShardedMemoryCache) Len() int {
	var n int
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}
