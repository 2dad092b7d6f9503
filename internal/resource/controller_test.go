package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	assert.Equal(t, int64(100), c.MemoryLimit())

	require.NoError(t, c.AcquireMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Limit exceeded
	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
}

func TestController_NilChecks(t *testing.T) {
	var c *Controller
	assert.NoError(t, c.AcquireMemory(10))
	assert.True(t, c.TryAcquireMemory(10))
	c.ReleaseMemory(10)
	assert.NoError(t, c.AcquireFetch(t.Context()))
	assert.True(t, c.TryAcquireFetch())
	c.ReleaseFetch()
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.InFlightFetches())
}

func TestController_Fetches(t *testing.T) {
	c := NewController(Config{MaxConcurrentFetches: 2})
	assert.Equal(t, int64(2), c.MaxConcurrentFetches())

	require.NoError(t, c.AcquireFetch(t.Context()))
	require.NoError(t, c.AcquireFetch(t.Context()))
	assert.Equal(t, int64(2), c.InFlightFetches())
	assert.False(t, c.TryAcquireFetch())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireFetch(ctx), context.DeadlineExceeded)

	c.ReleaseFetch()
	assert.True(t, c.TryAcquireFetch())
	assert.Equal(t, int64(2), c.InFlightFetches())
}

func TestController_DefaultFetches(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, int64(8), c.MaxConcurrentFetches())
}

func TestController_FetchRate(t *testing.T) {
	c := NewController(Config{FetchesPerSecond: 1, FetchBurst: 1})

	require.NoError(t, c.AcquireFetch(t.Context()))
	c.ReleaseFetch()

	// The bucket is empty; the next token arrives after a second.
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireFetch(ctx))
	assert.Zero(t, c.InFlightFetches())
}
