package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedLimiter(rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newMemoryLimiter(rate, burst, clock.Now), clock
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newClockedLimiter(2, 3)
	ctx := context.Background()

	for i := range 3 {
		ok, wait, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d is within burst", i)
		assert.Zero(t, wait)
	}

	ok, wait, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait, "one token at 2/s")
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clock := newClockedLimiter(1, 2)
	ctx := context.Background()

	for range 2 {
		ok, _, _ := m.Allow(ctx, "k1")
		require.True(t, ok)
	}
	ok, _, _ := m.Allow(ctx, "k1")
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, _, _ = m.Allow(ctx, "k1")
	assert.True(t, ok, "one token refilled after a second")

	// Refill never exceeds burst.
	clock.Advance(time.Hour)
	for range 2 {
		ok, _, _ = m.Allow(ctx, "k1")
		assert.True(t, ok)
	}
	ok, _, _ = m.Allow(ctx, "k1")
	assert.False(t, ok)
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newClockedLimiter(1, 1)
	ctx := context.Background()

	ok, _, _ := m.Allow(ctx, "a")
	require.True(t, ok)
	ok, _, _ = m.Allow(ctx, "a")
	require.False(t, ok)

	ok, _, _ = m.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newClockedLimiter(1, 50)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := m.Allow(ctx, "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load(), "clock is frozen so exactly burst requests pass")
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m, clock := newClockedLimiter(1, 1)
	ctx := context.Background()

	_, _, _ = m.Allow(ctx, "old")
	clock.Advance(staleThreshold + time.Second)
	_, _, _ = m.Allow(ctx, "fresh")

	m.evictStale()
	assert.Equal(t, 1, m.size())
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
