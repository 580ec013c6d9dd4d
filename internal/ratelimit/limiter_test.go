package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/verdant/internal/models"
)

// fakeClock advances only when told to. After returns a channel that fires
// once the clock passes the deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if d <= 0 {
		ch <- deadline
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

func defaults() models.RateLimitConfig {
	return models.RateLimitConfig{Calls: 2, Period: models.Duration(time.Second)}
}

func TestAcquireWithinBudgetDoesNotBlock(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))
}

func TestAcquireBlocksWhenWindowFull(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))

	released := make(chan error, 1)
	go func() {
		released <- limiter.Acquire(ctx, "src")
	}()

	select {
	case <-released:
		t.Fatal("third acquisition should block until the window slides")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)

	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition did not unblock after the window slid")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)

	require.NoError(t, limiter.Acquire(context.Background(), "src"))
	require.NoError(t, limiter.Acquire(context.Background(), "src"))

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- limiter.Acquire(ctx, "src")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-released:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquisition ignored cancellation")
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "a"))
	require.NoError(t, limiter.Acquire(ctx, "a"))

	// A full window for one source must not affect another.
	require.NoError(t, limiter.Acquire(ctx, "b"))
	require.NoError(t, limiter.Acquire(ctx, "b"))
}

func TestConfigurePerSourceBudget(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)
	limiter.Configure("wide", models.RateLimitConfig{Calls: 5, Period: models.Duration(time.Second)})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Acquire(ctx, "wide"))
	}
}

func TestReconfigureSameBudgetKeepsWindowState(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)
	budget := models.RateLimitConfig{Calls: 2, Period: models.Duration(time.Second)}
	limiter.Configure("src", budget)

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))

	// A second run starting back-to-back reconfigures the same budget; the
	// acquisitions just made must still count against the rolling window.
	limiter.Configure("src", budget)

	released := make(chan error, 1)
	go func() { released <- limiter.Acquire(ctx, "src") }()
	select {
	case <-released:
		t.Fatal("reconfiguration with an unchanged budget must not reset the window")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	require.NoError(t, <-released)

	// A changed budget does reset the window.
	limiter.Configure("src", models.RateLimitConfig{Calls: 3, Period: models.Duration(time.Second)})
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))
}

func TestConfigureInvalidFallsBackToDefaults(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)
	limiter.Configure("src", models.RateLimitConfig{Calls: 0})

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "src"))
	require.NoError(t, limiter.Acquire(ctx, "src"))

	done := make(chan error, 1)
	go func() { done <- limiter.Acquire(ctx, "src") }()
	select {
	case <-done:
		t.Fatal("default budget of two calls should be enforced")
	case <-time.After(50 * time.Millisecond):
	}
	clock.Advance(time.Second)
	require.NoError(t, <-done)
}

func TestWindowSlidesIncrementally(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiterWithClock(defaults(), clock)

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, "src"))
	clock.Advance(600 * time.Millisecond)
	require.NoError(t, limiter.Acquire(ctx, "src"))

	// First stamp expires at 1s; after that one slot frees up.
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, limiter.Acquire(ctx, "src"))
}
