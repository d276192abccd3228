package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewTokenBucket_InvalidConfig(t *testing.T) {
	_, err := NewTokenBucket(TokenBucketConfig{Capacity: 0, RefillPeriod: time.Second})
	assert.EqualError(t, err, "capacity must be greater than 0")

	_, err = NewTokenBucket(TokenBucketConfig{Capacity: 1})
	assert.EqualError(t, err, "refill period must be greater than 0")
}

func TestTokenBucket_Allow(t *testing.T) {
	clk := newClock()
	tb, err := NewTokenBucket(TokenBucketConfig{Capacity: 3, RefillPeriod: 3 * time.Second, Now: clk.Now})
	require.NoError(t, err)
	defer tb.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := tb.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := tb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, clk.Now().Add(time.Second), d.ResetAt)
	assert.Equal(t, 1, d.RetryAfter(clk.Now()))

	// Other clients have their own bucket
	d, err = tb.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clk.Advance(time.Second)
	d, err = tb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// Refills never exceed the capacity
	clk.Advance(time.Hour)
	d, err = tb.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestTokenBucket_CancelledContext(t *testing.T) {
	tb, err := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillPeriod: time.Second})
	require.NoError(t, err)
	defer tb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tb.Allow(ctx, "key")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenBucket_DropIdle(t *testing.T) {
	clk := newClock()
	tb, err := NewTokenBucket(TokenBucketConfig{Capacity: 2, RefillPeriod: time.Minute, Now: clk.Now})
	require.NoError(t, err)
	defer tb.Close()

	ctx := context.Background()
	_, err = tb.Allow(ctx, "idle")
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, err = tb.Allow(ctx, "busy")
	require.NoError(t, err)

	clk.Advance(45 * time.Second)
	tb.dropIdle()

	tb.mu.Lock()
	defer tb.mu.Unlock()
	assert.NotContains(t, tb.buckets, "idle")
	assert.Contains(t, tb.buckets, "busy")
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb, err := NewTokenBucket(TokenBucketConfig{Capacity: 50, RefillPeriod: time.Hour})
	require.NoError(t, err)
	defer tb.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := tb.Allow(context.Background(), "shared")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestTokenBucket_CloseTwice(t *testing.T) {
	tb, err := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillPeriod: time.Second, CleanupInterval: time.Millisecond})
	require.NoError(t, err)
	assert.NoError(t, tb.Close())
	assert.NoError(t, tb.Close())
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		resetAt  time.Time
		expected int
	}{
		{"in the past", now.Add(-time.Second), 1},
		{"now", now, 1},
		{"fraction rounds up", now.Add(1500 * time.Millisecond), 2},
		{"whole seconds", now.Add(30 * time.Second), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decision{ResetAt: tt.resetAt}
			assert.Equal(t, tt.expected, d.RetryAfter(now))
		})
	}
}

func TestNew(t *testing.T) {
	limiter, closer, err := New(Config{Requests: 5, Window: time.Minute})
	require.NoError(t, err)
	defer closer.Close()
	assert.IsType(t, &TokenBucket{}, limiter)

	_, _, err = New(Config{Requests: 5, Window: time.Minute, RedisURL: "://nope"})
	assert.Error(t, err)

	_, _, err = New(Config{Requests: 0, Window: time.Minute})
	assert.Error(t, err)
}
