package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenBucket is an in-memory limiter. Each key owns a bucket of Capacity tokens that
// refills completely over RefillPeriod.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	period   time.Duration
	now      func() time.Time

	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketConfig holds configuration for the token bucket limiter
type TokenBucketConfig struct {
	Capacity     int
	RefillPeriod time.Duration
	// CleanupInterval is how often idle buckets are dropped, zero disables cleanup
	CleanupInterval time.Duration
	// Now replaces the clock in tests
	Now func() time.Time
}

// NewTokenBucket creates a token bucket limiter
func NewTokenBucket(cfg TokenBucketConfig) (*TokenBucket, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.New("capacity must be greater than 0")
	}
	if cfg.RefillPeriod <= 0 {
		return nil, errors.New("refill period must be greater than 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	tb := &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: cfg.Capacity,
		period:   cfg.RefillPeriod,
		now:      cfg.Now,
		done:     make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		tb.cleanup = time.NewTicker(cfg.CleanupInterval)
		go tb.cleanupLoop()
	}
	return tb, nil
}

// Allow takes one token from the bucket of key
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastRefill: now}
		tb.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += float64(tb.capacity) * elapsed.Seconds() / tb.period.Seconds()
		if b.tokens > float64(tb.capacity) {
			b.tokens = float64(tb.capacity)
		}
		b.lastRefill = now
	}

	d := &Decision{Limit: tb.capacity}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	d.ResetAt = now.Add(tb.untilReset(b))
	return d, nil
}

// untilReset is how long an empty bucket needs for its next token, or a partly used
// bucket needs to fill up again
func (tb *TokenBucket) untilReset(b *bucket) time.Duration {
	perToken := float64(tb.period) / float64(tb.capacity)
	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) * perToken)
	}
	return time.Duration((float64(tb.capacity) - b.tokens) * perToken)
}

func (tb *TokenBucket) cleanupLoop() {
	for {
		select {
		case <-tb.cleanup.C:
			tb.dropIdle()
		case <-tb.done:
			return
		}
	}
}

// dropIdle removes buckets that refilled completely, they are indistinguishable from new ones
func (tb *TokenBucket) dropIdle() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) > tb.period {
			delete(tb.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine
func (tb *TokenBucket) Close() error {
	tb.once.Do(func() {
		close(tb.done)
		if tb.cleanup != nil {
			tb.cleanup.Stop()
		}
	})
	return nil
}
