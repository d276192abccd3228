package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a client may make another request
type Limiter interface {
	// Allow records a request for key and reports whether it fits the limit
	Allow(ctx context.Context, key string) (*Decision, error)
}

// Decision is the outcome of one Allow call
type Decision struct {
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Remaining is the number of requests left in the current window
	Remaining int
	// ResetAt is when capacity is available again
	ResetAt time.Time
	// Allowed indicates whether the request may proceed
	Allowed bool
}

// RetryAfter returns the whole seconds a rejected client should wait, at least one
func (d *Decision) RetryAfter(now time.Time) int {
	seconds := int(d.ResetAt.Sub(now).Seconds() + 0.999)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Config selects and sizes a limiter
type Config struct {
	// Requests is the number of requests one client may make per Window
	Requests int
	Window   time.Duration
	// RedisURL selects the Redis sliding window limiter, shared by every server
	// instance. An empty URL selects the in-memory token bucket.
	RedisURL string
}

// New builds the limiter cfg selects. The returned closer releases its resources.
func New(cfg Config) (Limiter, io.Closer, error) {
	if cfg.RedisURL == "" {
		tb, err := NewTokenBucket(TokenBucketConfig{
			Capacity:        cfg.Requests,
			RefillPeriod:    cfg.Window,
			CleanupInterval: 5 * cfg.Window,
		})
		if err != nil {
			return nil, nil, err
		}
		return tb, tb, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	limiter, err := NewRedisLimiter(RedisConfig{
		Client: client,
		Limit:  cfg.Requests,
		Window: cfg.Window,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return limiter, client, nil
}
