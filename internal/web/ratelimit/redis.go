package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow keeps one sorted set member per accepted request, scored by its time
// in nanoseconds. It returns whether the request was accepted, the number of requests
// in the window and the score of the oldest one.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local window_start = ARGV[2]
local limit = tonumber(ARGV[3])
local ttl_ms = ARGV[4]
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)
local allowed = 0
if current < limit then
	redis.call('ZADD', key, now, member)
	current = current + 1
	allowed = 1
end
redis.call('PEXPIRE', key, ttl_ms)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
	oldest_score = oldest[2]
end
return {allowed, current, oldest_score}
`)

// RedisLimiter is a sliding window limiter shared through Redis
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// RedisConfig holds configuration for the Redis limiter
type RedisConfig struct {
	Client redis.Scripter
	Limit  int
	Window time.Duration
	// Prefix is prepended to every key, "jsonapi:ratelimit:" when empty
	Prefix string
	// Now replaces the clock in tests
	Now func() time.Time
}

// NewRedisLimiter creates a Redis limiter
func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "jsonapi:ratelimit:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisLimiter{
		client: cfg.Client,
		limit:  cfg.Limit,
		window: cfg.Window,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}, nil
}

// Allow records a request for key if the window has room for it
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	now := r.now()
	res, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixNano(),
		now.Add(-r.window).UnixNano(),
		r.limit,
		r.window.Milliseconds(),
		uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected redis script result: %v", res)
	}

	allowed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	oldest, ok3 := res[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected redis script result: %v", res)
	}
	// Scores come back formatted as doubles, possibly in exponent notation
	oldestNanos, err := strconv.ParseFloat(oldest, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected redis script result: %w", err)
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   time.Unix(0, int64(oldestNanos)).Add(r.window),
		Allowed:   allowed == 1,
	}, nil
}
