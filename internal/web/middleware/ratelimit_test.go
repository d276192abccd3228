package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conduit-lang/jsonapi-server/internal/web/ratelimit"
)

// stubLimiter returns fixed decisions
type stubLimiter struct {
	decision *ratelimit.Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (*ratelimit.Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitHeaders(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := &stubLimiter{decision: &ratelimit.Decision{
		Limit: 10, Remaining: 7, ResetAt: now.Add(time.Minute), Allowed: true,
	}}
	handler := RateLimitWithConfig(RateLimitConfig{Limiter: limiter, Now: func() time.Time { return now }})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/games", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("Expected limit 10, got %s", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "7" {
		t.Errorf("Expected remaining 7, got %s", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != "1714564860" {
		t.Errorf("Expected reset 1714564860, got %s", got)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "192.0.2.1" {
		t.Errorf("Expected key 192.0.2.1, got %v", limiter.keys)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := &stubLimiter{decision: &ratelimit.Decision{
		Limit: 10, Remaining: 0, ResetAt: now.Add(12 * time.Second), Allowed: false,
	}}
	handler := RateLimitWithConfig(RateLimitConfig{Limiter: limiter, Now: func() time.Time { return now }})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "12" {
		t.Errorf("Expected Retry-After 12, got %s", got)
	}
	if rec.Header().Get("Content-Type") != "application/vnd.api+json" {
		t.Errorf("Expected an error document, got content type %q", rec.Header().Get("Content-Type"))
	}
}

func TestRateLimitLimiterFailure(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}

	rec := httptest.NewRecorder()
	RateLimit(limiter)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected fail open status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	RateLimitWithConfig(RateLimitConfig{Limiter: limiter})(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected fail closed status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestRateLimitWithTokenBucket(t *testing.T) {
	tb, err := ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{Capacity: 2, RefillPeriod: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer tb.Close()
	handler := RateLimit(tb)(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games", nil))
		statuses = append(statuses, rec.Code)
	}

	expected := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range expected {
		if statuses[i] != expected[i] {
			t.Errorf("Request %d: expected status %d, got %d", i, expected[i], statuses[i])
		}
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"remote addr", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"ipv6 remote addr", "[2001:db8::1]:1234", nil, "2001:db8::1"},
		{"forwarded for", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"real ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"no port", "192.0.2.1", nil, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc(req); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
