package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBucketRefillsOneTokenPerInterval(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)
	bucket := NewMemoryBucket(RateLimitConfig{PerMinute: 60, Burst: 2})
	bucket.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, _, err := bucket.Take(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, wait, err := bucket.Take(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Second, wait)

	allowed, _, _ = bucket.Take(ctx, "10.0.0.2")
	assert.True(t, allowed)

	now = now.Add(1500 * time.Millisecond)
	allowed, _, _ = bucket.Take(ctx, "10.0.0.1")
	assert.True(t, allowed)
	allowed, wait, _ = bucket.Take(ctx, "10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 500*time.Millisecond, wait)
}

func TestMemoryBucketNeverExceedsBurst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)
	bucket := NewMemoryBucket(RateLimitConfig{PerMinute: 60, Burst: 3})
	bucket.now = func() time.Time { return now }

	_, _, _ = bucket.Take(ctx, "k")
	now = now.Add(time.Hour)

	granted := 0
	for i := 0; i < 10; i++ {
		if allowed, _, _ := bucket.Take(ctx, "k"); allowed {
			granted++
		}
	}
	assert.Equal(t, 3, granted)
}

type stubBucket struct {
	allowed bool
	wait    time.Duration
	err     error
	keys    []string
}

func (s *stubBucket) Take(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.wait, s.err
}

func TestRateLimiterRejectsWithRetryAfter(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	bucket := &stubBucket{wait: 1200 * time.Millisecond}
	handler := NewRateLimiter(bucket, logger).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/walkin", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"walkin:192.168.1.5"}, bucket.keys)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	bucket := &stubBucket{err: errors.New("redis: connection refused")}
	handler := NewRateLimiter(bucket, logger).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/walkin", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rate limiter unavailable", hook.LastEntry().Message)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	assert.Equal(t, "192.168.1.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
