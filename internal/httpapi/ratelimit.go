package httpapi

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.PerMinute <= 0 {
		c.PerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	return c
}

// refillEvery is how long a client waits to earn back one token.
func (c RateLimitConfig) refillEvery() time.Duration {
	return time.Minute / time.Duration(c.PerMinute)
}

// Bucket takes one token for key. When the bucket is empty it reports how
// long until the next token.
type Bucket interface {
	Take(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimiter guards unauthenticated endpoints per client IP. It fails open
// when the bucket backend is unavailable.
type RateLimiter struct {
	bucket Bucket
	logger logrus.FieldLogger
}

func NewRateLimiter(bucket Bucket, logger logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{bucket: bucket, logger: logger}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, wait, err := l.bucket.Take(r.Context(), "walkin:"+ip)
		if err != nil {
			l.logger.WithError(err).WithField("client_ip", ip).Warn("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MemoryBucket keeps token counts in process. Used when no redis is
// configured.
type MemoryBucket struct {
	mu       sync.Mutex
	capacity int
	refill   time.Duration
	buckets  map[string]bucketState
	now      func() time.Time
}

type bucketState struct {
	tokens   int
	refilled time.Time
}

func NewMemoryBucket(cfg RateLimitConfig) *MemoryBucket {
	cfg = cfg.withDefaults()
	return &MemoryBucket{
		capacity: cfg.Burst,
		refill:   cfg.refillEvery(),
		buckets:  make(map[string]bucketState),
		now:      time.Now,
	}
}

func (b *MemoryBucket) Take(_ context.Context, key string) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, ok := b.buckets[key]
	if !ok {
		state = bucketState{tokens: b.capacity, refilled: now}
	}
	if earned := int(now.Sub(state.refilled) / b.refill); earned > 0 {
		state.tokens = min(b.capacity, state.tokens+earned)
		state.refilled = state.refilled.Add(time.Duration(earned) * b.refill)
	}

	if state.tokens == 0 {
		b.buckets[key] = state
		return false, b.refill - now.Sub(state.refilled), nil
	}
	state.tokens--
	b.buckets[key] = state
	return true, 0, nil
}

// takeScript refills by whole intervals and takes one token atomically.
// It returns {allowed, retry_after_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'refilled')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
  tokens = capacity
  refilled = now
end

local earned = math.floor((now - refilled) / refill)
if earned > 0 then
  tokens = math.min(capacity, tokens + earned)
  refilled = refilled + earned * refill
end

local allowed = 0
local wait = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  wait = refill - (now - refilled)
end

redis.call('HSET', key, 'tokens', tokens, 'refilled', refilled)
redis.call('EXPIRE', key, ttl)
return {allowed, wait}
`)

// RedisBucket shares token counts between every server instance.
type RedisBucket struct {
	client   redis.Scripter
	capacity int
	refill   time.Duration
	ttl      time.Duration
	now      func() time.Time
}

func NewRedisBucket(client redis.Scripter, cfg RateLimitConfig) *RedisBucket {
	cfg = cfg.withDefaults()
	refill := cfg.refillEvery()
	ttl := time.Duration(cfg.Burst) * refill
	if ttl < time.Second {
		ttl = time.Second
	}
	return &RedisBucket{
		client:   client,
		capacity: cfg.Burst,
		refill:   refill,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (b *RedisBucket) Take(ctx context.Context, key string) (bool, time.Duration, error) {
	result, err := takeScript.Run(ctx, b.client, []string{"ratelimit:" + key},
		b.now().UnixMilli(),
		b.capacity,
		b.refill.Milliseconds(),
		int64(math.Ceil(b.ttl.Seconds())),
	).Int64Slice()
	if err != nil {
		return false, 0, errors.Wrap(err, "rate limit script")
	}
	if len(result) != 2 {
		return false, 0, errors.Errorf("rate limit script returned %d values", len(result))
	}
	return result[0] == 1, time.Duration(result[1]) * time.Millisecond, nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
