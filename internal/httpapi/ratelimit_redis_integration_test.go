//go:build integration

package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisBucketSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)
	cfg := RateLimitConfig{PerMinute: 60, Burst: 2}
	first := NewRedisBucket(client, cfg)
	second := NewRedisBucket(client, cfg)
	first.now = func() time.Time { return now }
	second.now = func() time.Time { return now }

	allowed, _, err := first.Take(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = second.Take(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, wait, err := first.Take(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Second, wait)

	now = now.Add(time.Second)
	allowed, _, err = second.Take(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)
}
