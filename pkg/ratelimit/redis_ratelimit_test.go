package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // dedicated test DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)

	return client
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	limiter := NewRedisRateLimiter(client, "test:ratelimit:")
	ctx := context.Background()

	// All requests within the limit pass
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "user1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	// The next one is rejected
	allowed, err := limiter.Allow(ctx, "user1", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different key has its own bucket
	allowed, err = limiter.Allow(ctx, "user2", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_AllowWithInfo(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	limiter := NewRedisRateLimiter(client, "test:ratelimit:")
	ctx := context.Background()

	allowed, info, err := limiter.AllowWithInfo(ctx, "user1", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	require.NotNil(t, info)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 9, info.Remaining)
	assert.False(t, info.ResetTime.IsZero())
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	limiter := NewRedisRateLimiter(client, "test:ratelimit:")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "user1", 3, time.Minute)
		require.NoError(t, err)
	}

	allowed, err := limiter.Allow(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "user1"))

	allowed, err = limiter.Allow(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_ConcurrentKeys(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	limiter := NewRedisRateLimiter(client, "test:ratelimit:")
	ctx := context.Background()

	// Separate keys never interfere
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("user%d", i)
		allowed, err := limiter.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}
