package distributed

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

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// A second acquire on the same key must fail
	lock2, err := manager.AcquireLock(ctx, "test:lock", "instance2", 5*time.Second)
	assert.Error(t, err)
	assert.Equal(t, ErrLockNotAcquired, err)
	assert.Nil(t, lock2)

	err = lock.Release(ctx)
	assert.NoError(t, err)

	// Released lock can be acquired again
	lock3, err := manager.AcquireLock(ctx, "test:lock", "instance3", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock3)
	defer lock3.Release(ctx)
}

func TestRedisLock_AutoExpire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:expire", "instance1", 1*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	held, err := lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)

	// Let the TTL lapse
	time.Sleep(1500 * time.Millisecond)

	held, err = lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.False(t, held)

	// Another instance can take over after expiry
	lock2, err := manager.AcquireLock(ctx, "test:expire", "instance2", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock2)
	defer lock2.Release(ctx)
}

func TestRedisLock_ExtendTTL(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:extend", "instance1", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)
	defer lock.Release(ctx)

	time.Sleep(1 * time.Second)

	err = lock.Extend(ctx, 10*time.Second)
	assert.NoError(t, err)

	// Past the original TTL the lock must still be held
	time.Sleep(2 * time.Second)

	held, err := lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_TryLockWithRetry(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:retry", "instance1", 500*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock1)

	// Release from another goroutine after 500ms
	go func() {
		time.Sleep(500 * time.Millisecond)
		lock1.Release(context.Background())
	}()

	start := time.Now()
	lock2, err := manager.TryLockWithRetry(
		ctx,
		"test:retry",
		"instance2",
		5*time.Second,
		3,
		300*time.Millisecond,
	)
	elapsed := time.Since(start)

	// Succeeds once the first holder released
	assert.NoError(t, err)
	assert.NotNil(t, lock2)
	assert.Greater(t, elapsed, 400*time.Millisecond)

	defer lock2.Release(ctx)
}

func TestRedisLock_SafeRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:safe", "instance1", 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "test:safe", "instance2", 5*time.Second)
	require.NoError(t, err)
	defer lock2.Release(ctx)

	// The expired holder must not release the new holder's lock
	err = lock1.Release(ctx)
	assert.Error(t, err)
	assert.Equal(t, ErrLockNotHeld, err)

	held, err := lock2.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_ConcurrentAcquire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)

	const numGoroutines = 10
	successChan := make(chan string, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			ctx := context.Background()
			instanceID := fmt.Sprintf("instance%d", id)

			lock, err := manager.AcquireLock(ctx, "test:concurrent", instanceID, 2*time.Second)
			if err == nil {
				successChan <- instanceID
				time.Sleep(100 * time.Millisecond)
				lock.Release(ctx)
			}
		}(i)
	}

	time.Sleep(3 * time.Second)
	close(successChan)

	winners := []string{}
	for winner := range successChan {
		winners = append(winners, winner)
	}

	assert.Equal(t, 1, len(winners), "Only one instance should acquire the lock")
}
