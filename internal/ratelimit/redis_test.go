package ratelimit

import (
	"context"
	"registryproxy/internal/models"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), models.RedisConfig{
		Addr:      mr.Addr(),
		PoolSize:  2,
		KeyPrefix: "test-limits",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisStore_GetSet(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	events, err := store.Get(ctx, "10.0.0.1:search")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.Set(ctx, "10.0.0.1:search", []int64{100, 200}, time.Hour))

	events, err = store.Get(ctx, "10.0.0.1:search")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200}, events)

	raw, err := mr.Get("test-limits:10.0.0.1:search")
	require.NoError(t, err)
	assert.JSONEq(t, `[100,200]`, raw)
	assert.Equal(t, time.Hour, mr.TTL("test-limits:10.0.0.1:search"))
}

func TestRedisStore_KeyExpires(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []int64{1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	events, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRedisStore_CorruptLog(t *testing.T) {
	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set("test-limits:k", "not-json"))

	_, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStore_SharedBudget(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	// Two proxy instances, one Redis
	a := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared")
	b := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared")
	defer a.Close()
	defer b.Close()

	clock := newFakeClock()
	limiterA := NewSlidingWindow(a, WithClock(clock.Now))
	limiterB := NewSlidingWindow(b, WithClock(clock.Now))
	ctx := context.Background()

	allowed, _, err := limiterA.Allow(ctx, "ip", "publish", 2, time.Hour)
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = limiterB.Allow(ctx, "ip", "publish", 2, time.Hour)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiterA.Allow(ctx, "ip", "publish", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	_, err := NewRedisStore(context.Background(), models.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisStore_Ping(t *testing.T) {
	store, mr := setupRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
