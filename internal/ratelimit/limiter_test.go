package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T) (*SlidingWindow, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	clock := newFakeClock()
	store.now = clock.Now
	return NewSlidingWindow(store, WithClock(clock.Now)), store, clock
}

func TestSlidingWindow_RejectsAfterLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, info, err := limiter.Allow(ctx, "10.0.0.1", "search", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3-(i+1), info.Remaining)
	}

	allowed, info, err := limiter.Allow(ctx, "10.0.0.1", "search", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, time.Hour, info.RetryAfter)
}

func TestSlidingWindow_AllowsAgainAfterWindow(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "10.0.0.1", "publish", 2, time.Hour)
		require.NoError(t, err)
		require.True(t, allowed)
		clock.Advance(time.Minute)
	}

	allowed, _, err := limiter.Allow(ctx, "10.0.0.1", "publish", 2, time.Hour)
	require.NoError(t, err)
	require.False(t, allowed)

	// First event was recorded at t0; move past t0+1h.
	clock.Advance(time.Hour - 2*time.Minute + time.Second)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1", "publish", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed, "oldest event left the window")

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1", "publish", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed, "second event is still in the window")
}

func TestSlidingWindow_StoredLogNeverExceedsLimit(t *testing.T) {
	limiter, store, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := limiter.Allow(ctx, "10.0.0.1", "index", 4, time.Hour)
		require.NoError(t, err)
	}

	events, err := store.Get(ctx, Key("10.0.0.1", "index"))
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestSlidingWindow_PrunesOldEvents(t *testing.T) {
	limiter, store, clock := newTestLimiter(t)
	ctx := context.Background()
	key := Key("10.0.0.1", "index")

	_, _, err := limiter.Allow(ctx, "10.0.0.1", "index", 5, time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, _, err = limiter.Allow(ctx, "10.0.0.1", "index", 5, time.Minute)
	require.NoError(t, err)

	events, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []int64{clock.Now().Unix()}, events)
}

func TestSlidingWindow_KeyIsolation(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip1", "search", 2, time.Hour)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _, err := limiter.Allow(ctx, "ip1", "search", 2, time.Hour)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "ip1", "publish", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed, "same identity, different endpoint")

	allowed, _, err = limiter.Allow(ctx, "ip2", "search", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed, "different identity, same endpoint")
}

type failingStore struct{ err error }

func (f *failingStore) Get(context.Context, string) ([]int64, error) { return nil, f.err }
func (f *failingStore) Set(context.Context, string, []int64, time.Duration) error {
	return f.err
}
func (f *failingStore) Close() error { return nil }

func TestSlidingWindow_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	limiter := NewSlidingWindow(&failingStore{err: storeErr})

	allowed, _, err := limiter.Allow(context.Background(), "ip", "search", 1, time.Hour)
	assert.False(t, allowed)
	assert.ErrorIs(t, err, storeErr)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "192.168.1.1:semantic_search", Key("192.168.1.1", "semantic_search"))
}
