package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	events, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.Set(ctx, "k", []int64{1, 2, 3}, time.Hour))
	events, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, events)

	// Returned slices are copies
	events[0] = 99
	again, _ := store.Get(ctx, "k")
	assert.Equal(t, int64(1), again[0])
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(100 * time.Millisecond)
	assert.NoError(t, store.Close())
	// Should not panic on double close
	assert.NoError(t, store.Close())
}

func TestMemoryStore_EvictsExpired(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []int64{1}, 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []int64{1}, time.Hour))
	require.Equal(t, 2, store.Len())

	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 10*time.Millisecond)
	events, _ := store.Get(ctx, "long")
	assert.NotEmpty(t, events)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	limiter := NewSlidingWindow(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			identity := fmt.Sprintf("client-%d", id%5)
			for j := 0; j < 20; j++ {
				limiter.Allow(context.Background(), identity, "search", 1000, time.Hour)
			}
		}(i)
	}
	wg.Wait()
	// No panics or data races -- run with -race flag
	assert.Equal(t, 5, store.Len())
}
