package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetIfAbsent(t *testing.T) {
	c := NewMemoryCache("checkout").(*memoryCache)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := c.GenerateKey("webhook", "stripe:evt_1")
	assert.Equal(t, "checkout:webhook:stripe:evt_1", key)

	ok, err := c.SetIfAbsent(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.SetIfAbsent(ctx, key, 1, time.Minute)
	assert.False(t, ok)

	v, _ := c.Get(ctx, key)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Minute)
	ok, _ = c.SetIfAbsent(ctx, key, 2, time.Minute)
	assert.True(t, ok, "expired key can be set again")

	require.NoError(t, c.Delete(ctx, key))
	v, _ = c.Get(ctx, key)
	assert.Empty(t, v)
}

func TestMemoryCache_PrunesExpiredEntries(t *testing.T) {
	c := NewMemoryCache("checkout").(*memoryCache)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		_, err := c.SetIfAbsent(ctx, k, 1, time.Minute)
		require.NoError(t, err)
	}
	_, _ = c.SetIfAbsent(ctx, "forever", 1, 0)

	now = now.Add(2 * memoryPruneInterval)
	_, _ = c.SetIfAbsent(ctx, "fresh", 1, time.Hour)

	assert.Len(t, c.items, 2)
	assert.Contains(t, c.items, "forever")
	assert.Contains(t, c.items, "fresh")
}

func TestMemoryCache_ConcurrentSetIfAbsent(t *testing.T) {
	c := NewMemoryCache("checkout")
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.SetIfAbsent(context.Background(), "k", "v", 0); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
