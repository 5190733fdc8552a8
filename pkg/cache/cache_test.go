package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	cache := New(4)

	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Put("a", "first")

	value, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", value)

	// Put replaces the value for an existing key without growing the cache.
	cache.Put("a", "second")

	value, ok = cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", value)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := New(2)

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)

	assert.Equal(t, 2, cache.Len())

	// The oldest entry is gone, the newer two remain.
	_, ok := cache.Get("a")
	assert.False(t, ok)

	_, ok = cache.Get("b")
	assert.True(t, ok)

	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	cache := New(2)

	cache.Put("a", 1)
	cache.Put("b", 2)

	// Touching "a" makes "b" the eviction candidate.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", 3)

	_, ok = cache.Get("a")
	assert.True(t, ok)

	_, ok = cache.Get("b")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	cache := New(4)

	for i := 0; i < 4; i++ {
		cache.Put(fmt.Sprintf("key%d", i), i)
	}
	require.Equal(t, 4, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())

	_, ok := cache.Get("key0")
	assert.False(t, ok)

	// The cache is reusable after a clear.
	cache.Put("key0", "fresh")
	_, ok = cache.Get("key0")
	assert.True(t, ok)
}
