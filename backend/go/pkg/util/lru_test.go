package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewWithConfig(CacheConfig[string, int]{
		Capacity: 2,
		OnEvict:  func(k string, _ int) { evicted = append(evicted, k) },
	})
	require.NoError(t, err)

	c.Put("a", 1, 1)
	c.Put("b", 2, 1)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", 3, 1)

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())
}

func TestLRUWeightAndTTL(t *testing.T) {
	now := time.Unix(0, 0)
	c, err := NewWithConfig(CacheConfig[string, string]{
		MaxWeight: 10,
		TTL:       time.Minute,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	c.Put("small", "x", 4)
	c.Put("big", "y", 8)
	_, ok := c.Peek("small")
	assert.False(t, ok)
	assert.Equal(t, 8, c.Weight())

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("big")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, uint64(0), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestLRURequiresLimit(t *testing.T) {
	_, err := NewWithConfig(CacheConfig[int, int]{})
	assert.ErrorIs(t, err, ErrNoLimit)
}
