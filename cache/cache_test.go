package cache

import (
	"expvar"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_PutGetAndEvict(t *testing.T) {
	var evicted []string
	c := NewLRUCache[string](2, func(key string, _ string) {
		evicted = append(evicted, key)
	})

	c.Put("en/1201", "New Jersey")
	c.Put("en/1202", "Washington D.C.")

	v, ok := c.Get("en/1201")
	require.True(t, ok)
	assert.Equal(t, "New Jersey", v)

	// en/1202 is now least recently used.
	c.Put("en/1203", "Connecticut")
	assert.Equal(t, []string{"en/1202"}, evicted)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("en/1202")
	assert.False(t, ok)
}

func TestLRUCache_ReplaceCallsOnEvictedForOldValue(t *testing.T) {
	var old []int
	c := NewLRUCache[int](4, func(_ string, v int) { old = append(old, v) })
	c.Put("a", 1)
	c.Put("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{1}, old)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCache_Remove(t *testing.T) {
	var removed []string
	c := NewLRUCache[int](4, func(key string, _ int) { removed = append(removed, key) })
	c.Put("a", 1)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_Disabled(t *testing.T) {
	c := NewLRUCache[int](0, nil)
	c.Put("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_MetricsAndClear(t *testing.T) {
	hits, misses := new(expvar.Int), new(expvar.Int)
	var cleared int
	c := NewLRUCache[int](4, func(string, int) { cleared++ })
	c.SetMetrics(hits, misses)

	assert.Equal(t, 0.0, c.GetHitRate())

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Get("a")

	assert.Equal(t, int64(3), hits.Value())
	assert.Equal(t, int64(1), misses.Value())
	assert.InDelta(t, 0.75, c.GetHitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), hits.Value())
	assert.Equal(t, int64(0), misses.Value())
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := NewLRUCache[int](16, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i%32)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
