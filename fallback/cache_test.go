package fallback

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/phoneprefix/core"
)

func TestEnglishCache_LoadsOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "44.txt"), []byte("441|Bristol\n"), 0644))

	cache := NewEnglishCache(dir, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table, ok, err := cache.Lookup(44)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 1, table.Len())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cache.Loads())
	assert.Equal(t, 1, cache.Len())
}

func TestEnglishCache_MissingSibling(t *testing.T) {
	cache := NewEnglishCache(t.TempDir(), nil)

	table, ok, err := cache.Lookup(49)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, table)

	// The negative result is cached too.
	_, ok, err = cache.Lookup(49)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestEnglishCache_Prime(t *testing.T) {
	cache := NewEnglishCache(t.TempDir(), nil)
	primed := core.PrefixTableFromPairs("1201", "NJ")
	cache.Prime(1, primed)
	primed.Set("1202", "DC")

	table, ok, err := cache.Lookup(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"1201"}, table.Keys())
	assert.Equal(t, 0, cache.Loads())
}
