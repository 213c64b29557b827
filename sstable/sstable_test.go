package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/INLOpen/phoneprefix/cache"
	"github.com/INLOpen/phoneprefix/compressors"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type testEntry struct {
	Key   string
	Value string
}

func writeTestShard(t *testing.T, path string, compressor core.Compressor, blockSize int, entries []testEntry) {
	t.Helper()
	w, err := NewWriter(core.ShardWriterOptions{
		FilePath:                     path,
		EstimatedKeys:                uint64(len(entries)),
		BloomFilterFalsePositiveRate: 0.01,
		BlockSize:                    blockSize,
		Compressor:                   compressor,
		Tracer:                       noop.NewTracerProvider().Tracer("test"),
	})
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Add([]byte(e.Key), []byte(e.Value)))
	}
	require.NoError(t, w.Finish())
}

func generateEntries(n int) []testEntry {
	entries := make([]testEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, testEntry{
			Key:   fmt.Sprintf("1%06d", i*7),
			Value: fmt.Sprintf("City number %d, ST", i),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func TestShard_RoundTripAllCompressors(t *testing.T) {
	entries := generateEntries(500)
	for _, compressor := range []core.Compressor{
		&compressors.NoCompressionCompressor{},
		compressors.NewSnappyCompressor(),
		compressors.NewLz4Compressor(),
		compressors.NewZstdCompressor(),
	} {
		t.Run(compressor.Type().String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "en", "1.sst")
			writeTestShard(t, path, compressor, 512, entries)

			shard, err := Load(LoadOptions{FilePath: path})
			require.NoError(t, err)
			defer shard.Close()

			assert.Equal(t, uint64(len(entries)), shard.Len())
			assert.Equal(t, compressor.Type(), shard.Compression())
			assert.Greater(t, shard.Index().Len(), 1, "small block size must produce several blocks")
			assert.Equal(t, entries[0].Key, string(shard.MinKey()))
			assert.Equal(t, entries[len(entries)-1].Key, string(shard.MaxKey()))

			for _, e := range entries {
				v, err := shard.Get([]byte(e.Key))
				require.NoError(t, err, e.Key)
				assert.Equal(t, e.Value, string(v))
			}
			_, err = shard.Get([]byte("1000001"))
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = shard.Get([]byte("0"))
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = shard.Get([]byte("9"))
			assert.ErrorIs(t, err, ErrNotFound)

			table, err := shard.ReadAll()
			require.NoError(t, err)
			require.Equal(t, len(entries), table.Len())
			for i, key := range table.Keys() {
				assert.Equal(t, entries[i].Key, key)
			}

			assert.Empty(t, shard.VerifyIntegrity(true))
		})
	}
}

func TestShard_EmptyDescriptionsAreStored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de", "49.sst")
	writeTestShard(t, path, compressors.NewSnappyCompressor(), 0, []testEntry{
		{Key: "4930", Value: ""},
		{Key: "49301", Value: "Berlin"},
	})

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	defer shard.Close()

	v, err := shard.Get([]byte("4930"))
	require.NoError(t, err)
	assert.Equal(t, "", string(v))
}

func TestShard_EmptyShard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de", "2125.sst")
	writeTestShard(t, path, compressors.NewSnappyCompressor(), 0, nil)

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	defer shard.Close()

	assert.Equal(t, uint64(0), shard.Len())
	_, err = shard.Get([]byte("2125"))
	assert.ErrorIs(t, err, ErrNotFound)

	table, err := shard.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, shard.VerifyIntegrity(true))
}

func TestShard_LongestPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "en", "1212.sst")
	writeTestShard(t, path, compressors.NewLz4Compressor(), 0, []testEntry{
		{Key: "1212", Value: "New York"},
		{Key: "1212555", Value: "New York, NY"},
		{Key: "1212556", Value: "Manhattan"},
	})

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	defer shard.Close()

	prefix, v, err := shard.LongestPrefix("12125551234")
	require.NoError(t, err)
	assert.Equal(t, "1212555", prefix)
	assert.Equal(t, "New York, NY", string(v))

	prefix, v, err = shard.LongestPrefix("12129999999")
	require.NoError(t, err)
	assert.Equal(t, "1212", prefix)
	assert.Equal(t, "New York", string(v))

	_, _, err = shard.LongestPrefix("1213")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShard_IteratorRange(t *testing.T) {
	entries := generateEntries(200)
	path := filepath.Join(t.TempDir(), "en", "1.sst")
	writeTestShard(t, path, compressors.NewZstdCompressor(), 256, entries)

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	defer shard.Close()

	start, end := entries[50].Key, entries[120].Key
	it, err := shard.NewIterator([]byte(start), []byte(end))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Error())
	require.Len(t, got, 70)
	assert.Equal(t, start, got[0])
	assert.Equal(t, entries[119].Key, got[len(got)-1])
}

func TestShard_BlockCache(t *testing.T) {
	entries := generateEntries(100)
	path := filepath.Join(t.TempDir(), "en", "1.sst")
	writeTestShard(t, path, compressors.NewSnappyCompressor(), 256, entries)

	blockCache := cache.NewLRUCache[[]byte](8, nil)
	shard, err := Load(LoadOptions{FilePath: path, BlockCache: blockCache})
	require.NoError(t, err)
	defer shard.Close()

	for i := 0; i < 3; i++ {
		v, err := shard.Get([]byte(entries[10].Key))
		require.NoError(t, err)
		assert.Equal(t, entries[10].Value, string(v))
	}
	assert.Equal(t, 1, blockCache.Len())
}

func TestWriter_RejectsOutOfOrderKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "en", "44.sst")
	w, err := NewWriter(core.ShardWriterOptions{FilePath: path})
	require.NoError(t, err)

	require.NoError(t, w.Add([]byte("4420"), []byte("London")))
	assert.ErrorIs(t, w.Add([]byte("4420"), []byte("dup")), ErrOutOfOrder)
	assert.ErrorIs(t, w.Add([]byte("441"), []byte("before")), ErrOutOfOrder)
	assert.Equal(t, uint64(1), w.EntryCount())

	require.NoError(t, w.Abort())
	_, err = os.Stat(core.FormatTempFilename(path))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_FinishTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "en", "44.sst")
	w, err := NewWriter(core.ShardWriterOptions{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("44"), []byte("UK")))
	require.NoError(t, w.Finish())
	assert.ErrorIs(t, w.Finish(), ErrClosed)
	assert.NoError(t, w.Abort(), "abort after finish keeps the shard")
	assert.FileExists(t, path)
	assert.Equal(t, path, w.FilePath())
	assert.Greater(t, w.CurrentSize(), int64(FooterSize))
}

func TestShard_CarriesGeneratedNotice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de", "49.sst")
	w, err := NewWriter(core.ShardWriterOptions{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("4930"), []byte("Berlin")))
	require.NoError(t, w.Finish())

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	defer shard.Close()
	assert.Equal(t, core.GeneratedNotice, shard.Notice())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), core.GeneratedNotice, "the notice is readable in the raw file")
}

func TestLoad_DetectsCorruption(t *testing.T) {
	entries := generateEntries(50)
	path := filepath.Join(t.TempDir(), "en", "1.sst")
	writeTestShard(t, path, &compressors.NoCompressionCompressor{}, 0, entries)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("bad magic string", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		badPath := filepath.Join(t.TempDir(), "bad.sst")
		require.NoError(t, os.WriteFile(badPath, bad, 0644))
		_, err := Load(LoadOptions{FilePath: badPath})
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("bad header magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xFF
		badPath := filepath.Join(t.TempDir(), "bad.sst")
		require.NoError(t, os.WriteFile(badPath, bad, 0644))
		_, err := Load(LoadOptions{FilePath: badPath})
		assert.Error(t, err)
	})

	t.Run("flipped block byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[core.FileHeaderSize+BlockHeaderSize+2] ^= 0xFF
		badPath := filepath.Join(t.TempDir(), "bad.sst")
		require.NoError(t, os.WriteFile(badPath, bad, 0644))
		shard, err := Load(LoadOptions{FilePath: badPath})
		require.NoError(t, err, "blocks are verified lazily")
		defer shard.Close()
		_, err = shard.Get([]byte(entries[0].Key))
		assert.ErrorIs(t, err, ErrCorrupted)
		assert.NotEmpty(t, shard.VerifyIntegrity(true))
	})

	t.Run("truncated", func(t *testing.T) {
		badPath := filepath.Join(t.TempDir(), "bad.sst")
		require.NoError(t, os.WriteFile(badPath, data[:core.FileHeaderSize+3], 0644))
		_, err := Load(LoadOptions{FilePath: badPath})
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestShard_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "en", "44.sst")
	writeTestShard(t, path, nil, 0, []testEntry{{Key: "44", Value: "UK"}})

	shard, err := Load(LoadOptions{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, shard.Close())
	assert.ErrorIs(t, shard.Close(), ErrClosed)
	_, err = shard.Get([]byte("44"))
	assert.ErrorIs(t, err, ErrClosed)
}
