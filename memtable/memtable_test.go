package memtable

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter is a core.ShardWriterInterface that keeps what it is given.
type recordingWriter struct {
	keys   []string
	values []string
	failAt int
}

func (w *recordingWriter) Add(key, value []byte) error {
	if w.failAt > 0 && len(w.keys)+1 == w.failAt {
		return errors.New("disk full")
	}
	w.keys = append(w.keys, string(key))
	w.values = append(w.values, string(value))
	return nil
}
func (w *recordingWriter) Finish() error      { return nil }
func (w *recordingWriter) Abort() error       { return nil }
func (w *recordingWriter) FilePath() string   { return "" }
func (w *recordingWriter) CurrentSize() int64 { return 0 }
func (w *recordingWriter) EntryCount() uint64 { return uint64(len(w.keys)) }

var _ core.ShardWriterInterface = (*recordingWriter)(nil)

func TestMemtable_FlushIsSorted(t *testing.T) {
	table := core.PrefixTableFromPairs(
		"1212555", "New York, NY",
		"1201", "New Jersey",
		"12125", "",
		"1202", "Washington D.C.",
	)
	m := FromTable(table)
	require.Equal(t, 4, m.Len())

	w := &recordingWriter{}
	require.NoError(t, m.FlushToShard(w))
	assert.Equal(t, []string{"1201", "1202", "12125", "1212555"}, w.keys)
	assert.Equal(t, []string{"New Jersey", "Washington D.C.", "", "New York, NY"}, w.values)
}

func TestMemtable_PutReplaces(t *testing.T) {
	m := New()
	m.Put("44", "UK")
	size := m.Size()
	m.Put("44", "United Kingdom")

	v, ok := m.Get("44")
	require.True(t, ok)
	assert.Equal(t, "United Kingdom", v)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, size+int64(len("United Kingdom")-len("UK")), m.Size())

	_, ok = m.Get("4")
	assert.False(t, ok)
	_, ok = m.Get("441")
	assert.False(t, ok)
}

func TestMemtable_FlushPropagatesWriterError(t *testing.T) {
	m := FromTable(core.PrefixTableFromPairs("1", "a", "2", "b", "3", "c"))
	err := m.FlushToShard(&recordingWriter{failAt: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key: 2")
}

func TestMemtable_Range(t *testing.T) {
	m := FromTable(core.PrefixTableFromPairs("3", "c", "1", "a", "2", "b"))
	var keys []string
	m.Range(func(k, _ string) bool {
		keys = append(keys, k)
		return len(keys) < 2
	})
	assert.Equal(t, []string{"1", "2"}, keys)
}

func TestMemtable_ConcurrentPut(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Put(fmt.Sprintf("%d%03d", g, i), "x")
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 400, m.Len())
}
