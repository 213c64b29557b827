package memtable

import (
	"fmt"
	"strings"
	"sync"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/skiplist"
)

// entryOverhead approximates the per-entry bookkeeping of the skip list.
const entryOverhead = 48

// Memtable buffers the entries of one shard in key order so they can be
// streamed into a shard writer, which only accepts ascending keys.
// It is safe for concurrent use.
type Memtable struct {
	mu        sync.RWMutex
	data      *skiplist.SkipList[string, string]
	sizeBytes int64
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{
		data: skiplist.NewWithComparator[string, string](strings.Compare),
	}
}

// FromTable copies every entry of table into a new Memtable.
func FromTable(table *core.PrefixTable) *Memtable {
	m := New()
	table.Range(func(prefix, description string) bool {
		m.Put(prefix, description)
		return true
	})
	return m
}

// Put inserts or replaces the description of prefix.
func (m *Memtable) Put(prefix, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Insert updates an existing node in place, so the old value has to be
	// read first.
	if node, ok := m.data.Seek(prefix); ok && node.Key() == prefix {
		m.sizeBytes += int64(len(description) - len(node.Value()))
		m.data.Insert(prefix, description)
		return
	}
	m.data.Insert(prefix, description)
	m.sizeBytes += int64(len(prefix) + len(description) + entryOverhead)
}

// Get returns the description stored for prefix.
func (m *Memtable) Get(prefix string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.data.Seek(prefix)
	if ok && node.Key() == prefix {
		return node.Value(), true
	}
	return "", false
}

// Len returns the number of entries.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// Size returns the estimated memory held by the entries in bytes.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// Range calls fn for each entry in ascending key order until fn returns false.
func (m *Memtable) Range(fn func(prefix, description string) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.data.Range(fn)
}

// FlushToShard writes every entry, in ascending key order, to writer. It
// does not call Finish; the caller owns the writer's lifecycle.
func (m *Memtable) FlushToShard(writer core.ShardWriterInterface) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iter := m.data.NewIterator()
	for iter.Next() {
		if err := writer.Add([]byte(iter.Key()), []byte(iter.Value())); err != nil {
			return fmt.Errorf("failed to add memtable entry to shard writer (key: %s): %w", iter.Key(), err)
		}
	}
	return nil
}
