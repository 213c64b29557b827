package sstable

import "bytes"

// Iterator walks a shard's entries in ascending key order.
type Iterator struct {
	shard    *Shard
	startKey []byte // inclusive
	endKey   []byte // exclusive

	blockIdx  int
	blockIter *BlockIterator
	key       []byte
	value     []byte
	err       error
	eof       bool
}

func newIterator(s *Shard, startKey, endKey []byte) *Iterator {
	it := &Iterator{shard: s, startKey: startKey, endKey: endKey, blockIdx: -1}
	if s.index == nil || s.index.Len() == 0 {
		it.eof = true
		return it
	}
	it.loadBlock(s.index.blockFor(startKey))
	return it
}

func (it *Iterator) loadBlock(blockIdx int) bool {
	entries := it.shard.index.Entries()
	if blockIdx < 0 || blockIdx >= len(entries) {
		it.eof = true
		return false
	}

	it.shard.mu.RLock()
	block, err := it.shard.readBlock(entries[blockIdx].BlockOffset, entries[blockIdx].BlockLength)
	it.shard.mu.RUnlock()
	if err != nil {
		it.err = err
		it.eof = true
		return false
	}
	entriesData, _, err := block.restartPoints()
	if err != nil {
		it.err = err
		it.eof = true
		return false
	}
	it.blockIdx = blockIdx
	it.blockIter = NewBlockIterator(entriesData)
	return true
}

// Next advances to the next entry in range.
func (it *Iterator) Next() bool {
	if it.err != nil || it.eof {
		return false
	}
	for {
		if it.blockIter != nil && it.blockIter.Next() {
			key := it.blockIter.Key()
			if it.endKey != nil && bytes.Compare(key, it.endKey) >= 0 {
				it.eof = true
				return false
			}
			if it.startKey != nil && bytes.Compare(key, it.startKey) < 0 {
				continue
			}
			it.key = key
			it.value = it.blockIter.Value()
			return true
		}
		if it.blockIter != nil && it.blockIter.Error() != nil {
			it.err = it.blockIter.Error()
			return false
		}
		if !it.loadBlock(it.blockIdx + 1) {
			return false
		}
	}
}

// Key returns the current key.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.value }

// Error returns the first error encountered.
func (it *Iterator) Error() error { return it.err }

// Close releases the iterator.
func (it *Iterator) Close() error {
	it.blockIter = nil
	it.eof = true
	return nil
}
