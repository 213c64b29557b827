package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/INLOpen/phoneprefix/core"
)

// BlockIndexEntry points at one data block.
type BlockIndexEntry struct {
	FirstKey    []byte // The first key in the block
	BlockOffset int64  // Offset of the data block in the shard file
	BlockLength uint32 // Length of the data block on disk, header included
}

// IndexBuilder collects block index entries as blocks are flushed.
type IndexBuilder struct {
	entries []BlockIndexEntry
}

// Add records a block. firstKey must not be reused by the caller.
func (ib *IndexBuilder) Add(firstKey []byte, blockOffset int64, blockLength uint32) {
	ib.entries = append(ib.entries, BlockIndexEntry{
		FirstKey:    firstKey,
		BlockOffset: blockOffset,
		BlockLength: blockLength,
	})
}

// Len returns the number of indexed blocks.
func (ib *IndexBuilder) Len() int {
	return len(ib.entries)
}

// Build serializes the index and returns it with its CRC32 checksum.
// Format per entry: KeyLen (uint32), Key, BlockOffset (int64), BlockLength (uint32).
func (ib *IndexBuilder) Build() ([]byte, uint32, error) {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	var scratch [8]byte
	for _, entry := range ib.entries {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(entry.FirstKey)))
		buf.Write(scratch[:4])
		buf.Write(entry.FirstKey)
		binary.LittleEndian.PutUint64(scratch[:8], uint64(entry.BlockOffset))
		buf.Write(scratch[:8])
		binary.LittleEndian.PutUint32(scratch[:4], entry.BlockLength)
		buf.Write(scratch[:4])
	}
	indexData := append([]byte(nil), buf.Bytes()...)
	return indexData, crc32.ChecksumIEEE(indexData), nil
}

// Index is the in-memory sparse block index of a loaded shard.
type Index struct {
	entries []BlockIndexEntry
}

// DeserializeIndex verifies the checksum and decodes the index.
func DeserializeIndex(data []byte, expectedChecksum uint32) (*Index, error) {
	if calculated := crc32.ChecksumIEEE(data); calculated != expectedChecksum {
		return nil, fmt.Errorf("index checksum mismatch (stored %x, calculated %x): %w", expectedChecksum, calculated, ErrCorrupted)
	}

	idx := &Index{}
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("truncated index key length at %d: %w", offset, ErrCorrupted)
		}
		keyLen := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if offset+keyLen+12 > len(data) {
			return nil, fmt.Errorf("index entry at %d exceeds data bounds: %w", offset, ErrCorrupted)
		}
		key := data[offset : offset+keyLen]
		offset += keyLen
		blockOffset := int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		blockLength := binary.LittleEndian.Uint32(data[offset:])
		offset += 4

		idx.entries = append(idx.entries, BlockIndexEntry{
			FirstKey:    key,
			BlockOffset: blockOffset,
			BlockLength: blockLength,
		})
	}
	return idx, nil
}

// Find returns the block that may hold key: the last block whose FirstKey <= key.
// found is false when key sorts before every block.
func (idx *Index) Find(key []byte) (entry BlockIndexEntry, found bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].FirstKey, key) > 0
	})
	if i == 0 {
		return BlockIndexEntry{}, false
	}
	return idx.entries[i-1], true
}

// blockFor returns the position of the block an iteration starting at key begins with.
func (idx *Index) blockFor(key []byte) int {
	if key == nil {
		return 0
	}
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].FirstKey, key) > 0
	})
	if i > 0 {
		return i - 1
	}
	return 0
}

// Len returns the number of blocks.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns the index entries. The slice must not be modified.
func (idx *Index) Entries() []BlockIndexEntry {
	return idx.entries
}
