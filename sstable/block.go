package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Block is one decompressed data block of a shard.
type Block struct {
	data []byte // entries followed by the restart point trailer
}

// NewBlock wraps decompressed block data.
func NewBlock(blockData []byte) *Block {
	return &Block{data: blockData}
}

// restartPoints returns the entry section and the restart offsets.
func (b *Block) restartPoints() ([]byte, []uint32, error) {
	if len(b.data) < 4 {
		return nil, nil, fmt.Errorf("block of %d bytes has no trailer: %w", len(b.data), ErrCorrupted)
	}
	numRestartPointsOffset := len(b.data) - 4
	numRestartPoints := binary.LittleEndian.Uint32(b.data[numRestartPointsOffset:])
	trailerSize := int(numRestartPoints)*4 + 4
	if trailerSize > len(b.data) {
		return nil, nil, fmt.Errorf("invalid block size %d, smaller than calculated trailer size %d: %w", len(b.data), trailerSize, ErrCorrupted)
	}
	entries := b.data[:len(b.data)-trailerSize]
	restarts := make([]uint32, numRestartPoints)
	base := len(b.data) - trailerSize
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(b.data[base+i*4:])
		if int(restarts[i]) > len(entries) {
			return nil, nil, fmt.Errorf("restart point %d beyond entry data: %w", restarts[i], ErrCorrupted)
		}
	}
	return entries, restarts, nil
}

// entriesData returns the entry section of the block, or nil if the block is corrupt.
func (b *Block) entriesData() []byte {
	entries, _, err := b.restartPoints()
	if err != nil {
		return nil
	}
	return entries
}

// Find looks key up in the block. It binary searches the restart points for
// the last one whose key is <= key and scans forward from there.
func (b *Block) Find(key []byte) ([]byte, error) {
	entries, restarts, err := b.restartPoints()
	if err != nil {
		return nil, err
	}

	var start uint32
	if len(restarts) > 0 {
		i := sort.Search(len(restarts), func(i int) bool {
			it := NewBlockIterator(entries[restarts[i]:])
			if it.Next() {
				return bytes.Compare(it.Key(), key) > 0
			}
			return true
		})
		if i > 0 {
			start = restarts[i-1]
		}
	}

	it := NewBlockIterator(entries[start:])
	for it.Next() {
		switch cmp := bytes.Compare(it.Key(), key); {
		case cmp == 0:
			return it.Value(), nil
		case cmp > 0:
			return nil, ErrNotFound
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("block find: iterator error: %w", err)
	}
	return nil, ErrNotFound
}

// BlockIterator iterates over the entries of a single block.
// Entry format: shared_key_len, unshared_key_len, value_len (uvarints),
// unshared key bytes, value bytes.
type BlockIterator struct {
	reader       *bytes.Reader
	previousKey  []byte
	currentKey   []byte
	currentValue []byte
	err          error
}

// NewBlockIterator creates an iterator over the entry section of a block.
func NewBlockIterator(entriesData []byte) *BlockIterator {
	return &BlockIterator{reader: bytes.NewReader(entriesData)}
}

// Next advances to the next entry.
func (bi *BlockIterator) Next() bool {
	if bi.err != nil || bi.reader.Len() == 0 {
		return false
	}

	sharedLen, err := binary.ReadUvarint(bi.reader)
	if err != nil {
		bi.err = fmt.Errorf("block iterator: failed to read shared_key_len: %w", err)
		return false
	}
	unsharedLen, err := binary.ReadUvarint(bi.reader)
	if err != nil {
		bi.err = fmt.Errorf("block iterator: failed to read unshared_key_len: %w", err)
		return false
	}
	valueLen, err := binary.ReadUvarint(bi.reader)
	if err != nil {
		bi.err = fmt.Errorf("block iterator: failed to read value_len: %w", err)
		return false
	}
	if sharedLen > uint64(len(bi.previousKey)) {
		bi.err = fmt.Errorf("block iterator: shared length %d exceeds previous key length %d: %w", sharedLen, len(bi.previousKey), ErrCorrupted)
		return false
	}
	if unsharedLen+valueLen > uint64(bi.reader.Len()) {
		bi.err = fmt.Errorf("block iterator: entry overruns block: %w", ErrCorrupted)
		return false
	}

	key := make([]byte, sharedLen+unsharedLen)
	copy(key, bi.previousKey[:sharedLen])
	if _, err := io.ReadFull(bi.reader, key[sharedLen:]); err != nil {
		bi.err = fmt.Errorf("block iterator: failed to read unshared key: %w", err)
		return false
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(bi.reader, value); err != nil {
		bi.err = fmt.Errorf("block iterator: failed to read value for key %s: %w", string(key), err)
		return false
	}

	bi.currentKey = key
	bi.currentValue = value
	bi.previousKey = append(bi.previousKey[:0], key...)
	return true
}

// Key returns the key of the current entry.
func (bi *BlockIterator) Key() []byte { return bi.currentKey }

// Value returns the value of the current entry.
func (bi *BlockIterator) Value() []byte { return bi.currentValue }

// Error returns any error encountered during iteration.
func (bi *BlockIterator) Error() error { return bi.err }
