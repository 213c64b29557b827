package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBlock encodes entries the way Writer does, with a restart point every interval entries.
func buildBlock(t *testing.T, keys []string, interval int) []byte {
	t.Helper()
	var buf bytes.Buffer
	var restarts []uint32
	var last []byte
	var varint [binary.MaxVarintLen64]byte
	for i, k := range keys {
		shared := 0
		if i%interval == 0 {
			restarts = append(restarts, uint32(buf.Len()))
		} else {
			for shared < len(k) && shared < len(last) && k[shared] == last[shared] {
				shared++
			}
		}
		value := "v" + k
		for _, n := range []int{shared, len(k) - shared, len(value)} {
			buf.Write(varint[:binary.PutUvarint(varint[:], uint64(n))])
		}
		buf.WriteString(k[shared:])
		buf.WriteString(value)
		last = []byte(k)
	}
	for _, r := range restarts {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, r))
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(restarts))))
	return buf.Bytes()
}

func TestBlock_Find(t *testing.T) {
	var keys []string
	for i := 0; i < 100; i++ {
		keys = append(keys, fmt.Sprintf("33%04d", i*3))
	}
	block := NewBlock(buildBlock(t, keys, 16))

	for _, k := range keys {
		v, err := block.Find([]byte(k))
		require.NoError(t, err, k)
		assert.Equal(t, "v"+k, string(v))
	}
	for _, missing := range []string{"32", "330001", "339999", "34"} {
		_, err := block.Find([]byte(missing))
		assert.ErrorIs(t, err, ErrNotFound, missing)
	}
}

func TestBlock_Corrupted(t *testing.T) {
	_, err := NewBlock([]byte{1, 2}).Find([]byte("1"))
	assert.ErrorIs(t, err, ErrCorrupted)

	// Claims 1000 restart points in an 8 byte block.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[4:], 1000)
	_, err = NewBlock(data).Find([]byte("1"))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestBlockIterator_SharedPrefixOverrun(t *testing.T) {
	// shared=5 with no previous key.
	it := NewBlockIterator([]byte{5, 1, 1, 'a', 'b'})
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Error(), ErrCorrupted)
}
