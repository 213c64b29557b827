package sstable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_BuildAndFind(t *testing.T) {
	ib := &IndexBuilder{}
	ib.Add([]byte("1201"), 29, 100)
	ib.Add([]byte("1500"), 129, 90)
	ib.Add([]byte("1900"), 219, 80)

	data, checksum, err := ib.Build()
	require.NoError(t, err)

	idx, err := DeserializeIndex(data, checksum)
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())

	testCases := []struct {
		key       string
		wantFound bool
		wantOff   int64
	}{
		{key: "1200", wantFound: false},
		{key: "1201", wantFound: true, wantOff: 29},
		{key: "1499", wantFound: true, wantOff: 29},
		{key: "1500", wantFound: true, wantOff: 129},
		{key: "1899999", wantFound: true, wantOff: 129},
		{key: "999", wantFound: true, wantOff: 219},
	}
	for _, tc := range testCases {
		entry, found := idx.Find([]byte(tc.key))
		assert.Equal(t, tc.wantFound, found, tc.key)
		if tc.wantFound {
			assert.Equal(t, tc.wantOff, entry.BlockOffset, tc.key)
		}
	}

	assert.Equal(t, 0, idx.blockFor(nil))
	assert.Equal(t, 0, idx.blockFor([]byte("1")))
	assert.Equal(t, 1, idx.blockFor([]byte("16")))
}

func TestDeserializeIndex_ChecksumMismatch(t *testing.T) {
	ib := &IndexBuilder{}
	ib.Add([]byte("44"), 29, 10)
	data, checksum, err := ib.Build()
	require.NoError(t, err)

	_, err = DeserializeIndex(data, checksum+1)
	assert.ErrorIs(t, err, ErrCorrupted)
}
