package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/INLOpen/phoneprefix/filter"
	"github.com/bits-and-blooms/bitset"
)

// BloomFilter is a probabilistic membership set over shard keys. It never
// reports a false negative.
type BloomFilter struct {
	bits      *bitset.BitSet
	numBits   uint64
	numHashes uint32
}

var _ filter.Builder = (*BloomFilter)(nil)

// NewBloomFilter sizes a filter for numElements keys at the given false
// positive rate, which must lie in (0, 1).
func NewBloomFilter(numElements uint64, falsePositiveRate float64) (*BloomFilter, error) {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("invalid arguments for NewBloomFilter: falsePositiveRate must be (0, 1)")
	}
	if numElements == 0 {
		// Empty shards still carry a valid, minimal filter.
		return &BloomFilter{bits: bitset.New(64), numBits: 64, numHashes: 1}, nil
	}

	m := uint64(math.Ceil(float64(numElements) * math.Abs(math.Log(falsePositiveRate)) / (math.Ln2 * math.Ln2)))
	k := uint32(math.Ceil((float64(m) / float64(numElements)) * math.Ln2))
	if m < 64 {
		m = 64
	}
	if k == 0 {
		k = 1
	}

	return &BloomFilter{
		bits:      bitset.New(uint(m)),
		numBits:   m,
		numHashes: k,
	}, nil
}

// Add adds a key to the filter.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := fnvHash(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		bf.bits.Set(uint((uint64(h1) + uint64(i)*uint64(h2)) % bf.numBits))
	}
}

// Contains reports whether key may have been added.
func (bf *BloomFilter) Contains(key []byte) bool {
	if bf == nil || bf.bits == nil {
		return false
	}
	h1, h2 := fnvHash(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		if !bf.bits.Test(uint((uint64(h1) + uint64(i)*uint64(h2)) % bf.numBits)) {
			return false
		}
	}
	return true
}

// fnvHash splits one FNV-1a 64-bit hash into the two halves used for double hashing.
func fnvHash(data []byte) (uint32, uint32) {
	h := fnv.New64a()
	h.Write(data)
	hash64 := h.Sum64()
	return uint32(hash64), uint32(hash64 >> 32)
}

// Bytes serializes the filter as numBits (8) | numHashes (4) | bitset.
func (bf *BloomFilter) Bytes() []byte {
	bits, err := bf.bits.MarshalBinary()
	if err != nil {
		// MarshalBinary only fails on writer errors, and it writes to memory.
		panic(fmt.Sprintf("bloom filter: marshal bitset: %v", err))
	}
	buf := make([]byte, 12+len(bits))
	binary.LittleEndian.PutUint64(buf[0:8], bf.numBits)
	binary.LittleEndian.PutUint32(buf[8:12], bf.numHashes)
	copy(buf[12:], bits)
	return buf
}

// DeserializeBloomFilter is the inverse of Bytes.
func DeserializeBloomFilter(data []byte) (*BloomFilter, error) {
	if len(data) < 12 {
		return nil, errors.New("invalid bloom filter data: too short")
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint32(data[8:12])
	bits := new(bitset.BitSet)
	if err := bits.UnmarshalBinary(data[12:]); err != nil {
		return nil, fmt.Errorf("invalid bloom filter data: %w", err)
	}
	if numBits == 0 || numHashes == 0 || uint64(bits.Len()) < numBits {
		return nil, fmt.Errorf("invalid bloom filter data: inconsistent sizes. numBits: %d, numHashes: %d, bitsetLen: %d", numBits, numHashes, bits.Len())
	}
	return &BloomFilter{bits: bits, numBits: numBits, numHashes: numHashes}, nil
}
