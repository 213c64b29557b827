package sstable

import (
	"errors"

	"github.com/INLOpen/phoneprefix/core"
)

// A shard file is laid out as:
//
//	FileHeader | data blocks | index checksum | index | bloom filter | min key | max key | notice | footer
//
// Every data block is: compression type (1) | CRC32 of payload (4) | payload.
// The decompressed payload holds prefix-compressed entries followed by the
// restart point offsets and their count.

// Size constants for lengths in the file format.
const (
	IndexOffsetSize       = 8 // uint64 for index offset
	IndexLenSize          = 4 // uint32 for index length
	BloomFilterOffsetSize = 8 // uint64 for bloom filter offset
	BloomFilterLenSize    = 4 // uint32 for bloom filter length
	MinKeyOffsetSize      = 8 // uint64 for min key offset
	MinKeyLenSize         = 4 // uint32 for min key length
	MaxKeyOffsetSize      = 8 // uint64 for max key offset
	MaxKeyLenSize         = 4 // uint32 for max key length
	NoticeOffsetSize      = 8 // uint64 for generated-file notice offset
	NoticeLenSize         = 4 // uint32 for generated-file notice length
	EntryCountSize        = 8 // uint64 for the total number of entries
)

// DefaultBlockSize specifies the target size for data blocks in bytes.
const DefaultBlockSize = 4 * 1024

// DefaultRestartPointInterval specifies how often a restart point is stored.
const DefaultRestartPointInterval = 16

// DefaultBloomFilterFalsePositiveRate is used when the writer options leave it unset.
const DefaultBloomFilterFalsePositiveRate = 0.01

// BlockHeaderSize is the size of the compression flag and checksum at the start of each data block.
const BlockHeaderSize = 1 + core.ChecksumSize

// FooterFixedComponentSize is the footer size excluding the magic string.
const FooterFixedComponentSize = IndexOffsetSize + IndexLenSize + BloomFilterOffsetSize + BloomFilterLenSize +
	MinKeyOffsetSize + MinKeyLenSize + MaxKeyOffsetSize + MaxKeyLenSize + NoticeOffsetSize + NoticeLenSize + EntryCountSize

// FooterSize is the total footer size.
const FooterSize = FooterFixedComponentSize + core.ShardMagicStringLen

var (
	// ErrNotFound is returned by Get when a key is not in the shard.
	ErrNotFound  = errors.New("key not found")
	ErrCorrupted = errors.New("shard data is corrupted")
	ErrClosed    = errors.New("shard is closed")
	// ErrOutOfOrder is returned by Writer.Add when keys are not strictly increasing.
	ErrOutOfOrder = errors.New("keys must be added in strictly increasing order")
)
