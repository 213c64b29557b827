package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/phoneprefix/cache"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/filter"
	"github.com/INLOpen/phoneprefix/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Shard is an open, read-only shard file.
type Shard struct {
	file     sys.FileHandle
	mu       sync.RWMutex
	filePath string
	header   core.FileHeader

	index      *Index
	filter     filter.Filter
	minKey     []byte
	maxKey     []byte
	notice     string
	entryCount uint64
	size       int64

	blockCache cache.Interface[[]byte]
	tracer     trace.Tracer
	logger     *slog.Logger

	closed atomic.Bool
}

// LoadOptions holds all parameters for opening a shard.
type LoadOptions struct {
	FilePath string
	// BlockCache, if set, holds decompressed blocks keyed by file path and offset.
	BlockCache cache.Interface[[]byte]
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Load opens a shard, verifies its header and footer and reads its index,
// bloom filter and key range into memory.
func Load(opts LoadOptions) (s *Shard, err error) {
	var span trace.Span
	if opts.Tracer != nil {
		_, span = opts.Tracer.Start(context.Background(), "Shard.Load")
		span.SetAttributes(attribute.String("shard.path", opts.FilePath))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	file, err := sys.Open(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard file %s: %w", opts.FilePath, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	header, err := core.ReadFileHeader(file, core.ShardMagicNumber)
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", opts.FilePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat shard file %s: %w", opts.FilePath, err)
	}
	fileSize := stat.Size()
	minValidSize := int64(header.Size() + core.ChecksumSize + FooterSize)
	if fileSize < minValidSize {
		return nil, fmt.Errorf("shard file %s is too small to be valid (size: %d, min: %d): %w", opts.FilePath, fileSize, minValidSize, ErrCorrupted)
	}

	footer := make([]byte, FooterSize)
	if _, err := file.ReadAt(footer, fileSize-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("failed to read footer from %s: %w", opts.FilePath, err)
	}
	if magic := string(footer[FooterFixedComponentSize:]); magic != core.ShardMagicString {
		return nil, fmt.Errorf("invalid magic string in shard file %s: got %q, want %q: %w", opts.FilePath, magic, core.ShardMagicString, ErrCorrupted)
	}

	type section struct {
		offset uint64
		length uint32
	}
	var sections [5]section // index, bloom filter, min key, max key, notice
	pos := 0
	for i := range sections {
		sections[i].offset = binary.LittleEndian.Uint64(footer[pos:])
		sections[i].length = binary.LittleEndian.Uint32(footer[pos+8:])
		pos += 12
		end := sections[i].offset + uint64(sections[i].length)
		if sections[i].offset < uint64(header.Size()) || end > uint64(fileSize-int64(FooterSize)) {
			return nil, fmt.Errorf("footer section %d [%d, %d) out of bounds in %s: %w", i, sections[i].offset, end, opts.FilePath, ErrCorrupted)
		}
	}
	entryCount := binary.LittleEndian.Uint64(footer[pos:])

	readSection := func(sec section) ([]byte, error) {
		buf := make([]byte, sec.length)
		if _, err := file.ReadAt(buf, int64(sec.offset)); err != nil {
			return nil, err
		}
		return buf, nil
	}

	bloomData, err := readSection(sections[1])
	if err != nil {
		return nil, fmt.Errorf("failed to read bloom filter data from %s: %w", opts.FilePath, err)
	}
	bf, err := DeserializeBloomFilter(bloomData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize filter from %s: %w", opts.FilePath, err)
	}

	// The index checksum sits immediately before the index.
	checksumBytes := make([]byte, core.ChecksumSize)
	if _, err := file.ReadAt(checksumBytes, int64(sections[0].offset)-core.ChecksumSize); err != nil {
		return nil, fmt.Errorf("failed to read index checksum from %s: %w", opts.FilePath, err)
	}
	indexData, err := readSection(sections[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read index data from %s: %w", opts.FilePath, err)
	}
	idx, err := DeserializeIndex(indexData, binary.LittleEndian.Uint32(checksumBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize index from %s: %w", opts.FilePath, err)
	}

	minKey, err := readSection(sections[2])
	if err != nil {
		return nil, fmt.Errorf("failed to read min key from %s: %w", opts.FilePath, err)
	}
	maxKey, err := readSection(sections[3])
	if err != nil {
		return nil, fmt.Errorf("failed to read max key from %s: %w", opts.FilePath, err)
	}

	notice, err := readSection(sections[4])
	if err != nil {
		return nil, fmt.Errorf("failed to read notice from %s: %w", opts.FilePath, err)
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int64("shard.size_bytes", fileSize),
			attribute.Int64("shard.entries", int64(entryCount)),
			attribute.Int("shard.blocks", idx.Len()),
		)
	}

	return &Shard{
		file:       file,
		filePath:   opts.FilePath,
		header:     header,
		index:      idx,
		filter:     bf,
		minKey:     minKey,
		maxKey:     maxKey,
		notice:     string(notice),
		entryCount: entryCount,
		size:       fileSize,
		blockCache: opts.BlockCache,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "Shard", "path", opts.FilePath),
	}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Shard) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return nil, ErrClosed
	}
	if s.entryCount == 0 || !s.filter.Contains(key) {
		return nil, ErrNotFound
	}
	if bytes.Compare(key, s.minKey) < 0 || bytes.Compare(key, s.maxKey) > 0 {
		return nil, ErrNotFound
	}

	blockMeta, found := s.index.Find(key)
	if !found {
		return nil, ErrNotFound
	}
	block, err := s.readBlock(blockMeta.BlockOffset, blockMeta.BlockLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read block for key %s: %w", string(key), err)
	}
	return block.Find(key)
}

// Contains checks if the key might be in the shard using the bloom filter.
func (s *Shard) Contains(key []byte) bool {
	if s.filter == nil {
		return true
	}
	return s.filter.Contains(key)
}

// LongestPrefix returns the longest key of the shard that is a prefix of
// number, together with its value. Candidates are tried from longest to
// shortest and the bloom filter rules most of them out without a block read.
func (s *Shard) LongestPrefix(number string) (prefix string, value []byte, err error) {
	var span trace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "Shard.LongestPrefix")
		defer span.End()
	}
	for l := len(number); l > 0; l-- {
		candidate := number[:l]
		v, err := s.Get([]byte(candidate))
		if err == nil {
			if span != nil {
				span.SetAttributes(attribute.Int("shard.match_len", l))
			}
			return candidate, v, nil
		}
		if err != ErrNotFound {
			return "", nil, err
		}
	}
	return "", nil, ErrNotFound
}

// readBlock reads, verifies and decompresses a block, going through the
// block cache when one is configured. The caller must hold s.mu.
func (s *Shard) readBlock(offset int64, length uint32) (*Block, error) {
	if s.file == nil {
		return nil, ErrClosed
	}
	var span trace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "Shard.readBlock")
		span.SetAttributes(attribute.Int64("shard.block_offset", offset), attribute.Int64("shard.block_length", int64(length)))
		defer span.End()
	}

	var cacheKey string
	if s.blockCache != nil {
		cacheKey = fmt.Sprintf("%s@%d", s.filePath, offset)
		if data, ok := s.blockCache.Get(cacheKey); ok {
			if span != nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
			}
			return NewBlock(data), nil
		}
	}

	payload, compressionType, err := s.readAndVerifyRawBlock(offset, length)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read_raw_block_failed")
		}
		return nil, err
	}
	data, err := decompressBlock(payload, compressionType, offset)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decompress_block_failed")
		}
		return nil, err
	}

	if s.blockCache != nil {
		s.blockCache.Put(cacheKey, data)
	}
	return NewBlock(data), nil
}

// readAndVerifyRawBlock reads a block from disk and checks its CRC32.
func (s *Shard) readAndVerifyRawBlock(offset int64, length uint32) ([]byte, core.CompressionType, error) {
	if length < BlockHeaderSize {
		return nil, 0, fmt.Errorf("block length %d is too small to include compression flag and checksum (offset: %d): %w", length, offset, ErrCorrupted)
	}
	buf := make([]byte, length)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, 0, err
	}
	storedChecksum := binary.LittleEndian.Uint32(buf[1:BlockHeaderSize])
	payload := buf[BlockHeaderSize:]
	if crc32.ChecksumIEEE(payload) != storedChecksum {
		return nil, 0, fmt.Errorf("checksum mismatch for block at offset %d: %w", offset, ErrCorrupted)
	}
	return payload, core.CompressionType(buf[0]), nil
}

func decompressBlock(data []byte, compressionType core.CompressionType, offset int64) ([]byte, error) {
	decompressor, err := GetCompressor(compressionType)
	if err != nil {
		return nil, fmt.Errorf("failed to get decompressor for block at offset %d: %w", offset, err)
	}
	rc, err := decompressor.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block at offset %d: %w", offset, err)
	}
	defer rc.Close()

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, fmt.Errorf("failed to copy decompressed block at offset %d: %w", offset, err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// NewIterator scans entries with keys in [startKey, endKey). Nil bounds are open.
func (s *Shard) NewIterator(startKey, endKey []byte) (*Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return newIterator(s, startKey, endKey), nil
}

// ReadAll loads every entry into a PrefixTable in key order.
func (s *Shard) ReadAll() (*core.PrefixTable, error) {
	it, err := s.NewIterator(nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	table := core.NewPrefixTable(int(s.entryCount))
	for it.Next() {
		table.Set(string(it.Key()), string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", s.filePath, err)
	}
	return table, nil
}

// Close closes the shard file. Closing twice returns ErrClosed.
func (s *Shard) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// Len returns the number of entries in the shard.
func (s *Shard) Len() uint64 { return s.entryCount }

// MinKey returns the smallest key, or nil for an empty shard.
func (s *Shard) MinKey() []byte { return s.minKey }

// MaxKey returns the largest key, or nil for an empty shard.
func (s *Shard) MaxKey() []byte { return s.maxKey }

// Size returns the file size in bytes.
func (s *Shard) Size() int64 { return s.size }

// Notice returns the generated-file notice stored by the writer.
func (s *Shard) Notice() string { return s.notice }

// FilePath returns the path the shard was loaded from.
func (s *Shard) FilePath() string { return s.filePath }

// Compression returns the compression type recorded in the header.
func (s *Shard) Compression() core.CompressionType { return s.header.CompressorType }

// CreatedAt returns the time the shard was written.
func (s *Shard) CreatedAt() time.Time { return time.Unix(0, s.header.CreatedAt) }

// Index returns the block index.
func (s *Shard) Index() *Index { return s.index }

// VerifyIntegrity checks the shard metadata for consistency. With deepCheck
// every block is read and every key checked against the bloom filter and
// the recorded entry count.
func (s *Shard) VerifyIntegrity(deepCheck bool) []error {
	if s.closed.Load() {
		return []error{ErrClosed}
	}
	var errs []error

	if s.entryCount > 0 && bytes.Compare(s.minKey, s.maxKey) > 0 {
		errs = append(errs, fmt.Errorf("shard %s: MinKey %q > MaxKey %q", s.filePath, s.minKey, s.maxKey))
	}
	if (s.entryCount == 0) != (s.index.Len() == 0) {
		errs = append(errs, fmt.Errorf("shard %s: %d entries but %d blocks", s.filePath, s.entryCount, s.index.Len()))
	}
	entries := s.index.Entries()
	for i := 0; i+1 < len(entries); i++ {
		if bytes.Compare(entries[i].FirstKey, entries[i+1].FirstKey) >= 0 {
			errs = append(errs, fmt.Errorf("shard %s: index not sorted at entry %d (%q >= %q)", s.filePath, i, entries[i].FirstKey, entries[i+1].FirstKey))
		}
	}
	if len(entries) > 0 && !bytes.Equal(s.minKey, entries[0].FirstKey) {
		errs = append(errs, fmt.Errorf("shard %s: MinKey %q does not match first index key %q", s.filePath, s.minKey, entries[0].FirstKey))
	}
	if !deepCheck {
		return errs
	}

	it := newIterator(s, nil, nil)
	defer it.Close()
	var count uint64
	var last []byte
	for it.Next() {
		key := it.Key()
		if count > 0 && bytes.Compare(last, key) >= 0 {
			errs = append(errs, fmt.Errorf("shard %s: key %q out of order after %q", s.filePath, key, last))
		}
		if !s.filter.Contains(key) {
			errs = append(errs, fmt.Errorf("shard %s: bloom filter returned false negative for key %q", s.filePath, key))
		}
		last = append(last[:0], key...)
		count++
	}
	if err := it.Error(); err != nil {
		errs = append(errs, fmt.Errorf("shard %s: scan failed: %w", s.filePath, err))
	} else if count != s.entryCount {
		errs = append(errs, fmt.Errorf("shard %s: footer records %d entries, scan found %d", s.filePath, s.entryCount, count))
	} else if count > 0 && !bytes.Equal(last, s.maxKey) {
		errs = append(errs, fmt.Errorf("shard %s: MaxKey %q does not match last key %q", s.filePath, s.maxKey, last))
	}
	return errs
}
