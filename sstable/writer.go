package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/phoneprefix/compressors"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/filter"
	"github.com/INLOpen/phoneprefix/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Writer builds one shard file. Keys must be added in strictly increasing
// byte order. The shard is written to a temporary sibling and only appears
// under its final name once Finish succeeds.
type Writer struct {
	finalPath string
	tempPath  string
	file      sys.FileHandle
	offset    int64

	indexBuilder *IndexBuilder
	bloomFilter  filter.Builder

	minKey     []byte
	maxKey     []byte
	entryCount uint64

	restartPointInterval int
	blockSize            int
	compressor           core.Compressor

	mu sync.Mutex

	currentBlockBuffer   bytes.Buffer
	currentBlockFirstKey []byte
	currentBlockLastKey  []byte
	numEntriesInBlock    int
	restartPoints        []uint32
	varintBuf            [binary.MaxVarintLen64]byte

	finished bool
	tracer   trace.Tracer
	logger   *slog.Logger
}

var _ core.ShardWriterInterface = (*Writer)(nil)

// NewWriter creates the temporary shard file and writes its header.
func NewWriter(opts core.ShardWriterOptions) (core.ShardWriterInterface, error) {
	if opts.FilePath == "" {
		return nil, errors.New("shard writer: empty file path")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Compressor == nil {
		opts.Compressor = &compressors.NoCompressionCompressor{}
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BloomFilterFalsePositiveRate == 0 {
		opts.BloomFilterFalsePositiveRate = DefaultBloomFilterFalsePositiveRate
	}

	bf, err := NewBloomFilter(opts.EstimatedKeys, opts.BloomFilterFalsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create bloom filter: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create shard directory for %s: %w", opts.FilePath, err)
	}
	tempPath := core.FormatTempFilename(opts.FilePath)
	file, err := sys.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary shard file %s: %w", tempPath, err)
	}

	header := core.NewFileHeader(core.ShardMagicNumber, opts.Compressor.Type())
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		_ = sys.Remove(tempPath)
		return nil, fmt.Errorf("failed to write shard header: %w", err)
	}

	return &Writer{
		finalPath:            opts.FilePath,
		tempPath:             tempPath,
		file:                 file,
		offset:               int64(header.Size()),
		indexBuilder:         &IndexBuilder{},
		bloomFilter:          bf,
		restartPointInterval: DefaultRestartPointInterval,
		blockSize:            opts.BlockSize,
		compressor:           opts.Compressor,
		tracer:               opts.Tracer,
		logger:               opts.Logger.With("component", "ShardWriter", "path", opts.FilePath),
	}, nil
}

// Add appends one entry.
func (w *Writer) Add(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished || w.file == nil {
		return ErrClosed
	}
	if w.entryCount > 0 && bytes.Compare(key, w.maxKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, w.maxKey)
	}

	entrySize := estimateEntrySize(len(key), len(value))
	if w.numEntriesInBlock > 0 && w.currentBlockBuffer.Len()+entrySize > w.blockSize {
		if err := w.flushCurrentBlock(); err != nil {
			return err
		}
	}

	isRestartPoint := w.numEntriesInBlock%w.restartPointInterval == 0
	if isRestartPoint {
		w.restartPoints = append(w.restartPoints, uint32(w.currentBlockBuffer.Len()))
	}

	sharedPrefixLen := 0
	if !isRestartPoint {
		limit := min(len(key), len(w.currentBlockLastKey))
		for sharedPrefixLen < limit && key[sharedPrefixLen] == w.currentBlockLastKey[sharedPrefixLen] {
			sharedPrefixLen++
		}
	}
	unsharedKey := key[sharedPrefixLen:]

	if w.currentBlockFirstKey == nil {
		w.currentBlockFirstKey = append([]byte(nil), key...)
	}
	if w.minKey == nil {
		w.minKey = append([]byte(nil), key...)
	}
	w.maxKey = append(w.maxKey[:0], key...)
	w.bloomFilter.Add(key)

	n := binary.PutUvarint(w.varintBuf[:], uint64(sharedPrefixLen))
	w.currentBlockBuffer.Write(w.varintBuf[:n])
	n = binary.PutUvarint(w.varintBuf[:], uint64(len(unsharedKey)))
	w.currentBlockBuffer.Write(w.varintBuf[:n])
	n = binary.PutUvarint(w.varintBuf[:], uint64(len(value)))
	w.currentBlockBuffer.Write(w.varintBuf[:n])
	w.currentBlockBuffer.Write(unsharedKey)
	w.currentBlockBuffer.Write(value)

	w.currentBlockLastKey = append(w.currentBlockLastKey[:0], key...)
	w.numEntriesInBlock++
	w.entryCount++
	return nil
}

// flushCurrentBlock compresses and writes the buffered block and indexes it.
// The caller must hold w.mu.
func (w *Writer) flushCurrentBlock() error {
	if w.numEntriesInBlock == 0 {
		return nil
	}

	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "ShardWriter.flushCurrentBlock")
		defer span.End()
	}

	for _, offset := range w.restartPoints {
		binary.Write(&w.currentBlockBuffer, binary.LittleEndian, offset)
	}
	binary.Write(&w.currentBlockBuffer, binary.LittleEndian, uint32(len(w.restartPoints)))

	uncompressed := w.currentBlockBuffer.Bytes()
	compressedBuf := core.BufferPool.Get()
	defer core.BufferPool.Put(compressedBuf)

	if err := w.compressor.CompressTo(compressedBuf, uncompressed); err != nil {
		return w.spanError(span, fmt.Errorf("failed to compress block: %w", err))
	}
	payload := compressedBuf.Bytes()

	blockOffset := w.offset
	blockLength := uint32(BlockHeaderSize + len(payload))

	var header [BlockHeaderSize]byte
	header[0] = byte(w.compressor.Type())
	binary.LittleEndian.PutUint32(header[1:], crc32.ChecksumIEEE(payload))
	if _, err := w.file.Write(header[:]); err != nil {
		return w.spanError(span, fmt.Errorf("failed to write block header at offset %d: %w", blockOffset, err))
	}
	if _, err := w.file.Write(payload); err != nil {
		return w.spanError(span, fmt.Errorf("failed to write data block at offset %d: %w", blockOffset, err))
	}
	w.offset += int64(blockLength)

	if span != nil {
		span.SetAttributes(
			attribute.Int64("shard.block.offset", blockOffset),
			attribute.Int("shard.block.uncompressed_len_bytes", len(uncompressed)),
			attribute.Int("shard.block.compressed_len_bytes", len(payload)),
			attribute.Int("shard.block.num_entries", w.numEntriesInBlock),
			attribute.String("shard.block.compression", w.compressor.Type().String()),
		)
	}
	w.logger.Debug("Flushed block", "offset", blockOffset, "entries", w.numEntriesInBlock,
		"uncompressed_len", len(uncompressed), "disk_len", blockLength)

	w.indexBuilder.Add(w.currentBlockFirstKey, blockOffset, blockLength)

	w.currentBlockBuffer.Reset()
	w.currentBlockFirstKey = nil
	w.currentBlockLastKey = w.currentBlockLastKey[:0]
	w.numEntriesInBlock = 0
	w.restartPoints = w.restartPoints[:0]
	return nil
}

func (w *Writer) spanError(span trace.Span, err error) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	w.logger.Error("Shard write failed", "error", err)
	return err
}

// Finish writes the index, bloom filter, key range, generated-file notice and footer, syncs the
// file and renames it to its final path. On any error the temporary file is
// removed.
func (w *Writer) Finish() (err error) {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "ShardWriter.Finish")
		span.SetAttributes(attribute.String("shard.path", w.finalPath))
		defer span.End()
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished || w.file == nil {
		return ErrClosed
	}
	defer func() {
		if err != nil {
			w.abort()
			w.spanError(span, err)
		}
	}()

	if err := w.flushCurrentBlock(); err != nil {
		return fmt.Errorf("failed to flush final block: %w", err)
	}

	indexData, indexChecksum, err := w.indexBuilder.Build()
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	var checksumBuf [core.ChecksumSize]byte
	binary.LittleEndian.PutUint32(checksumBuf[:], indexChecksum)
	if _, err := w.file.Write(checksumBuf[:]); err != nil {
		return fmt.Errorf("failed to write index checksum: %w", err)
	}
	w.offset += core.ChecksumSize

	sections := [][]byte{indexData, w.bloomFilter.Bytes(), w.minKey, w.maxKey, []byte(core.GeneratedNotice)}
	offsets := make([]uint64, len(sections))
	for i, section := range sections {
		offsets[i] = uint64(w.offset)
		n, err := w.file.Write(section)
		if err != nil {
			return fmt.Errorf("failed to write shard metadata section %d: %w", i, err)
		}
		w.offset += int64(n)
	}

	footerBuf := core.BufferPool.Get()
	defer core.BufferPool.Put(footerBuf)
	for i, section := range sections {
		binary.Write(footerBuf, binary.LittleEndian, offsets[i])
		binary.Write(footerBuf, binary.LittleEndian, uint32(len(section)))
	}
	binary.Write(footerBuf, binary.LittleEndian, w.entryCount)
	footerBuf.WriteString(core.ShardMagicString)

	if _, err := w.file.Write(footerBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	w.offset += int64(footerBuf.Len())

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync shard file: %w", err)
	}
	closeErr := w.file.Close()
	w.file = nil
	if closeErr != nil {
		return fmt.Errorf("failed to close shard file: %w", closeErr)
	}

	if err := sys.Rename(w.tempPath, w.finalPath); err != nil {
		return fmt.Errorf("failed to rename temporary shard file %s to %s: %w", w.tempPath, w.finalPath, err)
	}
	w.finished = true

	if span != nil {
		span.SetAttributes(
			attribute.Int64("shard.size_bytes", w.offset),
			attribute.Int64("shard.entries", int64(w.entryCount)),
			attribute.Int("shard.blocks", w.indexBuilder.Len()),
		)
	}
	w.logger.Debug("Shard written", "entries", w.entryCount, "blocks", w.indexBuilder.Len(), "size_bytes", w.offset)
	return nil
}

// abort closes and removes the temporary file. The caller must hold w.mu.
func (w *Writer) abort() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	w.finished = true
	if err := sys.Remove(w.tempPath); err != nil {
		return fmt.Errorf("failed to remove temporary shard file %s during abort: %w", w.tempPath, err)
	}
	return nil
}

// Abort discards the shard. It is a no-op after a successful Finish.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished && w.file == nil {
		return nil
	}
	return w.abort()
}

// estimateEntrySize bounds the encoded size of an entry before prefix sharing.
func estimateEntrySize(keyLen, valueLen int) int {
	return 3*binary.MaxVarintLen32 + keyLen + valueLen
}

// FilePath returns the final path of the shard.
func (w *Writer) FilePath() string {
	return w.finalPath
}

// CurrentSize returns the number of bytes written so far.
func (w *Writer) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// EntryCount returns the number of entries added.
func (w *Writer) EntryCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entryCount
}
