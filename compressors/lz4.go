package compressors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/phoneprefix/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor compresses shard blocks with the LZ4 block format.
//
// The LZ4 block format does not record the decompressed size, so every
// payload is prefixed with it as a uvarint. Incompressible input is stored
// raw behind a zero size.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

// maxLZ4BlockSize bounds what a corrupt size prefix can make us allocate.
const maxLZ4BlockSize = 64 << 20

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo writes uvarint(len(src)) followed by the compressed block, or
// uvarint(0) followed by src when LZ4 cannot shrink it.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var lenBuf [binary.MaxVarintLen64]byte
	if len(src) == 0 {
		n := binary.PutUvarint(lenBuf[:], 0)
		dst.Write(lenBuf[:n])
		return nil
	}

	block := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, block, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 || n >= len(src) {
		m := binary.PutUvarint(lenBuf[:], 0)
		dst.Write(lenBuf[:m])
		dst.Write(src)
		return nil
	}
	m := binary.PutUvarint(lenBuf[:], uint64(len(src)))
	dst.Write(lenBuf[:m])
	dst.Write(block[:n])
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errors.New("lz4 decompress error: missing size prefix")
	}
	payload := data[n:]
	if size == 0 {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	if size > maxLZ4BlockSize {
		return nil, fmt.Errorf("lz4 decompress error: declared size %d exceeds limit", size)
	}
	dst := make([]byte, size)
	written, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(written) != size {
		return nil, fmt.Errorf("lz4 decompress error: got %d bytes, want %d", written, size)
	}
	return io.NopCloser(bytes.NewReader(dst)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
