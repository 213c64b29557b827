package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// FileHeader is the standard header at the start of every shard and binary manifest.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
}

// FileHeaderSize is the encoded size of a FileHeader.
var FileHeaderSize = binary.Size(FileHeader{})

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a new header with the current time and specified magic number.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

// ReadFileHeader reads a header from r and checks its magic number and version.
func ReadFileHeader(r io.Reader, wantMagic uint32) (FileHeader, error) {
	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FileHeader{}, fmt.Errorf("failed to read file header: %w", err)
	}
	var h FileHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return FileHeader{}, fmt.Errorf("failed to parse file header: %w", err)
	}
	if h.Magic != wantMagic {
		return h, fmt.Errorf("invalid magic number. Got: %x, Want: %x", h.Magic, wantMagic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported format version. Got: %d, Want: %d", h.Version, FormatVersion)
	}
	return h, nil
}
