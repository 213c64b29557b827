package compressors

import (
	"fmt"

	"github.com/INLOpen/phoneprefix/core"
)

// ForType returns a Compressor for the given on-disk CompressionType.
func ForType(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", compressionType)
	}
}

// ForName returns a Compressor for a configuration name such as "snappy".
func ForName(name string) (core.Compressor, error) {
	ct, ok := core.ParseCompressionType(name)
	if !ok {
		return nil, fmt.Errorf("unknown compression %q (want none, snappy, lz4 or zstd)", name)
	}
	return ForType(ct)
}
