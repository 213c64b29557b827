package sstable

import (
	"github.com/INLOpen/phoneprefix/compressors"
	"github.com/INLOpen/phoneprefix/core"
)

// GetCompressor returns the Compressor that reads blocks of the given type.
func GetCompressor(compressionType core.CompressionType) (core.Compressor, error) {
	return compressors.ForType(compressionType)
}
