package core

import "fmt"

// This file centralizes constants related to file formats, magic numbers
// and file naming of the compiled artifact set.

// --- Magic Numbers ---
const (
	// ShardMagicNumber identifies a compiled prefix shard file.
	ShardMagicNumber uint32 = 0x50465853 // "PFXS"
	// ManifestMagicNumber identifies a binary shard manifest.
	ManifestMagicNumber uint32 = 0x50464D46 // "PFMF"
)

// --- Magic Strings ---
const (
	// ShardMagicString is placed at the very end of every shard file.
	ShardMagicString    = "PHONEPREFIX-SHARD-V1"
	ShardMagicStringLen = len(ShardMagicString)
)

// --- File Names & Extensions ---
const (
	// SourceFileExtension is the extension of the pipe-delimited source tables.
	SourceFileExtension = ".txt"
	// DefaultShardExtension is the extension of compiled shard files.
	DefaultShardExtension = ".sst"
	// ManifestFileName is the binary manifest written at the output root.
	ManifestFileName = "MANIFEST"
	// ManifestJSONFileName is the JSON manifest written at the output root.
	ManifestJSONFileName = "manifest.json"
	// LockFileName guards an output directory against concurrent runs.
	LockFileName = "LOCK"
	// TempFileSuffix is appended to files while they are being written.
	TempFileSuffix = ".tmp"
)

// CatchAllSuffix names the bucket that receives entries matching no planned
// bucket when the partition miss policy is "catchall".
const CatchAllSuffix = "unmatched"

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version for all persistent file formats.
	FormatVersion uint8 = 1
)

// GeneratedNotice is recorded in artifacts that must not be edited by hand.
const GeneratedNotice = "automatically generated by phoneprefix-build; do not modify directly"

// FormatTempFilename returns the temporary name used while writing path.
func FormatTempFilename(path string) string {
	return fmt.Sprintf("%s%s", path, TempFileSuffix)
}
