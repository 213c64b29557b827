package core

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// ShardWriterInterface defines the interface for a shard file writer.
// This allows for mocking the writer in tests.
type ShardWriterInterface interface {
	// Add appends one entry. Keys must be added in strictly increasing order.
	Add(key, value []byte) error
	Finish() error
	Abort() error
	FilePath() string
	CurrentSize() int64
	EntryCount() uint64
}

// ShardWriterOptions holds configuration for creating a new shard writer.
type ShardWriterOptions struct {
	// FilePath is the final path of the shard. The writer works on a
	// temporary sibling and renames it on Finish.
	FilePath                     string
	EstimatedKeys                uint64
	BloomFilterFalsePositiveRate float64
	BlockSize                    int
	Tracer                       trace.Tracer
	Compressor                   Compressor
	Logger                       *slog.Logger
}

// ShardWriterFactory creates shard writers. The compiler takes one so tests
// can inject failing writers.
type ShardWriterFactory func(opts ShardWriterOptions) (ShardWriterInterface, error)
