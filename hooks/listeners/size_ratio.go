package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/phoneprefix/hooks"
)

var (
	// The expvars are global, so they are registered once no matter how
	// many listeners are created.
	sizeMetricsOnce   sync.Once
	sourceBytesTotal  *expvar.Int
	shardBytesTotal   *expvar.Int
	compiledFileTotal *expvar.Int
)

func initSizeMetrics() {
	sizeMetricsOnce.Do(func() {
		sourceBytesTotal = expvar.NewInt("phoneprefix_source_bytes_total")
		shardBytesTotal = expvar.NewInt("phoneprefix_shard_bytes_total")
		compiledFileTotal = expvar.NewInt("phoneprefix_ratio_files_total")
		// Bytes written per byte of source text, computed on every scrape.
		expvar.Publish("phoneprefix_output_size_ratio", expvar.Func(func() interface{} {
			read := sourceBytesTotal.Value()
			if read == 0 {
				return 0.0
			}
			return float64(shardBytesTotal.Value()) / float64(read)
		}))
	})
}

// SizeRatioListener tracks how large the compiled output is compared to the
// source tables.
type SizeRatioListener struct {
	logger *slog.Logger

	sourceBytes *expvar.Int
	shardBytes  *expvar.Int
	files       *expvar.Int
}

// NewSizeRatioListener creates a listener for PostCompileFile and PostShardWrite events.
func NewSizeRatioListener(logger *slog.Logger) *SizeRatioListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initSizeMetrics()
	return &SizeRatioListener{
		logger:      logger.With("component", "SizeRatioListener"),
		sourceBytes: sourceBytesTotal,
		shardBytes:  shardBytesTotal,
		files:       compiledFileTotal,
	}
}

// OnEvent accumulates source and shard sizes.
func (l *SizeRatioListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.PostCompileFilePayload:
		if payload.Error != nil {
			return nil
		}
		l.sourceBytes.Add(payload.SourceBytes)
		l.files.Add(1)
	case hooks.PostShardWritePayload:
		l.shardBytes.Add(payload.Bytes)
		l.logger.Debug("Shard size recorded", "shard", payload.Shard.String(), "bytes", payload.Bytes)
	}
	return nil
}

// Ratio returns shard bytes per source byte seen so far.
func (l *SizeRatioListener) Ratio() float64 {
	read := l.sourceBytes.Value()
	if read == 0 {
		return 0
	}
	return float64(l.shardBytes.Value()) / float64(read)
}

// Priority defines the execution order. Lower numbers run first.
func (l *SizeRatioListener) Priority() int {
	return 100
}

// IsAsync indicates this listener can run in the background.
func (l *SizeRatioListener) IsAsync() bool {
	return true
}
