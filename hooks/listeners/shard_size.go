package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/phoneprefix/hooks"
)

// ShardSizeThresholds bounds what a single shard may hold before a warning
// is logged. Zero disables a bound.
type ShardSizeThresholds struct {
	MaxEntries int
	MaxBytes   int64
}

// ShardSizeListener warns about shards that grew past the configured
// thresholds, which usually means a country needs an expansion rule.
type ShardSizeListener struct {
	logger     *slog.Logger
	thresholds ShardSizeThresholds
}

// NewShardSizeListener creates a listener for PostShardWrite events.
func NewShardSizeListener(logger *slog.Logger, thresholds ShardSizeThresholds) *ShardSizeListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ShardSizeListener{
		logger:     logger.With("component", "ShardSizeListener"),
		thresholds: thresholds,
	}
}

// OnEvent checks the written shard against the thresholds.
func (l *ShardSizeListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostShardWrite {
		return nil
	}
	payload, ok := event.Payload().(hooks.PostShardWritePayload)
	if !ok {
		l.logger.Error("Received PostShardWrite event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	if l.thresholds.MaxEntries > 0 && payload.Entries > l.thresholds.MaxEntries {
		l.logger.Warn("Shard exceeds entry threshold",
			"shard", payload.Shard.String(),
			"entries", payload.Entries,
			"max_entries", l.thresholds.MaxEntries,
		)
	}
	if l.thresholds.MaxBytes > 0 && payload.Bytes > l.thresholds.MaxBytes {
		l.logger.Warn("Shard exceeds size threshold",
			"shard", payload.Shard.String(),
			"bytes", payload.Bytes,
			"max_bytes", l.thresholds.MaxBytes,
		)
	}
	return nil
}

// Priority defines the execution order.
func (l *ShardSizeListener) Priority() int { return 100 }

// IsAsync reports false so warnings are logged next to the shard they refer to.
func (l *ShardSizeListener) IsAsync() bool { return false }
