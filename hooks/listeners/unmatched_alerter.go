package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/phoneprefix/hooks"
)

// UnmatchedAlerterListener logs a warning whenever a catch-all shard is
// written, so entries that matched no planned bucket stay visible.
type UnmatchedAlerterListener struct {
	logger *slog.Logger
}

// NewUnmatchedAlerterListener creates a new listener for PostShardWrite events.
func NewUnmatchedAlerterListener(logger *slog.Logger) *UnmatchedAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UnmatchedAlerterListener{
		logger: logger.With("component", "UnmatchedAlerterListener"),
	}
}

// OnEvent handles the PostShardWrite event.
func (l *UnmatchedAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostShardWrite {
		return nil
	}

	payload, ok := event.Payload().(hooks.PostShardWritePayload)
	if !ok {
		l.logger.Error("Received PostShardWrite event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	if !payload.Shard.Bucket.IsCatchAll() {
		return nil
	}

	l.logger.Warn("Catch-all shard written, some prefixes matched no planned bucket",
		"shard", payload.Shard.String(),
		"entries", payload.Entries,
		"path", payload.Path,
	)
	return nil
}

// Priority defines the execution order.
func (l *UnmatchedAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *UnmatchedAlerterListener) IsAsync() bool { return true }
