package logkv

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific helpers so log lines use
// consistent field names across the package.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogRecovery logs the outcome of a log replay at open time.
func (l *Logger) LogRecovery(ctx context.Context, entries int, truncatedAt int64, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "log replay failed",
			"entries", entries,
			"error", err,
		)
	case truncatedAt >= 0:
		l.WarnContext(ctx, "truncated corrupt log tail",
			"entries", entries,
			"truncated_at", truncatedAt,
		)
	default:
		l.DebugContext(ctx, "log replay completed",
			"entries", entries,
		)
	}
}

// LogCommit logs a transaction commit.
func (l *Logger) LogCommit(ctx context.Context, entries int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"entries", entries,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"entries", entries,
			"bytes", bytes,
		)
	}
}

// LogMerge logs a merge/compaction run.
func (l *Logger) LogMerge(ctx context.Context, keep int, reclaimed int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"keys_kept", keep,
			"bytes_reclaimed", reclaimed,
			"duration", duration,
		)
	}
}

// LogDirtyRollback warns about a transaction that buffered writes but was
// rolled back instead of committed.
func (l *Logger) LogDirtyRollback(ctx context.Context, pending int) {
	l.WarnContext(ctx, "transaction with pending writes was rolled back",
		"pending", pending,
	)
}
