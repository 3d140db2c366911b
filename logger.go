package annex

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with annex-specific context.
// This provides structured logging with consistent field names.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogUpsert logs an upsert batch.
func (l *Logger) LogUpsert(ctx context.Context, namespace string, count, failed int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "upsert failed",
			"namespace", namespace,
			"count", count,
			"error", err,
		)
	case failed > 0:
		l.WarnContext(ctx, "upsert completed with rejected records",
			"namespace", namespace,
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	default:
		l.DebugContext(ctx, "upsert completed",
			"namespace", namespace,
			"count", count,
		)
	}
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, namespace string, k, resultsFound int, strategy string, partial bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"namespace", namespace,
			"k", k,
			"error", err,
		)
		return
	}
	if partial {
		l.WarnContext(ctx, "query returned partial results",
			"namespace", namespace,
			"k", k,
			"results", resultsFound,
			"strategy", strategy,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"namespace", namespace,
		"k", k,
		"results", resultsFound,
		"strategy", strategy,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, namespace string, count, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"namespace", namespace,
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"namespace", namespace,
			"count", count,
			"tombstoned", removed,
		)
	}
}

// LogIndexBatch logs one round of the background indexer.
func (l *Logger) LogIndexBatch(ctx context.Context, indexed int, elapsed time.Duration) {
	l.DebugContext(ctx, "index batch linked",
		"indexed", indexed,
		"elapsed", elapsed,
	)
}

// LogCompaction logs a compaction run.
func (l *Logger) LogCompaction(ctx context.Context, namespace string, reclaimed, relinked int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"namespace", namespace,
			"reclaimed", reclaimed,
			"relinked", relinked,
		)
	}
}

// LogSnapshot logs a snapshot save or restore.
func (l *Logger) LogSnapshot(ctx context.Context, op, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed",
			"key", key,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot "+op+" completed",
			"key", key,
		)
	}
}
