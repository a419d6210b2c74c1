package worktable

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with table-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTable adds the table name to every record.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// WithQuery adds a query name field to the logger.
func (l *Logger) WithQuery(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", name),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, key any, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"key", key,
		)
	}
}

// LogUpdate logs an update operation. matched is the number of rows written.
func (l *Logger) LogUpdate(ctx context.Context, matched int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"matched", matched,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"matched", matched,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"deleted", deleted,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"deleted", deleted,
		)
	}
}

// LogUpsert logs an upsert and whether it took the insert path.
func (l *Logger) LogUpsert(ctx context.Context, key any, inserted bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"key", key,
			"inserted", inserted,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "upsert completed",
			"key", key,
			"inserted", inserted,
		)
	}
}

// LogScan logs a full scan.
func (l *Logger) LogScan(ctx context.Context, visited int, err error) {
	if err != nil {
		l.WarnContext(ctx, "scan aborted",
			"visited", visited,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "scan completed",
			"visited", visited,
		)
	}
}
