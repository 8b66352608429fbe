// Package logging provides the structured logger used by the cache engine.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Operation names a cache operation in log records.
type Operation string

// Operations logged by the engine.
const (
	OpAdmit    Operation = "admit"
	OpRetrieve Operation = "retrieve"
	OpFetch    Operation = "fetch"
	OpRemove   Operation = "remove"
	OpClear    Operation = "clear_all"
	OpEvict    Operation = "evict"
	OpCleanup  Operation = "cleanup"
	OpExpire   Operation = "expire_aged"
	OpPreload  Operation = "preload"
)

// Logger wraps a slog.Logger with cache specific helpers.
// The zero value and a nil *Logger discard everything.
type Logger struct {
	logger *slog.Logger
}

// New returns a Logger that writes through l. A nil l yields a no-op logger.
func New(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

// NewNop returns a Logger that discards all records.
func NewNop() *Logger {
	return &Logger{}
}

func (l *Logger) enabled() bool {
	return l != nil && l.logger != nil
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger with additional fields.
func (l *Logger) With(args ...any) *Logger {
	if !l.enabled() {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithOperation returns a logger tagged with operation.
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger tagged with a storage key.
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// LogOperation logs the outcome of a cache operation.
func (l *Logger) LogOperation(ctx context.Context, op Operation, duration time.Duration, size int64, err error) {
	if !l.enabled() {
		return
	}

	fields := []any{
		"operation", string(op),
		"duration_ms", duration.Milliseconds(),
		"success", err == nil,
	}
	if size > 0 {
		fields = append(fields, "size", size)
	}

	if err != nil {
		fields = append(fields, "error", err.Error())
		l.Warn(ctx, "cache operation failed", fields...)
		return
	}
	l.Debug(ctx, "cache operation completed", fields...)
}

// LogHit logs a content table hit.
func (l *Logger) LogHit(ctx context.Context, key string, size int64) {
	l.Debug(ctx, "cache hit", "key", key, "size", size, "result", "hit")
}

// LogMiss logs a content table miss.
func (l *Logger) LogMiss(ctx context.Context, key string, reason string) {
	l.Debug(ctx, "cache miss", "key", key, "reason", reason, "result", "miss")
}

// LogEviction logs the removal of a single entry.
func (l *Logger) LogEviction(ctx context.Context, key string, size int64, reason string) {
	l.Info(ctx, "cache entry evicted", "key", key, "size", size, "reason", reason)
}

// LogCleanup logs the result of a sweep.
func (l *Logger) LogCleanup(ctx context.Context, op Operation, removed int, duration time.Duration) {
	l.Info(ctx, "cache cleanup completed",
		"operation", string(op),
		"entries_removed", removed,
		"duration_ms", duration.Milliseconds())
}

// ParseLevel parses debug, info, warn or error (case insensitive).
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
