// Package logger provides structured logging for the game server.
// Every clock transition and player command should be traceable through it.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below Debug and is used for per-tick output.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "trace", "debug", "info", "warn" or "error" to a slog
// level. Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging with context.
type Logger struct {
	sl *slog.Logger
}

// NewLogger creates a logger writing text records to stderr at info level.
func NewLogger() *Logger {
	return New("info", os.Stderr)
}

// New creates a leveled logger writing to w.
func New(level string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return &Logger{sl: slog.New(slog.NewTextHandler(w, opts)).With("app", "mementos")}
}

// NewNop discards everything. Used by tests.
func NewNop() *Logger {
	return New("error", io.Discard)
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

// Trace logs per-tick detail.
func (l *Logger) Trace(msg string, args ...any) {
	l.sl.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs diagnostic messages.
func (l *Logger) Debug(msg string, args ...any) {
	l.sl.Debug(msg, args...)
}

// Info logs informational messages.
func (l *Logger) Info(msg string, args ...any) {
	l.sl.Info(msg, args...)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string, args ...any) {
	l.sl.Warn(msg, args...)
}

// Error logs error messages.
func (l *Logger) Error(msg string, args ...any) {
	l.sl.Error(msg, args...)
}

// Event logs a session event for the audit trail.
func (l *Logger) Event(eventType string, actorID string, details string) {
	l.sl.Info("event", "type", eventType, "actor", actorID, "details", details)
}
