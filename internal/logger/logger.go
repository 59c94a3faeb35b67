// Package logger provides structured leveled logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LoggerInterface is the logging contract consumed across the application.
type LoggerInterface interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) LoggerInterface
}

// Logger implements LoggerInterface using a JSON slog handler.
type Logger struct {
	handler *slog.Logger
}

// New creates a logger writing JSON lines to w at the given minimum level.
// Extra attrs, if any, are attached to every record.
func New(w io.Writer, level Level, serviceName string, attrs []slog.Attr) *Logger {
	opts := &slog.HandlerOptions{Level: toSlogLevel(level)}
	h := slog.NewJSONHandler(w, opts)

	base := []slog.Attr{slog.String("service", serviceName)}
	base = append(base, attrs...)

	return &Logger{
		handler: slog.New(h.WithAttrs(base)),
	}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string level name to a Level. Unknown names map to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Debug logs at debug level with key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.handler.DebugContext(ctx, msg, args...)
}

// Info logs at info level with key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.handler.InfoContext(ctx, msg, args...)
}

// Warn logs at warn level with key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.handler.WarnContext(ctx, msg, args...)
}

// Error logs at error level with key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.handler.ErrorContext(ctx, msg, args...)
}

// With returns a logger with additional attributes attached to every record.
func (l *Logger) With(args ...any) LoggerInterface {
	return &Logger{handler: l.handler.With(args...)}
}
