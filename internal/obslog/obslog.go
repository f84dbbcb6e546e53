// Package obslog provides the call shape used across this repo for
// structured logging: a handful of leveled methods taking a context and a
// message, plus leaf values built with F and Error. It exists because the
// cdr.dev/slog API this repo's style is grounded on isn't available here;
// everything below is a thin wrapper over the standard library's
// log/slog that keeps call sites looking the same.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

// Field is one structured key/value pair attached to a log line.
type Field = slog.Attr

// F builds a Field, mirroring cdr.dev/slog's slog.F(key, value).
func F(key string, value any) Field {
	return slog.Any(key, value)
}

// Error builds a Field for an error value, mirroring cdr.dev/slog's
// slog.Error(err).
func Error(err error) Field {
	return slog.Any("error", err)
}

// Logger is a structured logger that writes newline-delimited JSON to its
// underlying handler, one line per call.
type Logger struct {
	inner *slog.Logger
}

// New returns a Logger that writes JSON lines to w.
func New(w *os.File) Logger {
	return Logger{inner: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))}
}

// With returns a Logger that attaches fields to every subsequent line,
// mirroring cdr.dev/slog's Logger.With.
func (l Logger) With(fields ...Field) Logger {
	return Logger{inner: l.inner.With(attrsToAny(fields)...)}
}

// Debug logs at debug level.
func (l Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.inner.LogAttrs(ctx, slog.LevelDebug, msg, fields...)
}

// Info logs at info level.
func (l Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.inner.LogAttrs(ctx, slog.LevelInfo, msg, fields...)
}

// Warn logs at warn level.
func (l Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.inner.LogAttrs(ctx, slog.LevelWarn, msg, fields...)
}

// Error logs at error level.
func (l Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.inner.LogAttrs(ctx, slog.LevelError, msg, fields...)
}

func attrsToAny(fields []Field) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}
