package olapcache

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/olapcache/segment"
)

// Logger wraps slog.Logger with olapcache-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSchema adds a schema field to the logger.
func (l *Logger) WithSchema(schema string) *Logger {
	return &Logger{Logger: l.Logger.With("schema", schema)}
}

// WithCube adds a cube field to the logger.
func (l *Logger) WithCube(cube string) *Logger {
	return &Logger{Logger: l.Logger.With("cube", cube)}
}

// WithMeasure adds a measure field to the logger.
func (l *Logger) WithMeasure(measure string) *Logger {
	return &Logger{Logger: l.Logger.With("measure", measure)}
}

// WithHeader adds the identifying fields of a segment header.
func (l *Logger) WithHeader(h *segment.Header) *Logger {
	return &Logger{Logger: l.Logger.With(
		"schema", h.Schema(),
		"cube", h.Cube(),
		"measure", h.Measure(),
		"constraints", h.Summary(),
	)}
}

// LogLoad logs a load call.
func (l *Logger) LogLoad(ctx context.Context, requests, loaded int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"requests", requests,
			"loaded", loaded,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "load completed",
			"requests", requests,
		)
	}
}

// LogFlush logs a flush.
func (l *Logger) LogFlush(ctx context.Context, region Region, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"region", region.String(),
			"removed", removed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"region", region.String(),
			"removed", removed,
		)
	}
}

// LogWarm logs a warm start.
func (l *Logger) LogWarm(ctx context.Context, added int, err error) {
	if err != nil {
		l.WarnContext(ctx, "warm start failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "warm start completed",
			"segments", added,
		)
	}
}
