package segvis

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/segid"
)

// Logger wraps slog.Logger with segvis-specific context.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithLayer adds a layer field to the logger.
func (l *Logger) WithLayer(name string) *Logger {
	return &Logger{Logger: l.Logger.With("layer", name)}
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(id segid.ID) *Logger {
	return &Logger{Logger: l.Logger.With("segment", id.String())}
}

// WithChunk adds a chunk field to the logger.
func (l *Logger) WithChunk(key chunk.Key) *Logger {
	return &Logger{Logger: l.Logger.With("chunk", key.Name())}
}

// WithSide adds the execution context to the logger.
func (l *Logger) WithSide(side string) *Logger {
	return &Logger{Logger: l.Logger.With("side", side)}
}

// LogLayerOpen logs the creation of a layer.
func (l *Logger) LogLayerOpen(ctx context.Context, name string, sources int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "layer open failed",
			"layer", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "layer opened",
		"layer", name,
		"sources", sources,
	)
}

// LogLayerClose logs the teardown of a layer.
func (l *Logger) LogLayerClose(ctx context.Context, name string, err error) {
	if err != nil {
		l.WarnContext(ctx, "layer close failed",
			"layer", name,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "layer closed", "layer", name)
}

// LogStateSave logs a state persistence operation.
func (l *Logger) LogStateSave(ctx context.Context, name string, version int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "state save failed",
			"layer", name,
			"version", version,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "state saved",
		"layer", name,
		"version", version,
	)
}

// LogStatus logs a sub-resource failure reported to the user.
func (l *Logger) LogStatus(ctx context.Context, name string, err error) {
	l.WarnContext(ctx, "layer status",
		"layer", name,
		"error", err,
	)
}
