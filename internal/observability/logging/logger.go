// Package logging provides structured logging utilities using the standard library's log/slog package.
// It offers helper functions for creating loggers with consistent configuration and context propagation.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Dir enables the file sink <Dir>/app.log next to stdout when non-empty.
	Dir string

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// New builds the application logger. When opts.Dir is set the returned
// Rotator owns the log file; the caller closes it on shutdown. If the log
// file cannot be opened New still returns a stdout-only logger, together
// with the error.
func New(opts Options) (*slog.Logger, *Rotator, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	if opts.Dir == "" {
		return NewLogger(out, opts.Level), nil, nil
	}

	rotator, err := NewRotator(opts.Dir)
	if err != nil {
		return NewLogger(out, opts.Level), nil, fmt.Errorf("open log file: %w", err)
	}
	return NewLogger(io.MultiWriter(out, rotator), opts.Level), rotator, nil
}

// NewLogger creates a new structured logger with JSON output.
func NewLogger(w io.Writer, level string) *slog.Logger {
	logLevel := ParseLevel(level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
		// Add source code location for error and warn levels
		AddSource: logLevel <= slog.LevelWarn,
	})

	return slog.New(handler).With(slog.String("service", "guildkeeper"))
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// ContextWithRunID stores the ID of the current job run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey, runID)
}

// RunIDFromContext returns the job run ID, or "" outside a job.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDContextKey).(string); ok {
		return id
	}
	return ""
}

// WithRunID returns a new logger that includes the run ID from the context.
func WithRunID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		return logger
	}
	return logger.With("run_id", runID)
}

// FromContext returns the logger stored by WithLogger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger stores logger in ctx. The scheduler stores each run's logger so
// job handlers log with the job name and run ID attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

type contextKey string

const (
	loggerContextKey contextKey = "logger"
	runIDContextKey  contextKey = "run_id"
)
