package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a type for context keys
type contextKey string

const (
	// BenchmarkKey is the context key for the benchmark name
	BenchmarkKey contextKey = "benchmark"
	// RepetitionKey is the context key for the repetition index
	RepetitionKey contextKey = "repetition"
	// RankKey is the context key for the process rank
	RankKey contextKey = "rank"
)

// Config holds logging configuration
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// ParseLevel converts a level name into a slog.Level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the global logger
func Setup(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	handler = &ContextHandler{Handler: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ContextHandler adds context values to log records
type ContextHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing to the wrapped handler
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler in the chain
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handler in the chain
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if name, ok := ctx.Value(BenchmarkKey).(string); ok && name != "" {
		attrs = append(attrs, slog.String("benchmark", name))
	}
	if rep, ok := ctx.Value(RepetitionKey).(int); ok {
		attrs = append(attrs, slog.Int("repetition", rep))
	}
	if rank, ok := ctx.Value(RankKey).(int); ok {
		attrs = append(attrs, slog.Int("rank", rank))
	}
	return attrs
}

// WithBenchmark adds a benchmark name to the context
func WithBenchmark(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, BenchmarkKey, name)
}

// WithRepetition adds a repetition index to the context
func WithRepetition(ctx context.Context, rep int) context.Context {
	return context.WithValue(ctx, RepetitionKey, rep)
}

// WithRank adds the process rank to the context
func WithRank(ctx context.Context, rank int) context.Context {
	return context.WithValue(ctx, RankKey, rank)
}

// Logger returns a logger with additional context
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	var args []any
	for _, a := range contextAttrs(ctx) {
		args = append(args, a)
	}
	if len(args) > 0 {
		return logger.With(args...)
	}
	return logger
}

// Common log operations with context

// Debug logs a debug message
func Debug(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Debug(msg, args...)
}

// Info logs an info message
func Info(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Info(msg, args...)
}

// Warn logs a warning message
func Warn(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Warn(msg, args...)
}

// Error logs an error message
func Error(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Error(msg, args...)
}
