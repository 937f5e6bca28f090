// Package infra assembles the ambient machinery cmd/sweagent wires around a
// run: the slog handler, OpenTelemetry tracing decorators for the
// ModelClient/Executor seams, and a Prometheus metrics server for
// run-batch. None of it is imported by internal/agentloop itself — AgentLoop
// only depends on the narrow interfaces (model.ModelClient, its own
// Executor) these decorators wrap, the way the reference pack's gateway
// wraps a plain http.Handler with tracing middleware instead of teaching the
// handler about spans.
package infra

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/sweagent-go/sweagent/internal/config"
)

// NewLogger builds the process-wide *slog.Logger from a LoggingConfig: a
// JSON handler on stderr at StreamLevel, plus an optional second JSON
// handler appending to FilePath at FileLevel. The returned close function
// flushes and closes the file sink, if one was opened.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, func() error) {
	streamHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.StreamLevel)})

	if cfg.FilePath == "" {
		return slog.New(streamHandler), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger := slog.New(streamHandler)
		logger.Warn("could not open log file, logging to stream only", "path", cfg.FilePath, "error", err)
		return logger, func() error { return nil }
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: parseLevel(cfg.FileLevel)})

	return slog.New(fanOutHandler{streamHandler, fileHandler}), file.Close
}

// fanOutHandler implements slog.Handler by delegating to every wrapped
// handler; each handler's own level check still applies, so the stream and
// file sinks filter independently without a third-party logging framework.
type fanOutHandler []slog.Handler

func (f fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanOutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanOutHandler) WithGroup(name string) slog.Handler {
	out := make(fanOutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func parseLevel(level string) slog.Level {
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
