// Package observability carries nanobot's ambient logging and metrics —
// structured logging via log/slog and a handful of Prometheus counters,
// neither of which any spec Non-goal excludes.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process-wide text logger. Components never call the
// slog package-level functions directly; they hold an injected *slog.Logger
// so tests can silence it with NewSilentLogger.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewSilentLogger returns a logger that discards everything, for tests.
func NewSilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
