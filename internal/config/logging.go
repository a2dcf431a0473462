package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// newFanoutLogger builds a logger that writes human-readable text to console
// and structured JSON to sink.
func newFanoutLogger(console, sink io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(console, opts),
		slog.NewJSONHandler(sink, opts),
	))
}

// SetupLogger opens logFile for append and returns a logger that fans out to
// stderr (text) and the file (JSON), plus a close function for the file.
// If the file cannot be opened the logger degrades to stderr only.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logger.Warn("log file unavailable, logging to stderr only", "file", logFile, "error", err)
		return logger, func() error { return nil }
	}
	return newFanoutLogger(os.Stderr, file, level), file.Close
}

// SetupLoggerWithWriters is SetupLogger with injectable writers, for tests.
func SetupLoggerWithWriters(console, sink io.Writer, level slog.Level) *slog.Logger {
	return newFanoutLogger(console, sink, level)
}
