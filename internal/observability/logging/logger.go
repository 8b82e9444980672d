package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger builds the service-tagged JSON logger both binaries use.
// It also becomes the process-wide default so package-level slog calls in
// infrastructure code share the same handler.
func NewJSONLogger(service, level string) *slog.Logger {
	logger := NewWriterLogger(os.Stdout, service, level)
	slog.SetDefault(logger)
	return logger
}

// NewWriterLogger is the testable variant; it does not touch the default.
func NewWriterLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("service", service)
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
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
