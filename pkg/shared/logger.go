package helpers

import (
	"log/slog"
	"os"
)

// NewLogger creates a new Logger with structured logging using slog.
// logLevel can be "debug", "info", "warn", or "error"
func NewLogger(serviceName, logLevel string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	})

	logger := slog.New(handler).With("service", serviceName)
	return logger
}

// ParseLevel converts a level name to a slog.Level, defaulting to info for
// anything unrecognised.
func ParseLevel(logLevel string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
