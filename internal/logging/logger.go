// Package logging builds the shared slog logger for the server and
// consumer binaries.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger on stdout at the given level. Levels are
// matched case-insensitively; anything unrecognized runs at info.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
