package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger creates a structured JSON logger writing to w at the given
// level, used by every CLI command.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// VerbosityLevel maps the CLI's -v/-vv flag count to a slog level.
func VerbosityLevel(count int) slog.Level {
	switch {
	case count >= 2:
		return slog.LevelDebug
	case count == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
