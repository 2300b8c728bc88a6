package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler and minimum level.
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelWarn,
		Format: "text",
		Output: os.Stderr,
	}
}

// New builds a logger and installs it as slog's default. Output defaults to
// stderr so stdout stays free for the MCP transport.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
