package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	if cfg == nil {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	opts.Level = parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(w, opts))
	if cfg.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	}
	return logger.With(slog.String("env", cfg.AppEnv))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
