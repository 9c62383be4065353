package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration. Every
// record carries the service name.
func NewLogger(cfg *Config, service string) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	logger := slog.New(handler)
	if service != "" {
		logger = logger.With(slog.String("service", service))
	}
	return logger
}
