package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production deployments set
// LOG_FORMAT=json so the host ERP's log shipper can parse transition and
// verification records; anything else gets the readable text handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
