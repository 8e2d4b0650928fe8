package observability

import (
	"log/slog"
	"os"

	"github.com/couchcryptid/township-etl/internal/config"
)

// NewLogger builds the process-wide structured logger from config.
// LOG_FORMAT selects json (default) or text output; LOG_LEVEL selects the
// minimum level, defaulting to info on unknown values.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
