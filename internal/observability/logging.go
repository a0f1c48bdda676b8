// Package observability wires structured logging (log/slog), Prometheus
// metrics, and OpenTelemetry tracing for the orchestrator (SPEC_FULL.md A3).
package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds a slog.Logger writing JSON to stdout, the level parsed
// from the KESTREL_LOG_LEVEL value carried in config.LoggingConfig.Level.
// Unrecognized levels fall back to info rather than failing startup.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
