// Package logging builds the component-scoped log/slog loggers used
// across the Manager and Bridge (A2). Adapted from
// 99souls-ariadne/engine/telemetry/logging/logging.go's correlated-logger
// wrapper, trading trace/span correlation (this system carries no tracer)
// for component attribution via .With("component", ...).
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide base logger for format ("text" or "json")
// and level (debug/info/warn/error). The returned logger carries no
// component attribute; callers scope it per subsystem with Component.
func New(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Component returns a child logger tagged with the given component name,
// the scoping convention every package in this module uses.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
