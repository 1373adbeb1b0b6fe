// Package wirelog is the engine's structured logger: it records
// engine-level decisions (fresh/cached/run, cycle found, service state
// transition, cache hit/miss) and, at debug level, each line of child
// stdout/stderr. The executor also publishes those lines to internal/events
// for the watch TUI.
//
// Grounded on mattjoyce-senechal-gw/internal/log/logger.go: a
// sync.Once-initialized global slog.Logger with With*-style child-logger
// helpers, generalized from the teacher's fixed {component, plugin,
// job_id} fields to this engine's own {script, service} fields.
package wirelog

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger at the given level ("debug", "info",
// "warn", "error"; anything else falls back to "info"). Only the first call
// takes effect, matching the teacher's one-shot initialization.
func Setup(level string) {
	once.Do(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
		slog.SetDefault(logger)
	})
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

// Get returns the configured logger, initializing it at "info" level if
// Setup has not been called yet.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// WithScript returns a logger tagged with the script reference string.
func WithScript(ref string) *slog.Logger {
	return Get().With(slog.String("script", ref))
}

// WithService returns a logger tagged with a service's script reference
// and its current FSM state.
func WithService(ref, state string) *slog.Logger {
	return Get().With(slog.String("service", ref), slog.String("state", state))
}
