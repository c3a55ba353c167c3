// Package logging configures zerolog for the proxy.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs everything, including per-request strategy decisions.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ServiceName is attached to every log line.
const ServiceName = "offline-proxy"

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var output io.Writer = out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", ServiceName).
		Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
// It is derived from the global logger at call time, so call it after Setup.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hits, misses and detached writes (key, store)
//   - Background refresh outcomes
//   - Network failures that were answered from a fallback
//
// Info: Normal operation events
//   - Version installed, activated or purged
//   - Deferred write queue drained
//   - Connectivity restored
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Switching to offline mode
//   - Cache read or write errors (treated as miss)
//   - Precache entry and replay failures
//
// Error: Error conditions requiring attention
//   - Failed lifecycle triggers
//   - Backend unavailable at startup
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event (engine, queue, precache, ...)
//   - url: request URL
//   - class: request classification (sensitive, volatile, static, unclassified)
//   - key: cache key
//   - store: backend store name
//   - version: cache version
//   - status_code: HTTP status code
//   - error_class: upstream failure class (client, server, network)
