// Package log wires up the zerolog logger used across the engine.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for building the base logger.
type Config struct {
	Level  string    // "debug", "info", "warn", ... (default "info")
	JSON   bool      // emit JSON instead of console output
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger from the given config.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for library callers
// that did not configure logging.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
