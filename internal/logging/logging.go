// Package logging configures the process-wide zerolog logger and hands out
// per-component child loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the log level and destination.
type Config struct {
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"-"`
	Output string `yaml:"output"` // "stderr" (default) or "stdout"
}

var root = zerolog.New(os.Stderr).With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init replaces the root logger according to cfg.
func Init(cfg Config) error {
	return InitWriter(cfg, nil)
}

// InitWriter is Init with an explicit writer; a nil w selects cfg.Output.
func InitWriter(cfg Config, w io.Writer) error {
	if w == nil {
		switch cfg.Output {
		case "", "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			return fmt.Errorf("unknown log output %q", cfg.Output)
		}
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
	}

	root = zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = root
	return nil
}

// Root returns the configured root logger.
func Root() zerolog.Logger {
	return root
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
