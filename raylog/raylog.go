// Package raylog wraps zerolog: a process-wide Logger plus small With*
// helpers that attach the fields this engine cares about (component,
// generation, txid).
package raylog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init overwrites it; until Init is
// called it defaults to a human-readable console writer on stderr at info
// level, so library use in tests never panics on a nil logger.
var Logger zerolog.Logger

// Level mirrors the handful of levels callers are expected to configure.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration for Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global Logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the owning component
// (e.g. "pager", "wal", "compactor").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTxID returns a child logger tagged with a transaction id.
func WithTxID(txID uint64) zerolog.Logger {
	return Logger.With().Uint64("txid", txID).Logger()
}

// WithGeneration returns a child logger tagged with a snapshot generation.
func WithGeneration(gen uint64) zerolog.Logger {
	return Logger.With().Uint64("generation", gen).Logger()
}
