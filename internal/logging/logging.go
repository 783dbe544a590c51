// Package logging builds the process-wide zerolog root logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root logger. Components derive their own logger via
// log.With().Str("component", name).Logger().
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// NewWithFile mirrors New but also duplicates output to a log file.
// The file receives the raw JSON stream so it stays machine-parseable.
func NewWithFile(verbose bool, path string) (zerolog.Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), err
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	multi := io.MultiWriter(console, f)
	return zerolog.New(multi).Level(level).With().Timestamp().Logger(), nil
}
