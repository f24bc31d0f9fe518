// Package logging configures the process-wide zerolog logger used by every
// component instead of fmt/log. Components take a *zerolog.Logger (usually
// via With().Str("component", ...)) rather than reaching for a global.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. levelName is case-insensitive
// (debug/info/warn/error); pretty switches to a human-readable console
// writer for local development, otherwise JSON lines go to out.
func New(levelName string, pretty bool, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	writer := out
	if pretty {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name, the
// convention every package in this module follows for its own logger field.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
