// Package logger builds the zerolog loggers used across marksync.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLevel is used when the configured level is empty or unknown.
const DefaultLevel = zerolog.InfoLevel

// ParseLevel maps a level name to a zerolog level, falling back to DefaultLevel.
func ParseLevel(name string) zerolog.Level {
	if name == "" {
		return DefaultLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return DefaultLevel
	}
	return level
}

// Setup returns a JSON logger writing to w at the given level.
func Setup(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// SetupConsole returns a human-readable logger for interactive commands.
func SetupConsole(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	return zerolog.New(cw).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// SetupDefault installs a JSON logger as the zerolog global logger.
func SetupDefault(w io.Writer, level string) zerolog.Logger {
	l := Setup(w, level)
	log.Logger = l
	return l
}
