// Package logger builds the process-root zerolog logger every component
// derives its child logger from.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the root logger. level accepts zerolog's textual levels (trace,
// debug, info, warn, error); anything unrecognized falls back to info. Output
// is a human-readable console when stdout is a terminal and JSON otherwise;
// LOG_FORMAT=json or LOG_FORMAT=console overrides the detection.
func New(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if useConsoleFormat() {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Logger()
}

func useConsoleFormat() bool {
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		return false
	case "console":
		return true
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// Component derives the child logger a subsystem logs through, tagged so log
// lines can be filtered per component.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}

// SetGlobalLogger routes zerolog's package-level logger through l.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
