package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the service logger. Production environments log JSON; anything
// else gets the console writer.
func New(environment string) zerolog.Logger {
	if environment == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewWithWriter creates a logger with a custom writer, used by tests.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
