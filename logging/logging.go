package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the process logger. APP_ENV=development switches to the
// human readable console writer and debug level; everything else logs
// JSON at info level, or at the level named by LOG_LEVEL.
func New(service string) zerolog.Logger {
	appEnv := os.Getenv("APP_ENV")

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}
