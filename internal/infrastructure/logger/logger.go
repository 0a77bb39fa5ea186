package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/config"
)

// NewLogger creates a new logger from config
func NewLogger(cfg *config.LoggingConfig) zerolog.Logger {
	return New(cfg.Level)
}

// New creates a new logger with specified level
func New(level string) zerolog.Logger {
	return newWithWriter(level, zerolog.ConsoleWriter{Out: os.Stdout})
}

func newWithWriter(level string, w io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel parses log level string to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
