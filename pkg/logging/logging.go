// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared across components.
const (
	FieldComponent  = "component"
	FieldOrderID    = "order_id"
	FieldClientID   = "client_id"
	FieldEmployeeID = "employee_id"
	FieldRequestID  = "request_id"
)

// ParseLevel maps LOG_LEVEL values, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to w. Format "console" gives human readable output,
// anything else JSON lines.
func New(w io.Writer, level, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Setup replaces the global logger and returns it. The level given here only
// covers startup; SetLevel applies the configured one.
func Setup(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = New(os.Stderr, level, format)
	return log.Logger
}

// SetLevel applies a configured LOG_LEVEL to the global level and the global
// logger, and returns the parsed level for derived loggers.
func SetLevel(level string) zerolog.Level {
	l := ParseLevel(level)
	zerolog.SetGlobalLevel(l)
	log.Logger = log.Logger.Level(l)
	return l
}

// Component derives a child logger tagged with a component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str(FieldComponent, name).Logger()
}
