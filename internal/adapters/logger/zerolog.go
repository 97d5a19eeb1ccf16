package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements the ports.Logger interface on top of zerolog,
// emitting structured JSON with a component tag.
type ZerologLogger struct {
	logger zerolog.Logger
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New creates a component-tagged logger writing JSON to stderr.
func New(component, level string) *ZerologLogger {
	return &ZerologLogger{
		logger: zerolog.New(os.Stderr).
			Level(ParseLevel(level)).
			With().
			Timestamp().
			Str("component", component).
			Logger(),
	}
}

// WithComponent derives a logger for a sub-component, sharing level and sink.
func (l *ZerologLogger) WithComponent(component string) *ZerologLogger {
	return &ZerologLogger{logger: l.logger.With().Str("component", component).Logger()}
}

// ParseLevel converts a level string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "info", "INFO", "":
		return zerolog.InfoLevel
	case "warn", "warning", "WARN", "WARNING":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func addFields(ev *zerolog.Event, fields ...map[string]interface{}) *zerolog.Event {
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			ev = ev.Interface(k, v)
		}
	}
	return ev
}

// Debug logs a message at Debug level.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	addFields(l.logger.Debug(), fields...).Msg(msg)
}

// Info logs a message at Info level.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	addFields(l.logger.Info(), fields...).Msg(msg)
}

// Warn logs a message at Warning level.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	addFields(l.logger.Warn(), fields...).Msg(msg)
}

// Error logs an error message at Error level.
func (l *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	addFields(l.logger.Error().Err(err), fields...).Msg(msg)
}
