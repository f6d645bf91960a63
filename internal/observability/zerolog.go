package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "02-01-2006 15:04:05"

// ZeroLogger adapts a zerolog logger to the Logger interface.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger constructs a zerolog-backed Logger. Development environments
// receive console output; other environments emit JSON lines.
func NewZeroLogger(env, level string, writers ...io.Writer) (*ZeroLogger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	zerolog.DurationFieldUnit = time.Millisecond

	var output io.Writer
	switch {
	case len(writers) > 0:
		output = io.MultiWriter(writers...)
	case isDevEnv(env):
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	default:
		output = os.Stdout
	}

	logger := zerolog.New(output).With().Timestamp().Logger().Level(lvl)
	return &ZeroLogger{logger: logger}, nil
}

// Debug implements Logger.
func (l *ZeroLogger) Debug(msg string, fields ...Field) {
	emit(l.logger.Debug(), msg, fields)
}

// Info implements Logger.
func (l *ZeroLogger) Info(msg string, fields ...Field) {
	emit(l.logger.Info(), msg, fields)
}

// Warn implements Logger.
func (l *ZeroLogger) Warn(msg string, fields ...Field) {
	emit(l.logger.Warn(), msg, fields)
}

// Error implements Logger.
func (l *ZeroLogger) Error(msg string, fields ...Field) {
	emit(l.logger.Error(), msg, fields)
}

func emit(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, field := range fields {
		switch value := field.Value.(type) {
		case error:
			event = event.AnErr(field.Key, value)
		default:
			event = event.Interface(field.Key, value)
		}
	}
	event.Msg(msg)
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, err
	}
	return lvl, nil
}

func isDevEnv(env string) bool {
	return strings.EqualFold(env, "dev") || strings.EqualFold(env, "development")
}

var _ Logger = (*ZeroLogger)(nil)
