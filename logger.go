package relmigrate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Level log level
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// ParseLevel converts a level name to a Level, falling back to Info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is the logging facade used across relmigrate.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

type loggerKey struct{}

// WithLogFields attaches key/value pairs that every log line written with ctx will carry.
func WithLogFields(ctx context.Context, kv ...interface{}) context.Context {
	fields := make(map[string]interface{})
	if prev, ok := ctx.Value(loggerKey{}).(map[string]interface{}); ok {
		for k, v := range prev {
			fields[k] = v
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return context.WithValue(ctx, loggerKey{}, fields)
}

type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing JSON lines to w.
func NewLogger(w io.Writer, level Level) Logger {
	return &zeroLogger{zl: zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()}
}

// NewConsoleLogger creates a Logger writing human readable lines to w.
func NewConsoleLogger(w io.Writer, level Level) Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05.000"}
	return &zeroLogger{zl: zerolog.New(out).Level(zerologLevel(level)).With().Timestamp().Logger()}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, l.zl.Debug(), msg, args)
}

func (l *zeroLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, l.zl.Info(), msg, args)
}

func (l *zeroLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, l.zl.Warn(), msg, args)
}

func (l *zeroLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, l.zl.Error(), msg, args)
}

func (l *zeroLogger) log(ctx context.Context, event *zerolog.Event, msg string, args []interface{}) {
	if event == nil {
		return
	}
	if ctx != nil {
		if fields, ok := ctx.Value(loggerKey{}).(map[string]interface{}); ok {
			event = event.Fields(fields)
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	event.Msg(msg)
}
