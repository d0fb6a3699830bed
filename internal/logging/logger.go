package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	baseMu sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Configure sets the process-wide level and output format ("json" or "console").
// Loggers created afterwards pick up the new output.
func Configure(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	zerolog.SetGlobalLevel(parseLevel(level))

	var zl zerolog.Logger
	if strings.EqualFold(format, "json") {
		zl = zerolog.New(out)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	baseMu.Lock()
	base = zl.With().Timestamp().Logger()
	baseMu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured logging for the pipeline
type Logger struct {
	prefix string
	zl     zerolog.Logger
}

// NewLogger creates a new logger with a component prefix
func NewLogger(prefix string) *Logger {
	baseMu.RLock()
	zl := base.With().Str("component", prefix).Logger()
	baseMu.RUnlock()
	return &Logger{prefix: prefix, zl: zl}
}

// With returns a child logger carrying the given key-value pairs on every event.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.zl.With()
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
		} else {
			ctx = ctx.Interface("extra", keysAndValues[i])
		}
	}
	return &Logger{prefix: l.prefix, zl: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(evt *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if evt == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			evt = evt.Interface("extra", keysAndValues[i])
			break
		}
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case string:
			evt = evt.Str(key, v)
		case int:
			evt = evt.Int(key, v)
		case float64:
			evt = evt.Float64(key, v)
		case time.Duration:
			evt = evt.Dur(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}
