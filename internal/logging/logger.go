package logging

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with a key/value call style:
//
//	logger.Info("segment written", "path", p, "blocks", n)
type Logger struct {
	zl zerolog.Logger
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(NewProduction())
}

// NewProduction creates a JSON logger on stderr at info level
func NewProduction() *Logger {
	return NewWithWriter(os.Stderr, zerolog.InfoLevel)
}

// NewDevelopment creates a console logger on stderr at debug level
func NewDevelopment() *Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, zerolog.DebugLevel)
}

// NewWithWriter creates a logger with custom writer
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	global.Store(logger)
}

// Global returns the global logger instance
func Global() *Logger {
	return global.Load()
}

// addFields appends key/value pairs to e. Errors are rendered with their
// message; a trailing key without value is dropped.
func addFields(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case int64:
			e = e.Int64(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	addFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	addFields(l.zl.Info(), fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	addFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	addFields(l.zl.Error(), fields).Msg(msg)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	addFields(l.zl.Fatal(), fields).Msg(msg)
}

// With creates a child logger carrying the given key/value pairs
func (l *Logger) With(fields ...interface{}) *Logger {
	zc := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			zc = zc.Interface(key, fields[i+1])
		}
	}
	return &Logger{zl: zc.Logger()}
}

// WithContext returns a logger with the job fields stored in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level
}

// Global convenience functions

func Debug(msg string, fields ...interface{}) { Global().Debug(msg, fields...) }
func Info(msg string, fields ...interface{})  { Global().Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { Global().Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { Global().Error(msg, fields...) }

// With creates a child of the global logger
func With(fields ...interface{}) *Logger {
	return Global().With(fields...)
}

// Err creates an error field
func Err(err error) (string, interface{}) {
	return "error", err
}
