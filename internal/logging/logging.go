// Package logging provides structured key/value logging for resyncd.
//
// Components take a *Logger and treat nil as "use the default stderr
// logger", so library code never has to care whether the host wired
// logging up.
package logging

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps charmbracelet/log with resyncd conventions.
type Logger struct {
	logger *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the shared stderr logger, creating it on first use.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr, "info")
	})
	return defaultLogger
}

// New creates a logger writing to w at the given level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "resyncd",
	})
	logger.SetLevel(parseLevel(level))
	return &Logger{logger: logger}
}

// NewFile creates a logger writing to a rotating log file.
// Rotation keeps up to 3 backups of 10MB each.
func NewFile(path, level string) *Logger {
	return New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}, level)
}

// NewTest creates a logger that writes to a buffer for assertions in tests.
func NewTest() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{
		ReportTimestamp: false,
		Prefix:          "test",
	})
	logger.SetLevel(log.DebugLevel)
	return &Logger{logger: logger}, &buf
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// orDefault lets callers pass a nil *Logger and still log somewhere.
func (l *Logger) orDefault() *Logger {
	if l == nil {
		return Default()
	}
	return l
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.orDefault().logger.Debug(msg, keyvals...)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.orDefault().logger.Info(msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.orDefault().logger.Warn(msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.orDefault().logger.Error(msg, keyvals...)
}

// With returns a logger with the given key/value pairs attached to
// every message.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{logger: l.orDefault().logger.With(keyvals...)}
}
