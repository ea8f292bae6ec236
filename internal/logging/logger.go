// Package logging provides structured logging for the sync layer.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	}
	return LevelInfo
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}

// Options configures the global logger.
type Options struct {
	Level LogLevel
	// File enables a rotating log file in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger writes JSON log lines through logrus.
type Logger struct {
	base   *logrus.Logger
	closer io.Closer
}

var (
	mu     sync.RWMutex
	global *Logger
)

// Init replaces the global logger with one writing to out.
func Init(out io.Writer, minLevel LogLevel) {
	set(newLogger(out, minLevel, nil))
}

// Configure builds the global logger from options. The returned closer
// releases the rotating file, if any.
func Configure(opts Options) io.Closer {
	var out io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}
	l := newLogger(out, opts.Level, closer)
	set(l)
	return l
}

func newLogger(out io.Writer, minLevel LogLevel, closer io.Closer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(minLevel.logrus())
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	return &Logger{base: base, closer: closer}
}

func set(l *Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// Get returns the global logger, creating a stderr INFO logger on first use.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = newLogger(os.Stderr, LevelInfo, nil)
	}
	return global
}

// Close releases the rotating file behind the logger, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Entry exposes a logrus entry for libraries that accept one.
func (l *Logger) Entry(component string) *logrus.Entry {
	return l.base.WithField("component", component)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.base.WithFields(merge(context...)).Debug(message)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.base.WithFields(merge(context...)).Info(message)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.base.WithFields(merge(context...)).Warn(message)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	entry := l.base.WithFields(merge(context...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	fields := merge(context...)
	fields["code"] = code
	entry := l.base.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

func merge(context ...map[string]interface{}) logrus.Fields {
	fields := make(logrus.Fields)
	for _, c := range context {
		for k, v := range c {
			fields[k] = v
		}
	}
	return fields
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
