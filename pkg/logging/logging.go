// Package logging provides the small structured logger used throughout the
// module, with a stdlib-backed writer, a no-op logger, a test logger and a
// log/slog adapter.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a logging severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a configuration string onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is the structured logging interface. keysAndValues alternate between
// a key and its value.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StdLogger writes through the standard library logger.
type StdLogger struct {
	level  Level
	logger *log.Logger
}

// NewStdLogger creates a logger writing to stderr at the given level.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{
		level:  level,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *StdLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DebugLevel, msg, keysAndValues)
}

func (l *StdLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(InfoLevel, msg, keysAndValues)
}

func (l *StdLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WarnLevel, msg, keysAndValues)
}

func (l *StdLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ErrorLevel, msg, keysAndValues)
}

func (l *StdLogger) log(level Level, msg string, keysAndValues []interface{}) {
	if level < l.level {
		return
	}
	l.logger.Print(format(level, msg, keysAndValues))
}

func format(level Level, msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v=?", keysAndValues[i])
		}
	}
	return b.String()
}

// NoopLogger discards everything.
type NoopLogger struct{}

// NewNoopLogger creates a logger that does nothing.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (NoopLogger) Debug(string, ...interface{}) {}
func (NoopLogger) Info(string, ...interface{})  {}
func (NoopLogger) Warn(string, ...interface{})  {}
func (NoopLogger) Error(string, ...interface{}) {}

// TestingT is the subset of testing.TB used by TestLogger.
type TestingT interface {
	Logf(format string, args ...interface{})
}

// TestLogger routes output to a test's log so it only shows on failure.
type TestLogger struct {
	t     TestingT
	mu    sync.RWMutex
	level Level
}

// NewTestLogger creates a TestLogger at debug level.
func NewTestLogger(t TestingT) *TestLogger {
	return &TestLogger{t: t, level: DebugLevel}
}

// SetLevel changes the minimum level.
func (l *TestLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *TestLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DebugLevel, msg, keysAndValues)
}

func (l *TestLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(InfoLevel, msg, keysAndValues)
}

func (l *TestLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WarnLevel, msg, keysAndValues)
}

func (l *TestLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ErrorLevel, msg, keysAndValues)
}

func (l *TestLogger) log(level Level, msg string, keysAndValues []interface{}) {
	l.mu.RLock()
	min := l.level
	l.mu.RUnlock()
	if level < min {
		return
	}
	l.t.Logf("%s", format(level, msg, keysAndValues))
}

// With returns a logger that prepends keysAndValues to every entry.
func With(logger Logger, keysAndValues ...interface{}) Logger {
	if logger == nil {
		return NewNoopLogger()
	}
	return &withLogger{base: logger, fields: keysAndValues}
}

type withLogger struct {
	base   Logger
	fields []interface{}
}

func (w *withLogger) merge(kv []interface{}) []interface{} {
	out := make([]interface{}, 0, len(w.fields)+len(kv))
	out = append(out, w.fields...)
	return append(out, kv...)
}

func (w *withLogger) Debug(msg string, kv ...interface{}) { w.base.Debug(msg, w.merge(kv)...) }
func (w *withLogger) Info(msg string, kv ...interface{})  { w.base.Info(msg, w.merge(kv)...) }
func (w *withLogger) Warn(msg string, kv ...interface{})  { w.base.Warn(msg, w.merge(kv)...) }
func (w *withLogger) Error(msg string, kv ...interface{}) { w.base.Error(msg, w.merge(kv)...) }
