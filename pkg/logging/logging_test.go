package logging

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCapturedStdLogger(level Level) (*StdLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewStdLogger(level)
	l.logger = log.New(&buf, "", 0) // No timestamps to make testing easier
	return l, &buf
}

func TestStdLogger(t *testing.T) {
	tests := []struct {
		name string
		emit func(Logger)
		want string
	}{
		{"debug", func(l Logger) { l.Debug("Debug message", "key1", "value1") }, "[DEBUG] Debug message key1=value1"},
		{"info", func(l Logger) { l.Info("Info message", "key2", "value2") }, "[INFO] Info message key2=value2"},
		{"warn", func(l Logger) { l.Warn("Warning message", "key3", "value3") }, "[WARN] Warning message key3=value3"},
		{"error", func(l Logger) { l.Error("Error message", "key4", "value4") }, "[ERROR] Error message key4=value4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newCapturedStdLogger(DebugLevel)
			tt.emit(l)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, buf.String())
			}
		})
	}
}

func TestStdLoggerLevels(t *testing.T) {
	l, buf := newCapturedStdLogger(InfoLevel)
	l.Debug("Debug message")
	if buf.String() != "" {
		t.Errorf("Expected no output for Debug at InfoLevel, got: %s", buf.String())
	}
	l.Info("Info message")
	if !strings.Contains(buf.String(), "[INFO] Info message") {
		t.Errorf("Expected Info message to be logged, got: %s", buf.String())
	}

	l, buf = newCapturedStdLogger(ErrorLevel)
	l.Debug("Debug message")
	l.Info("Info message")
	l.Warn("Warning message")
	if buf.String() != "" {
		t.Errorf("Expected no output below ErrorLevel, got: %s", buf.String())
	}
	l.Error("Error message")
	if !strings.Contains(buf.String(), "[ERROR] Error message") {
		t.Errorf("Expected Error message to be logged, got: %s", buf.String())
	}
}

func TestLogKeyValueFormatting(t *testing.T) {
	l, buf := newCapturedStdLogger(DebugLevel)

	l.Info("Multi KV", "key1", "value1", "key2", 42, "key3", true)
	for _, want := range []string{"key1=value1", "key2=42", "key3=true"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in log output, got: %s", want, buf.String())
		}
	}

	buf.Reset()
	l.Info("Odd KV", "key1", "value1", "orphaned")
	if !strings.Contains(buf.String(), "orphaned=?") {
		t.Errorf("Expected 'orphaned=?' in log output, got: %s", buf.String())
	}
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	logger.Debug("Debug message", "key", "value")
	logger.Info("Info message", "key", "value")
	logger.Warn("Warning message", "key", "value")
	logger.Error("Error message", "key", "value")
}

// mockTestingT implements the TestingT interface for testing.
type mockTestingT struct {
	logs []string
}

func (m *mockTestingT) Logf(format string, args ...interface{}) {
	m.logs = append(m.logs, fmt.Sprintf(format, args...))
}

func TestTestLoggerLevels(t *testing.T) {
	mockT := &mockTestingT{}
	logger := NewTestLogger(mockT)

	logger.Debug("Debug message", "key1", "value1")
	if len(mockT.logs) != 1 || !strings.Contains(mockT.logs[0], "[DEBUG] Debug message key1=value1") {
		t.Errorf("Expected Debug message to be logged, got: %v", mockT.logs)
	}

	mockT.logs = nil
	logger.SetLevel(InfoLevel)
	logger.Debug("Debug message")
	if len(mockT.logs) != 0 {
		t.Errorf("Expected no output for Debug at InfoLevel, got: %v", mockT.logs)
	}
	logger.Info("Info message")
	if len(mockT.logs) != 1 || !strings.Contains(mockT.logs[0], "[INFO] Info message") {
		t.Errorf("Expected Info message to be logged, got: %v", mockT.logs)
	}

	mockT.logs = nil
	logger.SetLevel(ErrorLevel)
	logger.Warn("Warning message")
	logger.Error("Error message", "orphaned")
	if len(mockT.logs) != 1 || !strings.Contains(mockT.logs[0], "[ERROR] Error message orphaned=?") {
		t.Errorf("Expected only the Error message, got: %v", mockT.logs)
	}
}

func TestWith(t *testing.T) {
	mockT := &mockTestingT{}
	logger := With(NewTestLogger(mockT), "session", "abc")
	logger.Info("bridge connected", "state", "awaiting-handshake")
	if assert.Len(t, mockT.logs, 1) {
		assert.Contains(t, mockT.logs[0], "session=abc state=awaiting-handshake")
	}
	assert.NotNil(t, With(nil))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogHandlerLogger(&buf, InfoLevel, true)
	logger.Debug("hidden")
	logger.Info("forwarded", "method", "tools/call")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"forwarded"`)
	assert.Contains(t, out, `"method":"tools/call"`)
}
