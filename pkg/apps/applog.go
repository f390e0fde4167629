package apps

import (
	"fmt"
	"strings"
	"sync"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// LogManager filters log lines by level and hands the survivors to a sink.
type LogManager struct {
	mu    sync.RWMutex
	level models.LoggingLevel
	sink  func(params models.LoggingMessageParams)
}

// NewLogManager creates a manager at info level.
func NewLogManager(sink func(params models.LoggingMessageParams)) *LogManager {
	return &LogManager{
		level: models.LoggingLevelInfo,
		sink:  sink,
	}
}

// SetLevel sets the minimum level forwarded to the sink.
func (m *LogManager) SetLevel(level models.LoggingLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

// Level returns the current minimum level.
func (m *LogManager) Level() models.LoggingLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Log forwards data if level passes the threshold.
func (m *LogManager) Log(level models.LoggingLevel, data interface{}, logger string) {
	m.mu.RLock()
	min := m.level
	sink := m.sink
	m.mu.RUnlock()

	if sink == nil || !level.Enabled(min) {
		return
	}
	v, err := protocol.ValueOf(data)
	if err != nil {
		v = protocol.String(fmt.Sprint(data))
	}
	sink(models.LoggingMessageParams{Level: level, Logger: logger, Data: v})
}

// logAdapter exposes a LogManager as a logging.Logger.
type logAdapter struct {
	manager *LogManager
	name    string
}

// NewLogAdapter returns a logging.Logger that writes through m under name.
func NewLogAdapter(m *LogManager, name string) logging.Logger {
	return &logAdapter{manager: m, name: name}
}

func (a *logAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.manager.Log(models.LoggingLevelDebug, formatLogMessage(msg, keysAndValues...), a.name)
}

func (a *logAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.manager.Log(models.LoggingLevelInfo, formatLogMessage(msg, keysAndValues...), a.name)
}

func (a *logAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.manager.Log(models.LoggingLevelWarning, formatLogMessage(msg, keysAndValues...), a.name)
}

func (a *logAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.manager.Log(models.LoggingLevelError, formatLogMessage(msg, keysAndValues...), a.name)
}

// formatLogMessage renders "msg {k: v, k2: v2}". A trailing key without a
// value renders as "k: ?".
func formatLogMessage(msg string, keysAndValues ...interface{}) string {
	if len(keysAndValues) == 0 {
		return msg
	}

	var sb strings.Builder
	sb.WriteString(msg)
	sb.WriteString(" {")
	for i := 0; i < len(keysAndValues); i += 2 {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&sb, "%v: %v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&sb, "%v: ?", keysAndValues[i])
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// logAt maps a syslog level onto the four-level logger.
func logAt(l logging.Logger, level models.LoggingLevel, msg string, keysAndValues ...interface{}) {
	switch {
	case level.Enabled(models.LoggingLevelError):
		l.Error(msg, keysAndValues...)
	case level.Enabled(models.LoggingLevelWarning):
		l.Warn(msg, keysAndValues...)
	case level.Enabled(models.LoggingLevelInfo):
		l.Info(msg, keysAndValues...)
	default:
		l.Debug(msg, keysAndValues...)
	}
}
