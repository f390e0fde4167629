package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

func TestFormatLogMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		kv   []interface{}
		want string
	}{
		{name: "no fields", msg: "ready", want: "ready"},
		{name: "one pair", msg: "loaded", kv: []interface{}{"count", 3}, want: "loaded {count: 3}"},
		{name: "two pairs", msg: "call", kv: []interface{}{"tool", "qr", "ok", true}, want: "call {tool: qr, ok: true}"},
		{name: "orphan key", msg: "odd", kv: []interface{}{"a", 1, "b"}, want: "odd {a: 1, b: ?}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLogMessage(tt.msg, tt.kv...))
		})
	}
}

func TestLogManager(t *testing.T) {
	var got []models.LoggingMessageParams
	m := NewLogManager(func(p models.LoggingMessageParams) { got = append(got, p) })
	assert.Equal(t, models.LoggingLevelInfo, m.Level())

	logger := NewLogAdapter(m, "widget")
	logger.Debug("hidden")
	logger.Info("shown")
	logger.Warn("careful", "retry", 2)
	logger.Error("failed")

	require.Len(t, got, 3)
	assert.Equal(t, models.LoggingLevelInfo, got[0].Level)
	assert.Equal(t, models.LoggingLevelWarning, got[1].Level)
	assert.True(t, got[1].Data.Equal(protocol.String("careful {retry: 2}")))
	assert.Equal(t, models.LoggingLevelError, got[2].Level)
	assert.Equal(t, "widget", got[2].Logger)

	got = nil
	m.SetLevel(models.LoggingLevelError)
	logger.Warn("dropped")
	logger.Error("kept")
	require.Len(t, got, 1)
	assert.True(t, got[0].Data.Equal(protocol.String("kept")))

	got = nil
	m.SetLevel(models.LoggingLevelDebug)
	m.Log(models.LoggingLevelNotice, map[string]interface{}{"rows": 2}, "db")
	require.Len(t, got, 1)
	assert.True(t, got[0].Data.Equal(protocol.MustValue(map[string]interface{}{"rows": 2})))
}

func TestLogManagerWithoutSink(t *testing.T) {
	m := NewLogManager(nil)
	assert.NotPanics(t, func() { NewLogAdapter(m, "x").Error("nowhere") })
}

// recordingLogger captures which method logAt picked.
type recordingLogger struct {
	last string
}

var _ logging.Logger = (*recordingLogger)(nil)

func (r *recordingLogger) Debug(string, ...interface{}) { r.last = "debug" }
func (r *recordingLogger) Info(string, ...interface{})  { r.last = "info" }
func (r *recordingLogger) Warn(string, ...interface{})  { r.last = "warn" }
func (r *recordingLogger) Error(string, ...interface{}) { r.last = "error" }

func TestLogAt(t *testing.T) {
	tests := []struct {
		level models.LoggingLevel
		want  string
	}{
		{models.LoggingLevelEmergency, "error"},
		{models.LoggingLevelCritical, "error"},
		{models.LoggingLevelError, "error"},
		{models.LoggingLevelWarning, "warn"},
		{models.LoggingLevelNotice, "info"},
		{models.LoggingLevelInfo, "info"},
		{models.LoggingLevelDebug, "debug"},
	}
	for _, tt := range tests {
		r := &recordingLogger{}
		logAt(r, tt.level, "msg")
		assert.Equal(t, tt.want, r.last, string(tt.level))
	}
}
