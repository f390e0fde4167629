package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole(t *testing.T) {
	roles := []Role{RoleAssistant, RoleUser}
	expectedStrings := []string{"\"assistant\"", "\"user\""}

	for i, role := range roles {
		data, err := json.Marshal(role)
		if err != nil {
			t.Errorf("Failed to marshal Role %v: %v", role, err)
		}
		if string(data) != expectedStrings[i] {
			t.Errorf("Role marshaled incorrectly. Got %s, want %s", string(data), expectedStrings[i])
		}
	}
}

func TestImplementation(t *testing.T) {
	impl := Implementation{Name: "basic-host", Version: "1.0.0", Title: "Basic Host"}

	data, err := json.Marshal(impl)
	if err != nil {
		t.Fatalf("Failed to marshal Implementation: %v", err)
	}
	var decoded Implementation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal Implementation: %v", err)
	}
	if decoded != impl {
		t.Errorf("Implementation mismatch. Got %+v, want %+v", decoded, impl)
	}

	assert.NoError(t, impl.Validate())
	assert.Error(t, Implementation{Version: "1"}.Validate())
	assert.Error(t, Implementation{Name: "x"}.Validate())

	data, _ = json.Marshal(Implementation{Name: "x", Version: "1"})
	assert.JSONEq(t, `{"name":"x","version":"1"}`, string(data))
}

func TestLoggingLevelEnabled(t *testing.T) {
	tests := []struct {
		level LoggingLevel
		min   LoggingLevel
		want  bool
	}{
		{LoggingLevelDebug, LoggingLevelDebug, true},
		{LoggingLevelDebug, LoggingLevelInfo, false},
		{LoggingLevelWarning, LoggingLevelNotice, true},
		{LoggingLevelError, LoggingLevelCritical, false},
		{LoggingLevelEmergency, LoggingLevelAlert, true},
		{LoggingLevel("bogus"), LoggingLevelInfo, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.Enabled(tt.min), "%s >= %s", tt.level, tt.min)
	}
	assert.True(t, LoggingLevelNotice.Valid())
	assert.False(t, LoggingLevel("bogus").Valid())
}
