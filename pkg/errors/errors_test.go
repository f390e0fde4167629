package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Duration: 5 * time.Second}

	expected := "request timed out after 5s"
	if err.Error() != expected {
		t.Errorf("TimeoutError.Error() = %q, want %q", err.Error(), expected)
	}

	withMethod := &TimeoutError{Duration: time.Second, Method: "ui/resource-teardown"}
	assert.Equal(t, "request ui/resource-teardown timed out after 1s", withMethod.Error())

	if !IsTimeout(fmt.Errorf("teardown: %w", err)) {
		t.Errorf("IsTimeout(wrapped) = false, want true")
	}
	if IsTimeout(errors.New("some other error")) {
		t.Errorf("IsTimeout(otherErr) = true, want false")
	}
}

func TestProtocolError(t *testing.T) {
	err1 := &ProtocolError{Code: 400, Message: "Bad Request"}
	if got := err1.Error(); got != "protocol error 400: Bad Request" {
		t.Errorf("ProtocolError.Error() = %q", got)
	}

	err2 := &ProtocolError{Code: 404, Message: "Not Found", Data: "resource"}
	if got := err2.Error(); got != "protocol error 404: Not Found (data: resource)" {
		t.Errorf("ProtocolError.Error() = %q", got)
	}

	if !IsProtocolError(err1) {
		t.Errorf("IsProtocolError(err1) = false, want true")
	}
	if IsProtocolError(errors.New("some other error")) {
		t.Errorf("IsProtocolError(otherErr) = true, want false")
	}
}

func TestProtocolErrorWireForm(t *testing.T) {
	obj := NewMethodNotFound("ui/unknown").ErrorObject()
	assert.Equal(t, protocol.ErrCodeMethodNotFound, obj.Code)
	assert.JSONEq(t, `{"method":"ui/unknown"}`, string(obj.Data))

	back := FromErrorObject(&protocol.ErrorObject{Code: -32602, Message: "Invalid params", Data: json.RawMessage(`"bad"`)})
	require.NotNil(t, back)
	assert.Equal(t, -32602, back.Code)
	assert.Equal(t, json.RawMessage(`"bad"`), back.Data)
	assert.Nil(t, FromErrorObject(nil))
}

func TestCapabilityError(t *testing.T) {
	err := &CapabilityError{Capability: "serverTools", Operation: "tools/call"}
	assert.Equal(t, `tools/call requires capability "serverTools" which was not negotiated`, err.Error())
	assert.True(t, IsCapabilityError(fmt.Errorf("call: %w", err)))

	obj := ToErrorObject(err)
	assert.Equal(t, protocol.ErrCodeCapabilityMissing, obj.Code)
}

func TestSecurityAndTransportErrors(t *testing.T) {
	sec := &SecurityError{Reason: "origin mismatch", Origin: "https://evil.example", Expected: "https://host.example"}
	assert.Contains(t, sec.Error(), "evil.example")
	assert.True(t, IsSecurityError(sec))
	assert.False(t, IsSecurityError(ErrConnClosed))

	te := &TransportError{Op: "send", Err: ErrTransportClosed}
	assert.True(t, errors.Is(te, ErrTransportClosed))
	assert.True(t, IsTransportError(fmt.Errorf("wrapped: %w", te)))
	assert.Equal(t, "transport send: transport closed", te.Error())
}

func TestToErrorObject(t *testing.T) {
	assert.Equal(t, protocol.ErrCodeInternalError, ToErrorObject(errors.New("boom")).Code)
	assert.Equal(t, protocol.ErrCodeRequestTimeout, ToErrorObject(&TimeoutError{Duration: time.Second}).Code)
	assert.Equal(t, protocol.ErrCodeRateLimited, ToErrorObject(NewRateLimited()).Code)
}

func TestSentinelErrors(t *testing.T) {
	if ErrNotInitialized.Error() != "client not initialized" {
		t.Errorf("ErrNotInitialized.Error() = %q", ErrNotInitialized.Error())
	}
	if ErrConnClosed.Error() != "connection closed" {
		t.Errorf("ErrConnClosed.Error() = %q", ErrConnClosed.Error())
	}
}
