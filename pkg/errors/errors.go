// Package errors defines the error taxonomy shared across the bridge: transport
// failures, protocol violations, capability misuse, security rejections and
// timeouts.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// Sentinel errors.
var (
	ErrNotInitialized   = errors.New("client not initialized")
	ErrConnClosed       = errors.New("connection closed")
	ErrTransportClosed  = errors.New("transport closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrUnknownRequestID = errors.New("response for unknown request id")
	ErrAlreadyResolved  = errors.New("request already resolved")
	ErrSessionClosed    = errors.New("session closed")
)

// ProtocolError is an error reported by the peer in an ErrorResponse, or a
// local protocol violation that maps onto a JSON-RPC error code.
type ProtocolError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ProtocolError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("protocol error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// ErrorObject converts the error into its wire form.
func (e *ProtocolError) ErrorObject() *protocol.ErrorObject {
	obj := &protocol.ErrorObject{Code: e.Code, Message: e.Message}
	switch d := e.Data.(type) {
	case nil:
	case json.RawMessage:
		obj.Data = d
	default:
		if b, err := json.Marshal(d); err == nil {
			obj.Data = b
		}
	}
	return obj
}

// FromErrorObject converts a received error object into a ProtocolError.
func FromErrorObject(obj *protocol.ErrorObject) *ProtocolError {
	if obj == nil {
		return nil
	}
	pe := &ProtocolError{Code: obj.Code, Message: obj.Message}
	if len(obj.Data) > 0 {
		pe.Data = obj.Data
	}
	return pe
}

// NewMethodNotFound reports an unregistered request method.
func NewMethodNotFound(method string) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeMethodNotFound, Message: protocol.MsgMethodNotFound, Data: map[string]string{"method": method}}
}

// NewInvalidParams reports params that failed to decode or validate.
func NewInvalidParams(reason string) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeInvalidParams, Message: protocol.MsgInvalidParams, Data: reason}
}

// NewInvalidRequest reports a malformed envelope.
func NewInvalidRequest(reason string) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeInvalidRequest, Message: protocol.MsgInvalidRequest, Data: reason}
}

// NewInternalError wraps a handler failure.
func NewInternalError(err error) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeInternalError, Message: err.Error()}
}

// NewRateLimited reports an inbound request rejected by the limiter.
func NewRateLimited() *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeRateLimited, Message: protocol.MsgRateLimited}
}

// NewNotInitialized reports a request that arrived before the handshake.
func NewNotInitialized(method string) *ProtocolError {
	return &ProtocolError{Code: protocol.ErrCodeNotInitialized, Message: protocol.MsgNotInitialized, Data: map[string]string{"method": method}}
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// TimeoutError is returned when a request outlives its deadline.
type TimeoutError struct {
	Duration time.Duration
	Method   string
}

func (e *TimeoutError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("request %s timed out after %s", e.Method, e.Duration)
	}
	return fmt.Sprintf("request timed out after %s", e.Duration)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// CapabilityError is raised synchronously when an operation needs a capability
// the peer never advertised.
type CapabilityError struct {
	Capability string
	Operation  string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s requires capability %q which was not negotiated", e.Operation, e.Capability)
}

// ErrorObject converts the error into its wire form.
func (e *CapabilityError) ErrorObject() *protocol.ErrorObject {
	data, _ := json.Marshal(map[string]string{"capability": e.Capability, "operation": e.Operation})
	return &protocol.ErrorObject{Code: protocol.ErrCodeCapabilityMissing, Message: e.Error(), Data: data}
}

// IsCapabilityError reports whether err is or wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// SecurityError describes a message dropped because its origin or source did
// not match the expected peer.
type SecurityError struct {
	Reason   string
	Origin   string
	Expected string
}

func (e *SecurityError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("security: %s (origin %q, expected %q)", e.Reason, e.Origin, e.Expected)
	}
	return fmt.Sprintf("security: %s (origin %q)", e.Reason, e.Origin)
}

// IsSecurityError reports whether err is or wraps a SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}

// TransportError wraps a channel failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ToErrorObject maps any handler error onto a wire error object.
func ToErrorObject(err error) *protocol.ErrorObject {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.ErrorObject()
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.ErrorObject()
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return &protocol.ErrorObject{Code: protocol.ErrCodeRequestTimeout, Message: te.Error()}
	}
	return &protocol.ErrorObject{Code: protocol.ErrCodeInternalError, Message: err.Error()}
}
