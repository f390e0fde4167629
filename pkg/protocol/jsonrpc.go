// Package protocol provides the JSON-RPC envelope and value types shared by the
// host and guest sides of an MCP Apps session.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only envelope version accepted on the wire.
const JSONRPCVersion = "2.0"

// RequestID identifies a request for correlation. It is either an integer or a
// string; the zero value is not a valid id.
type RequestID struct {
	num   int64
	str   string
	isStr bool
	set   bool
}

// NewNumberID creates an integer request id.
func NewNumberID(n int64) RequestID {
	return RequestID{num: n, set: true}
}

// NewStringID creates a string request id.
func NewStringID(s string) RequestID {
	return RequestID{str: s, isStr: true, set: true}
}

// IsZero reports whether the id was never assigned.
func (id RequestID) IsZero() bool { return !id.set }

// IsString reports whether the id carries a string value.
func (id RequestID) IsString() bool { return id.isStr }

// Number returns the integer value and whether the id is numeric.
func (id RequestID) Number() (int64, bool) {
	return id.num, id.set && !id.isStr
}

// String renders the id for logs.
func (id RequestID) String() string {
	switch {
	case !id.set:
		return "<none>"
	case id.isStr:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.set:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Integral JSON numbers written in
// float form (1.0, 1e2) normalize to the integer id so that peers which round
// trip ids through doubles still correlate.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = RequestID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err == nil {
		*id = NewNumberID(n)
		return nil
	}
	f, ferr := strconv.ParseFloat(string(data), 64)
	if ferr != nil || f != float64(int64(f)) {
		return fmt.Errorf("invalid request id %s", string(data))
	}
	*id = NewNumberID(int64(f))
	return nil
}

// Kind classifies a Message by its structure.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
	KindErrorResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error"
	default:
		return "invalid"
	}
}

// Message represents the unified JSON-RPC message. Exactly one of the four
// envelope shapes is encoded depending on which fields are set.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject contains the error details for a JSON-RPC error response
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Kind reports which envelope shape the message has.
func (m *Message) Kind() Kind {
	if m == nil {
		return KindInvalid
	}
	hasID := m.ID != nil && !m.ID.IsZero()
	switch {
	case m.Method != "" && m.Result == nil && m.Error == nil:
		if hasID {
			return KindRequest
		}
		return KindNotification
	case m.Method == "" && m.Error != nil && m.Result == nil:
		// Error responses may carry a null id when the request could not be parsed.
		return KindErrorResponse
	case m.Method == "" && hasID && m.Result != nil && m.Error == nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// Validate checks the envelope version and shape.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if m.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("unsupported jsonrpc version %q", m.JSONRPC)
	}
	if m.Kind() == KindInvalid {
		return fmt.Errorf("message is not a request, notification or response")
	}
	return nil
}

// Clone returns a deep copy so that a message handed across an in-process
// link cannot be mutated by the sender afterwards.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{JSONRPC: m.JSONRPC, Method: m.Method}
	if m.ID != nil {
		id := *m.ID
		c.ID = &id
	}
	c.Params = cloneRaw(m.Params)
	c.Result = cloneRaw(m.Result)
	if m.Error != nil {
		c.Error = &ErrorObject{Code: m.Error.Code, Message: m.Error.Message, Data: cloneRaw(m.Error.Data)}
	}
	return c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// Server error codes are from -32000 to -32099
	ErrCodeConnectionClosed  = -32000
	ErrCodeRequestTimeout    = -32001
	ErrCodeNotInitialized    = -32002
	ErrCodeRateLimited       = -32005
	ErrCodeCapabilityMissing = -32010
	ErrCodeRequestCancelled  = -32800
)

// Error message constants
const (
	MsgParseError     = "Parse error"
	MsgInvalidRequest = "Invalid request"
	MsgMethodNotFound = "Method not found"
	MsgInvalidParams  = "Invalid params"
	MsgInternalError  = "Internal error"

	MsgNotInitialized    = "Session not initialized"
	MsgRateLimited       = "Too many requests"
	MsgCapabilityMissing = "Capability not negotiated"
	MsgRequestTimeout    = "Request timed out"
)

// NewRequest creates a new JSON-RPC request.
func NewRequest(id RequestID, method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification creates a new JSON-RPC notification.
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResponse creates a new JSON-RPC response. A json.RawMessage result is
// relayed without re-encoding; a nil result encodes as an empty object.
func NewResponse(id RequestID, result interface{}) (*Message, error) {
	var raw json.RawMessage
	switch r := result.(type) {
	case nil:
		raw = json.RawMessage("{}")
	case json.RawMessage:
		if len(r) == 0 {
			raw = json.RawMessage("{}")
		} else {
			raw = r
		}
	default:
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		raw = b
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: &id, Result: raw}, nil
}

// NewErrorResponse creates a new JSON-RPC error response. A zero id encodes
// as null.
func NewErrorResponse(id RequestID, code int, message string, data interface{}) *Message {
	obj := &ErrorObject{Code: code, Message: message}
	if data != nil {
		if raw, ok := data.(json.RawMessage); ok {
			obj.Data = raw
		} else if b, err := json.Marshal(data); err == nil {
			obj.Data = b
		}
	}
	msg := &Message{JSONRPC: JSONRPCVersion, Error: obj}
	if !id.IsZero() {
		msg.ID = &id
	}
	return msg
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		return b, nil
	}
}
