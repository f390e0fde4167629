package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
)

// MessageEvent is one window message as the page observed it.
type MessageEvent struct {
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
	// Source identifies the sending window, e.g. the frame id of the guest
	// iframe. Empty when the channel cannot tell.
	Source string `json:"source,omitempty"`
}

// MessagePort abstracts window.postMessage and the message event listener.
type MessagePort interface {
	PostMessage(data json.RawMessage, targetOrigin string) error
	Listen(fn func(MessageEvent)) (remove func())
}

// WindowTransport implements Transport over a MessagePort. Every inbound event
// must come from the expected origin (and source, when configured); anything
// else is dropped before decoding.
type WindowTransport struct {
	port           MessagePort
	expectedOrigin string
	expectedSource string
	targetOrigin   string
	onViolation    func(*mcperrors.SecurityError)
	logger         logging.Logger

	in        *inbox
	mu        sync.Mutex
	remove    func()
	started   bool
	closeOnce sync.Once
	rejected  atomic.Uint64
}

// WindowOption configures a WindowTransport.
type WindowOption func(*WindowTransport)

// WithExpectedSource additionally pins the sending window.
func WithExpectedSource(source string) WindowOption {
	return func(t *WindowTransport) { t.expectedSource = source }
}

// WithTargetOrigin overrides the targetOrigin used for outbound messages. It
// defaults to the expected origin; an opaque expected origin requires "*".
func WithTargetOrigin(origin string) WindowOption {
	return func(t *WindowTransport) { t.targetOrigin = origin }
}

// WithSecurityHandler observes rejected messages.
func WithSecurityHandler(fn func(*mcperrors.SecurityError)) WindowOption {
	return func(t *WindowTransport) { t.onViolation = fn }
}

// WithWindowLogger sets the logger.
func WithWindowLogger(logger logging.Logger) WindowOption {
	return func(t *WindowTransport) { t.logger = logger }
}

// NewWindowTransport creates a transport that only accepts messages from
// expectedOrigin. An opaque ("null") origin must be combined with
// WithExpectedSource.
func NewWindowTransport(port MessagePort, expectedOrigin string, opts ...WindowOption) (*WindowTransport, error) {
	if port == nil {
		return nil, fmt.Errorf("message port is required")
	}
	origin, err := sandbox.NormalizeOrigin(expectedOrigin)
	if err != nil {
		return nil, fmt.Errorf("expected origin: %w", err)
	}
	t := &WindowTransport{
		port:           port,
		expectedOrigin: origin,
		targetOrigin:   origin,
		logger:         logging.NewNoopLogger(),
		in:             newInbox(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.targetOrigin == sandbox.OpaqueOrigin {
		return nil, fmt.Errorf("cannot post to an opaque origin; set WithTargetOrigin")
	}
	// Every sandboxed frame reports "null", so the origin alone identifies nothing.
	if t.expectedOrigin == sandbox.OpaqueOrigin && t.expectedSource == "" {
		return nil, fmt.Errorf("opaque origin requires an expected source; set WithExpectedSource")
	}
	return t, nil
}

// Start registers the message listener once.
func (t *WindowTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	if t.started {
		return nil
	}
	t.started = true
	t.remove = t.port.Listen(t.handleEvent)
	return nil
}

func (t *WindowTransport) handleEvent(ev MessageEvent) {
	if !sandbox.SameOrigin(t.expectedOrigin, ev.Origin) {
		t.reject(&mcperrors.SecurityError{Reason: "origin mismatch", Origin: ev.Origin, Expected: t.expectedOrigin})
		return
	}
	if t.expectedSource != "" && ev.Source != t.expectedSource {
		t.reject(&mcperrors.SecurityError{Reason: "source mismatch", Origin: ev.Origin, Expected: t.expectedSource})
		return
	}
	var msg protocol.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.logger.Debug("Ignoring non-protocol window message", "origin", ev.Origin, "error", err)
		return
	}
	if msg.JSONRPC != protocol.JSONRPCVersion {
		t.logger.Debug("Ignoring non-jsonrpc window message", "origin", ev.Origin)
		return
	}
	t.in.push(&msg)
}

func (t *WindowTransport) reject(err *mcperrors.SecurityError) {
	t.rejected.Add(1)
	t.logger.Warn("Rejected window message", "reason", err.Reason, "origin", err.Origin)
	if t.onViolation != nil {
		t.onViolation(err)
	}
}

// Rejected returns how many messages failed origin or source checks.
func (t *WindowTransport) Rejected() uint64 { return t.rejected.Load() }

// Send implements Transport.
func (t *WindowTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.PostMessage(data, t.targetOrigin); err != nil {
		return &mcperrors.TransportError{Op: "postMessage", Err: err}
	}
	return nil
}

// Incoming implements Transport.
func (t *WindowTransport) Incoming() <-chan *protocol.Message { return t.in.out }

// Err implements Transport.
func (t *WindowTransport) Err() error { return t.in.error() }

// Fail ends the stream with err, e.g. when the underlying port disconnects.
func (t *WindowTransport) Fail(err error) {
	if err == nil {
		t.in.finish(nil)
		return
	}
	t.in.finish(&mcperrors.TransportError{Op: "receive", Err: err})
}

// Close removes the listener and ends the stream.
func (t *WindowTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		remove := t.remove
		t.remove = nil
		t.mu.Unlock()
		if remove != nil {
			remove()
		}
		t.in.abort()
	})
	return nil
}
