package transport

import (
	"context"
	"sync"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// InMemoryTransport is one end of a linked pair living in the same process.
// Messages are cloned on send so neither side can mutate what the other
// received.
type InMemoryTransport struct {
	in   *inbox
	peer *InMemoryTransport

	closeOnce sync.Once
}

// NewInMemoryPair returns two connected transports.
func NewInMemoryPair() (*InMemoryTransport, *InMemoryTransport) {
	a := &InMemoryTransport{in: newInbox()}
	b := &InMemoryTransport{in: newInbox()}
	a.peer, b.peer = b, a
	return a, b
}

// Start implements Transport. There is nothing to set up.
func (t *InMemoryTransport) Start(ctx context.Context) error {
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	return nil
}

// Send implements Transport.
func (t *InMemoryTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	if !t.peer.in.push(msg.Clone()) {
		return &mcperrors.TransportError{Op: "send", Err: mcperrors.ErrConnClosed}
	}
	return nil
}

// Incoming implements Transport.
func (t *InMemoryTransport) Incoming() <-chan *protocol.Message { return t.in.out }

// Err implements Transport.
func (t *InMemoryTransport) Err() error { return t.in.error() }

// Close implements Transport. The peer's stream ends after it drains what was
// already sent.
func (t *InMemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.in.abort()
		t.peer.in.finish(mcperrors.ErrConnClosed)
	})
	return nil
}
