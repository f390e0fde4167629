package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postedMessage struct {
	data         json.RawMessage
	targetOrigin string
}

// fakePort records posts and lets tests inject events.
type fakePort struct {
	mu        sync.Mutex
	posted    []postedMessage
	listeners map[int]func(MessageEvent)
	next      int
	listens   int
	postErr   error
}

func newFakePort() *fakePort {
	return &fakePort{listeners: make(map[int]func(MessageEvent))}
}

func (p *fakePort) PostMessage(data json.RawMessage, targetOrigin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postErr != nil {
		return p.postErr
	}
	p.posted = append(p.posted, postedMessage{data: data, targetOrigin: targetOrigin})
	return nil
}

func (p *fakePort) Listen(fn func(MessageEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.listens++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakePort) emit(ev MessageEvent) {
	p.mu.Lock()
	fns := make([]func(MessageEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakePort) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

const guestOrigin = "https://guest.example.com"

func pingEvent(origin, source string) MessageEvent {
	return MessageEvent{
		Data:   json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		Origin: origin,
		Source: source,
	}
}

func assertNothingReceived(t *testing.T, tr Transport) {
	t.Helper()
	select {
	case msg := <-tr.Incoming():
		t.Fatalf("unexpected message delivered: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewWindowTransportRequiresConcreteOrigin(t *testing.T) {
	port := newFakePort()
	for _, origin := range []string{"", "*", "not a url"} {
		_, err := NewWindowTransport(port, origin)
		assert.Error(t, err, "origin %q", origin)
	}

	_, err := NewWindowTransport(port, "null")
	assert.Error(t, err, "opaque origin needs an explicit target origin")

	_, err = NewWindowTransport(port, "null", WithTargetOrigin("*"))
	assert.Error(t, err, "opaque origin needs an expected source")

	tr, err := NewWindowTransport(port, "null", WithTargetOrigin("*"), WithExpectedSource("frame-1"))
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = NewWindowTransport(nil, guestOrigin)
	assert.Error(t, err)
}

func TestWindowTransportAcceptsExpectedOrigin(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, guestOrigin)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, 1, port.listens, "start must not register twice")

	port.emit(pingEvent("https://GUEST.example.com:443", ""))
	assert.Equal(t, protocol.MethodPing, receive(t, tr).Method)
}

func TestWindowTransportRejectsSpoofedMessages(t *testing.T) {
	port := newFakePort()
	var violations []*mcperrors.SecurityError
	var mu sync.Mutex
	tr, err := NewWindowTransport(port, guestOrigin,
		WithExpectedSource("frame-1"),
		WithSecurityHandler(func(e *mcperrors.SecurityError) {
			mu.Lock()
			violations = append(violations, e)
			mu.Unlock()
		}))
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	port.emit(pingEvent("https://evil.example.com", "frame-1"))
	port.emit(pingEvent("http://guest.example.com", "frame-1"))
	port.emit(pingEvent(guestOrigin, "frame-2"))
	port.emit(pingEvent("", "frame-1"))

	assertNothingReceived(t, tr)
	assert.Equal(t, uint64(4), tr.Rejected())

	mu.Lock()
	require.Len(t, violations, 4)
	assert.Equal(t, "origin mismatch", violations[0].Reason)
	assert.Equal(t, "source mismatch", violations[2].Reason)
	mu.Unlock()

	port.emit(pingEvent(guestOrigin, "frame-1"))
	assert.Equal(t, protocol.MethodPing, receive(t, tr).Method)
}

func TestWindowTransportOpaqueOriginPinsSource(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, "null", WithTargetOrigin("*"), WithExpectedSource("guest-frame"))
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	port.emit(pingEvent("null", "other-frame"))
	port.emit(pingEvent("null", ""))
	assertNothingReceived(t, tr)
	assert.Equal(t, uint64(2), tr.Rejected())

	port.emit(pingEvent("null", "guest-frame"))
	assert.Equal(t, protocol.MethodPing, receive(t, tr).Method)
}

func TestWindowTransportIgnoresForeignPayloads(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, guestOrigin)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	port.emit(MessageEvent{Data: json.RawMessage(`"hello"`), Origin: guestOrigin})
	port.emit(MessageEvent{Data: json.RawMessage(`{"type":"webpackOk"}`), Origin: guestOrigin})
	assertNothingReceived(t, tr)
	assert.Equal(t, uint64(0), tr.Rejected())
}

func TestWindowTransportSend(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, guestOrigin+"/path/ignored")
	require.NoError(t, err)

	msg, _ := protocol.NewNotification(protocol.MethodToolInput, map[string]interface{}{"arguments": map[string]string{"q": "x"}})
	require.NoError(t, tr.Send(context.Background(), msg))

	require.Len(t, port.posted, 1)
	assert.Equal(t, guestOrigin, port.posted[0].targetOrigin, "never posts with a wildcard")
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ui/notifications/tool-input","params":{"arguments":{"q":"x"}}}`, string(port.posted[0].data))

	port.postErr = errors.New("detached")
	assert.True(t, mcperrors.IsTransportError(tr.Send(context.Background(), msg)))
}

func TestWindowTransportCloseReleasesListener(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, guestOrigin)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, 1, port.listenerCount())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 0, port.listenerCount())
	waitClosed(t, tr)

	assert.ErrorIs(t, tr.Start(context.Background()), mcperrors.ErrTransportClosed)
	assert.Equal(t, 0, port.listenerCount())
}

func TestWindowTransportFail(t *testing.T) {
	port := newFakePort()
	tr, err := NewWindowTransport(port, guestOrigin)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	tr.Fail(errors.New("socket gone"))
	waitClosed(t, tr)
	assert.True(t, mcperrors.IsTransportError(tr.Err()))
}
