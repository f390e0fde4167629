// Package transport carries protocol messages between host and guest. Session
// code depends only on the Transport interface; this package provides the
// in-memory, stdio, window-messaging, websocket and webview bindings.
package transport

import (
	"context"
	"sync"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// Transport represents a bidirectional communication channel for protocol
// messages.
type Transport interface {
	// Start performs one-time setup. Calling it again is a no-op.
	Start(ctx context.Context) error

	// Send delivers one message. Sends from one side arrive in order.
	Send(ctx context.Context, msg *protocol.Message) error

	// Incoming yields received messages. The channel is closed when the
	// transport is closed or the underlying channel fails.
	Incoming() <-chan *protocol.Message

	// Err reports why Incoming was closed; nil after a local Close.
	Err() error

	// Close releases platform resources. Safe to call more than once.
	Close() error
}

// inbox is an unbounded FIFO feeding an Incoming channel. Producers never
// block, so a platform callback can push from any goroutine.
type inbox struct {
	out  chan *protocol.Message
	done chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*protocol.Message
	finished bool
	err      error

	abortOnce sync.Once
}

func newInbox() *inbox {
	b := &inbox{
		out:  make(chan *protocol.Message),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.pump()
	return b
}

// push queues msg. It reports false once the inbox no longer accepts input.
func (b *inbox) push(msg *protocol.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return false
	}
	b.queue = append(b.queue, msg)
	b.cond.Signal()
	return true
}

// finish stops accepting input; queued messages are still delivered before
// the channel closes. The first non-nil err is kept.
func (b *inbox) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	b.err = err
	b.cond.Broadcast()
}

// abort closes the channel now, dropping anything queued.
func (b *inbox) abort() {
	b.finish(nil)
	b.abortOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *inbox) error() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *inbox) accepting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.finished
}

func (b *inbox) aborted() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *inbox) pump() {
	defer close(b.out)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.finished && !b.aborted() {
			b.cond.Wait()
		}
		if b.aborted() || (len(b.queue) == 0 && b.finished) {
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- msg:
		case <-b.done:
			return
		}
	}
}
