package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameSize        = 16 << 20
	sendQueueSize       = 256
)

// outboundFrame is what the relaying page receives: a message to post into a
// frame with the given targetOrigin.
type outboundFrame struct {
	TargetOrigin string          `json:"targetOrigin"`
	Data         json.RawMessage `json:"data"`
}

// WebSocketPort is a MessagePort relayed over a websocket. The host page
// forwards every window message event it sees as {origin, source, data} and
// posts every outbound {targetOrigin, data} frame into the guest frame.
type WebSocketPort struct {
	conn   *websocket.Conn
	id     string
	logger logging.Logger
	send   chan []byte
	done   chan struct{}

	mu        sync.RWMutex
	listeners map[int]func(MessageEvent)
	nextID    int

	closeOnce    sync.Once
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
}

// WebSocketOption configures a WebSocketPort.
type WebSocketOption func(*WebSocketPort)

// WithWebSocketLogger sets the logger.
func WithWebSocketLogger(logger logging.Logger) WebSocketOption {
	return func(p *WebSocketPort) { p.logger = logger }
}

// WithKeepalive overrides the ping interval and pong deadline.
func WithKeepalive(pingInterval, pongWait time.Duration) WebSocketOption {
	return func(p *WebSocketPort) {
		p.pingInterval = pingInterval
		p.pongWait = pongWait
	}
}

// NewWebSocketPort wraps an upgraded connection. Call Run to pump frames.
func NewWebSocketPort(conn *websocket.Conn, opts ...WebSocketOption) *WebSocketPort {
	p := &WebSocketPort{
		conn:         conn,
		id:           uuid.NewString(),
		logger:       logging.NewNoopLogger(),
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		listeners:    make(map[int]func(MessageEvent)),
		writeWait:    defaultWriteWait,
		pongWait:     defaultPongWait,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID identifies the connection in logs.
func (p *WebSocketPort) ID() string { return p.id }

// PostMessage implements MessagePort.
func (p *WebSocketPort) PostMessage(data json.RawMessage, targetOrigin string) error {
	frame, err := json.Marshal(outboundFrame{TargetOrigin: targetOrigin, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return mcperrors.ErrConnClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return mcperrors.ErrConnClosed
	}
}

// Listen implements MessagePort.
func (p *WebSocketPort) Listen(fn func(MessageEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (p *WebSocketPort) Listeners() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

// Run pumps frames until ctx is cancelled, the peer disconnects or Close is
// called. It returns nil on a clean shutdown.
func (p *WebSocketPort) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.readPump)
	g.Go(func() error { return p.writePump(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-p.done:
		}
		_ = p.conn.Close()
		return nil
	})
	err := g.Wait()
	p.Close()
	if p.closedCleanly(err) {
		return nil
	}
	return err
}

func (p *WebSocketPort) closedCleanly(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (p *WebSocketPort) readPump() error {
	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Error("websocket read error", "conn", p.id, "error", err)
			}
			return err
		}

		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			p.logger.Warn("Dropping malformed relay frame", "conn", p.id, "error", err)
			continue
		}

		p.mu.RLock()
		fns := make([]func(MessageEvent), 0, len(p.listeners))
		for _, fn := range p.listeners {
			fns = append(fns, fn)
		}
		p.mu.RUnlock()
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (p *WebSocketPort) writePump(ctx context.Context) error {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("websocket write: %w", err)
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("websocket ping: %w", err)
			}
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.writeWait))
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops the pumps. Safe to call more than once.
func (p *WebSocketPort) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// NewUpgrader returns an upgrader that only accepts handshakes whose Origin
// header is on the allow-list. Requests without an Origin are refused.
func NewUpgrader(allowedOrigins []string) (*websocket.Upgrader, error) {
	matcher, err := sandbox.NewOriginMatcher(allowedOrigins)
	if err != nil {
		return nil, err
	}
	if matcher.Len() == 0 {
		return nil, fmt.Errorf("at least one allowed origin is required")
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return matcher.Allowed(r.Header.Get("Origin"))
		},
	}, nil
}
