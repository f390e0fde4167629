package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

// DefaultRequestTimeout bounds outbound requests whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Dispatcher runs one side of a JSON-RPC session over a Transport. It issues
// outbound requests and matches their responses, routes inbound requests to
// handlers on their own goroutines, and delivers notifications in arrival
// order.
type Dispatcher struct {
	router          *MessageRouter
	tracker         *RequestTracker
	logger          logging.Logger
	limiter         *rate.Limiter
	timeout         time.Duration
	onProtocolError func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	transport transport.Transport
	closed    bool
	closeErr  error
	inflight  map[protocol.RequestID]*inboundRequest

	notifications *fifo[*protocol.Message]
	wg            sync.WaitGroup
	done          chan struct{}
	shutdownOnce  sync.Once
}

type inboundRequest struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

type cancelledParams struct {
	RequestID protocol.RequestID `json:"requestId"`
	Reason    string             `json:"reason,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRequestTimeout sets the timeout applied to outbound requests whose
// context carries no deadline. Zero disables it.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithRateLimiter rejects inbound requests beyond the limiter's rate with a
// rate-limited error response.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = limiter }
}

// WithProtocolErrorHandler observes peer protocol violations such as
// malformed envelopes and responses to unknown ids.
func WithProtocolErrorHandler(fn func(error)) Option {
	return func(d *Dispatcher) { d.onProtocolError = fn }
}

// WithRouter shares an existing router.
func WithRouter(router *MessageRouter) Option {
	return func(d *Dispatcher) {
		if router != nil {
			d.router = router
		}
	}
}

// NewDispatcher creates an unconnected Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:        logging.NewNoopLogger(),
		timeout:       DefaultRequestTimeout,
		inflight:      make(map[protocol.RequestID]*inboundRequest),
		notifications: newFIFO[*protocol.Message](),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.router == nil {
		d.router = NewMessageRouter(d.logger)
	}
	d.tracker = NewRequestTracker(d.logger)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Router returns the router used for inbound messages.
func (d *Dispatcher) Router() *MessageRouter { return d.router }

// SetRequestHandler registers fn for inbound requests of method. A nil fn
// removes the handler.
func (d *Dispatcher) SetRequestHandler(method string, fn RequestHandlerFunc) {
	if fn == nil {
		d.router.RegisterHandler(method, nil)
		return
	}
	d.router.RegisterHandler(method, fn)
}

// SetNotificationHandler registers fn for inbound notifications of method.
func (d *Dispatcher) SetNotificationHandler(method string, fn NotificationHandler) {
	d.router.RegisterNotificationHandler(method, fn)
}

// Connect starts the transport and begins processing inbound messages. A
// Dispatcher connects at most once.
func (d *Dispatcher) Connect(ctx context.Context, t transport.Transport) error {
	if t == nil {
		return errors.New("transport is required")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return mcperrors.ErrSessionClosed
	}
	if d.transport != nil {
		d.mu.Unlock()
		return mcperrors.ErrAlreadyConnected
	}
	d.transport = t
	d.mu.Unlock()

	if err := t.Start(ctx); err != nil {
		d.mu.Lock()
		d.transport = nil
		closed := d.closed
		d.mu.Unlock()
		if closed {
			close(d.done)
		}
		return fmt.Errorf("failed to start transport: %w", err)
	}

	d.wg.Add(2)
	go d.receiveLoop(t)
	go d.notificationLoop()
	go func() {
		d.wg.Wait()
		close(d.done)
	}()
	return nil
}

// Connected reports whether the session is live.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil && !d.closed
}

// Done is closed once the session has ended and every handler has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err returns why the session ended, or nil while it is live.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

// Close ends the session. Pending outbound requests fail with ErrConnClosed
// and in-flight handlers see their context cancelled. Close does not wait for
// handlers; use Done for that.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	t := d.transport
	d.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close()
	}
	d.shutdown(mcperrors.ErrConnClosed)
	return err
}

func (d *Dispatcher) shutdown(reason error) {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.closeErr = reason
		connected := d.transport != nil
		d.mu.Unlock()

		d.tracker.FailAll(reason)
		d.cancel()
		d.notifications.close()
		if !connected {
			close(d.done)
		}
	})
}

func (d *Dispatcher) receiveLoop(t transport.Transport) {
	defer d.wg.Done()
	for msg := range t.Incoming() {
		d.dispatch(msg)
	}
	reason := mcperrors.ErrConnClosed
	if err := t.Err(); err != nil {
		reason = fmt.Errorf("%w: %w", mcperrors.ErrConnClosed, err)
		d.logger.Warn("Transport ended with error", "error", err)
	} else {
		d.logger.Debug("Transport closed")
	}
	d.shutdown(reason)
}

func (d *Dispatcher) dispatch(msg *protocol.Message) {
	if err := msg.Validate(); err != nil {
		d.protocolError(fmt.Errorf("invalid message: %w", err))
		if msg != nil && msg.ID != nil && !msg.ID.IsZero() && msg.Method != "" {
			d.reply(*msg.ID, nil, mcperrors.NewInvalidRequest(err.Error()))
		}
		return
	}

	switch msg.Kind() {
	case protocol.KindRequest:
		d.handleRequest(msg)
	case protocol.KindNotification:
		if msg.Method == protocol.MethodCancelled {
			d.handleCancelled(msg.Params)
			return
		}
		d.notifications.push(msg)
	case protocol.KindResponse, protocol.KindErrorResponse:
		if msg.ID == nil || msg.ID.IsZero() {
			d.protocolError(fmt.Errorf("peer reported error without request id: %w", mcperrors.FromErrorObject(msg.Error)))
			return
		}
		if err := d.tracker.Resolve(msg); err != nil {
			d.protocolError(err)
		}
	}
}

func (d *Dispatcher) protocolError(err error) {
	d.logger.Warn("Protocol error", "error", err)
	if d.onProtocolError != nil {
		d.onProtocolError(err)
	}
}

func (d *Dispatcher) handleRequest(msg *protocol.Message) {
	id := *msg.ID
	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("Rate limit exceeded", "method", msg.Method, "id", id.String())
		d.reply(id, nil, mcperrors.NewRateLimited())
		return
	}

	h, ok := d.router.Lookup(msg.Method)
	if !ok {
		if msg.Method == protocol.MethodPing {
			d.reply(id, struct{}{}, nil)
			return
		}
		d.logger.Debug("No handler for request", "method", msg.Method)
		d.reply(id, nil, mcperrors.NewMethodNotFound(msg.Method))
		return
	}

	ctx, cancel := context.WithCancel(d.ctx)
	entry := &inboundRequest{cancel: cancel}
	d.mu.Lock()
	if _, dup := d.inflight[id]; dup {
		d.mu.Unlock()
		cancel()
		d.reply(id, nil, mcperrors.NewInvalidRequest("duplicate request id "+id.String()))
		return
	}
	d.inflight[id] = entry
	d.mu.Unlock()

	req := &Request{ID: id, Method: msg.Method, Params: msg.Params}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, id)
			d.mu.Unlock()
			cancel()
		}()

		result, err := d.invoke(ctx, h, req)
		if entry.cancelled.Load() {
			d.logger.Debug("Dropping response for cancelled request", "method", req.Method, "id", id.String())
			return
		}
		d.reply(id, result, err)
	}()
}

func (d *Dispatcher) invoke(ctx context.Context, h RequestHandler, req *Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Request handler panicked", "method", req.Method, "panic", r)
			result = nil
			err = mcperrors.NewInternalError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.HandleRequest(ctx, req)
}

func (d *Dispatcher) handleCancelled(params json.RawMessage) {
	var p cancelledParams
	if err := json.Unmarshal(params, &p); err != nil || p.RequestID.IsZero() {
		d.logger.Debug("Ignoring malformed cancellation", "params", string(params))
		return
	}
	d.mu.Lock()
	entry := d.inflight[p.RequestID]
	d.mu.Unlock()
	if entry == nil {
		d.logger.Debug("Cancellation for unknown request", "id", p.RequestID.String())
		return
	}
	d.logger.Debug("Peer cancelled request", "id", p.RequestID.String(), "reason", p.Reason)
	entry.cancelled.Store(true)
	entry.cancel()
}

func (d *Dispatcher) notificationLoop() {
	defer d.wg.Done()
	for {
		msg, ok := d.notifications.pop()
		if !ok {
			return
		}
		h, ok := d.router.LookupNotification(msg.Method)
		if !ok {
			d.logger.Debug("Ignoring unhandled notification", "method", msg.Method)
			continue
		}
		d.deliver(h, msg)
	}
}

func (d *Dispatcher) deliver(h NotificationHandler, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Notification handler panicked", "method", msg.Method, "panic", r)
		}
	}()
	h(d.ctx, msg.Params)
}

func (d *Dispatcher) reply(id protocol.RequestID, result interface{}, err error) {
	var resp *protocol.Message
	if err == nil {
		r, mErr := protocol.NewResponse(id, result)
		if mErr != nil {
			err = mcperrors.NewInternalError(mErr)
		} else {
			resp = r
		}
	}
	if err != nil {
		resp = &protocol.Message{JSONRPC: protocol.JSONRPCVersion, ID: &id, Error: mcperrors.ToErrorObject(err)}
	}

	d.mu.Lock()
	t := d.transport
	d.mu.Unlock()
	if t == nil {
		return
	}
	if sErr := t.Send(context.Background(), resp); sErr != nil {
		d.logger.Debug("Failed to send response", "id", id.String(), "error", sErr)
	}
}

func (d *Dispatcher) liveTransport() (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		if d.closeErr != nil {
			return nil, d.closeErr
		}
		return nil, mcperrors.ErrSessionClosed
	}
	if d.transport == nil {
		return nil, mcperrors.ErrNotConnected
	}
	return d.transport, nil
}

// Request sends a request and waits for its result. The raw result is
// returned undecoded. An error response surfaces as a *errors.ProtocolError;
// a deadline surfaces as a *errors.TimeoutError and the peer is told to
// cancel.
func (d *Dispatcher) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t, err := d.liveTransport()
	if err != nil {
		return nil, err
	}

	id := d.tracker.NextID()
	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	rc := d.tracker.TrackRequest(id, method)
	// A shutdown racing with TrackRequest would never fail this entry.
	if _, err := d.liveTransport(); err != nil {
		d.tracker.UntrackRequest(id)
		return nil, err
	}

	if err := t.Send(ctx, msg); err != nil {
		d.tracker.UntrackRequest(id)
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp, err := d.tracker.WaitForResponse(waitCtx, rc)
	if err != nil {
		if waitCtx.Err() != nil && d.Connected() {
			d.sendCancelled(id, err)
		}
		return nil, err
	}
	return resp.Result, nil
}

// Call sends a request and decodes the result into out, which may be nil.
func (d *Dispatcher) Call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := d.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification.
func (d *Dispatcher) Notify(ctx context.Context, method string, params interface{}) error {
	t, err := d.liveTransport()
	if err != nil {
		return err
	}
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	return t.Send(ctx, msg)
}

func (d *Dispatcher) sendCancelled(id protocol.RequestID, reason error) {
	err := d.Notify(context.Background(), protocol.MethodCancelled, cancelledParams{RequestID: id, Reason: reason.Error()})
	if err != nil {
		d.logger.Debug("Failed to send cancellation", "id", id.String(), "error", err)
	}
}
