package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// RequestTracker keeps track of pending requests and their responses.
type RequestTracker struct {
	mu        sync.Mutex
	pending   map[protocol.RequestID]*RequestContext
	idCounter atomic.Int64
	logger    logging.Logger
}

// RequestContext tracks an in-flight request. It completes exactly once.
type RequestContext struct {
	ID      protocol.RequestID
	Method  string
	Started time.Time

	once     sync.Once
	done     chan struct{}
	response *protocol.Message
	err      error
}

func (rc *RequestContext) complete(resp *protocol.Message, err error) bool {
	first := false
	rc.once.Do(func() {
		rc.response = resp
		rc.err = err
		close(rc.done)
		first = true
	})
	return first
}

// Done is closed once the request has been resolved.
func (rc *RequestContext) Done() <-chan struct{} { return rc.done }

// NewRequestTracker creates a new RequestTracker.
func NewRequestTracker(logger logging.Logger) *RequestTracker {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &RequestTracker{
		pending: make(map[protocol.RequestID]*RequestContext),
		logger:  logger,
	}
}

// NextID issues the next request id. Ids start at 1 and are never reused.
func (t *RequestTracker) NextID() protocol.RequestID {
	return protocol.NewNumberID(t.idCounter.Add(1))
}

// TrackRequest registers a request awaiting a response.
func (t *RequestTracker) TrackRequest(id protocol.RequestID, method string) *RequestContext {
	rc := &RequestContext{
		ID:      id,
		Method:  method,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	t.mu.Lock()
	t.pending[id] = rc
	t.mu.Unlock()
	return rc
}

// UntrackRequest abandons a request. A response arriving later is reported
// as already resolved.
func (t *RequestTracker) UntrackRequest(id protocol.RequestID) {
	t.mu.Lock()
	rc, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok {
		rc.complete(nil, context.Canceled)
	}
}

// IsTracked reports whether id is still pending.
func (t *RequestTracker) IsTracked(id protocol.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Pending returns the number of unresolved requests.
func (t *RequestTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// issued reports whether id was handed out by NextID.
func (t *RequestTracker) issued(id protocol.RequestID) bool {
	n, ok := id.Number()
	return ok && n >= 1 && n <= t.idCounter.Load()
}

// Resolve completes the pending request matching msg. It returns
// ErrUnknownRequestID for ids never issued and ErrAlreadyResolved for ids that
// were already resolved or abandoned.
func (t *RequestTracker) Resolve(msg *protocol.Message) error {
	if msg == nil || msg.ID == nil || msg.ID.IsZero() {
		return fmt.Errorf("%w: response without id", mcperrors.ErrUnknownRequestID)
	}
	id := *msg.ID

	t.mu.Lock()
	rc, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	if !ok {
		if t.issued(id) {
			return fmt.Errorf("%w: id %s", mcperrors.ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: id %s", mcperrors.ErrUnknownRequestID, id)
	}

	var err error
	if msg.Error != nil {
		err = mcperrors.FromErrorObject(msg.Error)
	}
	if !rc.complete(msg, err) {
		return fmt.Errorf("%w: id %s", mcperrors.ErrAlreadyResolved, id)
	}
	return nil
}

// HandleResponse resolves msg and reports whether it matched a pending
// request. Failures are logged.
func (t *RequestTracker) HandleResponse(msg *protocol.Message) bool {
	if err := t.Resolve(msg); err != nil {
		t.logger.Warn("Received response for unknown request", "error", err)
		return false
	}
	return true
}

// FailAll resolves every pending request with err.
func (t *RequestTracker) FailAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[protocol.RequestID]*RequestContext)
	t.mu.Unlock()
	for _, rc := range pending {
		rc.complete(nil, err)
	}
}

// WaitForResponse waits for a response to a tracked request. A deadline
// becomes a TimeoutError; any other cancellation returns ctx.Err().
func (t *RequestTracker) WaitForResponse(ctx context.Context, reqCtx *RequestContext) (*protocol.Message, error) {
	select {
	case <-reqCtx.done:
		if reqCtx.err != nil {
			return nil, reqCtx.err
		}
		return reqCtx.response, nil
	case <-ctx.Done():
		t.UntrackRequest(reqCtx.ID)
		// The response may have won the race against the context.
		<-reqCtx.done
		if reqCtx.err == nil {
			return reqCtx.response, nil
		}
		if !errors.Is(reqCtx.err, context.Canceled) {
			return nil, reqCtx.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d := time.Since(reqCtx.Started)
			if dl, ok := ctx.Deadline(); ok {
				d = dl.Sub(reqCtx.Started)
			}
			return nil, &mcperrors.TimeoutError{Duration: d.Round(time.Millisecond), Method: reqCtx.Method}
		}
		return nil, ctx.Err()
	}
}
