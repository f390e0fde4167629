package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// Request is an inbound request handed to a RequestHandler.
type Request struct {
	ID     protocol.RequestID
	Method string
	Params json.RawMessage
}

// Bind decodes the request params into v. Missing params decode as an empty
// object. Malformed params become an invalid-params protocol error.
func (r *Request) Bind(v interface{}) error {
	data := r.Params
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return mcperrors.NewInvalidParams(fmt.Sprintf("%s: %v", r.Method, err))
	}
	return nil
}

// RequestHandler processes a request and returns its result. A
// json.RawMessage result is sent without re-encoding.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *Request) (interface{}, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// HandleRequest implements RequestHandler.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context, req *Request) (interface{}, error) {
	return f(ctx, req)
}

// NotificationHandler processes a notification. Notifications have no reply.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// MessageRouter routes messages to the appropriate handler.
type MessageRouter struct {
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	logger        logging.Logger
	mu            sync.RWMutex
}

// NewMessageRouter creates a new MessageRouter.
func NewMessageRouter(logger logging.Logger) *MessageRouter {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &MessageRouter{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		logger:        logger,
	}
}

// RegisterHandler registers a handler for a request method, replacing any
// previous one. A nil handler removes the registration.
func (r *MessageRouter) RegisterHandler(method string, handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler == nil {
		delete(r.requests, method)
		return
	}
	if _, exists := r.requests[method]; exists {
		r.logger.Debug("Replacing request handler", "method", method)
	}
	r.requests[method] = handler
}

// RegisterFunc registers a function as a request handler.
func (r *MessageRouter) RegisterFunc(method string, fn func(ctx context.Context, req *Request) (interface{}, error)) {
	if fn == nil {
		r.RegisterHandler(method, nil)
		return
	}
	r.RegisterHandler(method, RequestHandlerFunc(fn))
}

// RegisterNotificationHandler registers a handler for a notification method.
// A nil handler removes the registration.
func (r *MessageRouter) RegisterNotificationHandler(method string, handler NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler == nil {
		delete(r.notifications, method)
		return
	}
	r.notifications[method] = handler
}

// Lookup returns the request handler for method.
func (r *MessageRouter) Lookup(method string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.requests[method]
	return h, ok
}

// LookupNotification returns the notification handler for method.
func (r *MessageRouter) LookupNotification(method string) (NotificationHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.notifications[method]
	return h, ok
}

// Methods lists the registered request methods in sorted order.
func (r *MessageRouter) Methods() []string {
	r.mu.RLock()
	methods := make([]string, 0, len(r.requests))
	for m := range r.requests {
		methods = append(methods, m)
	}
	r.mu.RUnlock()
	sort.Strings(methods)
	return methods
}

// HandleRequest routes a request to its handler. Unknown methods yield a
// method-not-found protocol error.
func (r *MessageRouter) HandleRequest(ctx context.Context, req *Request) (interface{}, error) {
	h, ok := r.Lookup(req.Method)
	if !ok {
		return nil, mcperrors.NewMethodNotFound(req.Method)
	}
	return h.HandleRequest(ctx, req)
}
