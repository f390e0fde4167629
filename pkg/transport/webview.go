package transport

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// DefaultHandlerName is the native message handler the bridge script posts to.
const DefaultHandlerName = "mcpAppsBridge"

//go:embed webview_bridge.js
var bridgeScript string

// WebView is the slice of a platform web view the transport needs.
type WebView interface {
	// EvaluateScript runs JavaScript in the page's main world.
	EvaluateScript(script string) error
	// AddMessageHandler registers a native handler the page can post strings
	// to under name.
	AddMessageHandler(name string, fn func(body string)) (remove func())
}

// WebViewTransport implements Transport over a platform web view. Start
// injects a script that redirects the guest's JSON-RPC postMessage calls into
// the native handler; outbound messages are dispatched as page message events.
type WebViewTransport struct {
	view        WebView
	handlerName string
	logger      logging.Logger

	in        *inbox
	mu        sync.Mutex
	started   bool
	remove    func()
	closeOnce sync.Once
}

// NewWebViewTransport creates a transport bound to view.
func NewWebViewTransport(view WebView, logger logging.Logger) *WebViewTransport {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &WebViewTransport{
		view:        view,
		handlerName: DefaultHandlerName,
		logger:      logger,
		in:          newInbox(),
	}
}

// BridgeScript returns the injected script for the given handler name.
func BridgeScript(handlerName string) string {
	name, _ := json.Marshal(handlerName)
	return strings.Replace(bridgeScript, "__HANDLER_NAME__", string(name), 1)
}

// Start registers the native handler and injects the bridge script. Both
// happen once per transport; a failed injection can be retried.
func (t *WebViewTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	if t.started {
		return nil
	}
	remove := t.view.AddMessageHandler(t.handlerName, t.handleNative)
	if err := t.view.EvaluateScript(BridgeScript(t.handlerName)); err != nil {
		if remove != nil {
			remove()
		}
		return &mcperrors.TransportError{Op: "inject", Err: err}
	}
	t.remove = remove
	t.started = true
	return nil
}

func (t *WebViewTransport) handleNative(body string) {
	var msg protocol.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.logger.Warn("Dropping undecodable webview message", "error", err)
		return
	}
	t.in.push(&msg)
}

// Send implements Transport.
func (t *WebViewTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.in.accepting() {
		return mcperrors.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// encoding/json escapes U+2028, U+2029 and <, so the output is a safe
	// JavaScript expression.
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return mcperrors.ErrNotConnected
	}
	script := "window.__mcpAppsBridge.dispatch(" + string(data) + ");"
	if err := t.view.EvaluateScript(script); err != nil {
		return &mcperrors.TransportError{Op: "evaluate", Err: err}
	}
	return nil
}

// Incoming implements Transport.
func (t *WebViewTransport) Incoming() <-chan *protocol.Message { return t.in.out }

// Err implements Transport.
func (t *WebViewTransport) Err() error { return t.in.error() }

// Close unregisters the native handler and ends the stream.
func (t *WebViewTransport) Close() error {
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
