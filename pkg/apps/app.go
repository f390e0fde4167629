package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

// ToolInputHandler receives complete or partial tool arguments.
type ToolInputHandler func(args map[string]protocol.Value)

// App is the guest side of a session. It runs inside the sandboxed frame and
// talks to exactly one host.
type App struct {
	info           models.Implementation
	caps           models.AppCapabilities
	versions       []string
	logger         logging.Logger
	dispatcherOpts []handler.Option
	logs           *LogManager

	mu              sync.Mutex
	d               *handler.Dispatcher
	initialized     bool
	hostInfo        models.Implementation
	hostCaps        models.HostCapabilities
	hostContext     models.HostContext
	protocolVersion string

	cbMu                 sync.RWMutex
	onToolInput          ToolInputHandler
	onToolInputPartial   ToolInputHandler
	onToolResult         func(result models.CallToolResult)
	onToolCancelled      func(reason string)
	onHostContextChanged func(hc models.HostContext, changed models.HostContextDiff)
	onTeardown           func(ctx context.Context) error
	onResourceReady      func(params models.SandboxResourceReadyParams)
}

// AppOption configures an App.
type AppOption func(*App)

// WithAppLogger sets the logger used for the App's own diagnostics.
func WithAppLogger(logger logging.Logger) AppOption {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAppVersions sets the protocol versions the guest offers, newest first.
func WithAppVersions(versions ...string) AppOption {
	return func(a *App) {
		if len(versions) > 0 {
			a.versions = append([]string(nil), versions...)
		}
	}
}

// WithAppDispatcherOptions passes options to the underlying dispatcher.
func WithAppDispatcherOptions(opts ...handler.Option) AppOption {
	return func(a *App) { a.dispatcherOpts = append(a.dispatcherOpts, opts...) }
}

// NewApp creates a guest that has not connected yet.
func NewApp(info models.Implementation, caps models.AppCapabilities, opts ...AppOption) (*App, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app info: %w", err)
	}
	a := &App{
		info:     info,
		caps:     caps,
		versions: append([]string(nil), protocol.SupportedProtocolVersions...),
		logger:   logging.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logs = NewLogManager(a.forwardLog)
	return a, nil
}

// OnToolInput receives the complete tool arguments.
func (a *App) OnToolInput(fn ToolInputHandler) {
	a.cbMu.Lock()
	a.onToolInput = fn
	a.cbMu.Unlock()
}

// OnToolInputPartial receives streamed partial arguments.
func (a *App) OnToolInputPartial(fn ToolInputHandler) {
	a.cbMu.Lock()
	a.onToolInputPartial = fn
	a.cbMu.Unlock()
}

// OnToolResult receives the finished tool result.
func (a *App) OnToolResult(fn func(result models.CallToolResult)) {
	a.cbMu.Lock()
	a.onToolResult = fn
	a.cbMu.Unlock()
}

// OnToolCancelled runs when the host abandons the tool call.
func (a *App) OnToolCancelled(fn func(reason string)) {
	a.cbMu.Lock()
	a.onToolCancelled = fn
	a.cbMu.Unlock()
}

// OnHostContextChanged receives the merged context and the fields that
// changed.
func (a *App) OnHostContextChanged(fn func(hc models.HostContext, changed models.HostContextDiff)) {
	a.cbMu.Lock()
	a.onHostContextChanged = fn
	a.cbMu.Unlock()
}

// OnTeardown runs before the host unmounts the guest. The host waits for it
// only up to its own teardown timeout.
func (a *App) OnTeardown(fn func(ctx context.Context) error) {
	a.cbMu.Lock()
	a.onTeardown = fn
	a.cbMu.Unlock()
}

// OnSandboxResourceReady is used by sandbox proxies built on App.
func (a *App) OnSandboxResourceReady(fn func(params models.SandboxResourceReadyParams)) {
	a.cbMu.Lock()
	a.onResourceReady = fn
	a.cbMu.Unlock()
}

// Connect binds the guest to t and performs the handshake. The session is
// closed again when the host answers with a version the guest does not
// support.
func (a *App) Connect(ctx context.Context, t transport.Transport) (*models.UIInitializeResult, error) {
	a.mu.Lock()
	if a.d != nil {
		a.mu.Unlock()
		return nil, mcperrors.ErrAlreadyConnected
	}
	d := handler.NewDispatcher(append([]handler.Option{handler.WithLogger(a.logger)}, a.dispatcherOpts...)...)
	a.d = d
	a.mu.Unlock()

	a.registerHandlers(d)
	if err := d.Connect(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	params := models.UIInitializeParams{
		AppInfo:         a.info,
		AppCapabilities: a.caps,
		ProtocolVersion: a.versions[0],
	}
	var result models.UIInitializeResult
	if err := d.Call(ctx, protocol.MethodUIInitialize, params, &result); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ui/initialize failed: %w", err)
	}
	if !protocol.IsSupportedVersion(a.versions, result.ProtocolVersion) {
		_ = d.Close()
		return nil, fmt.Errorf("host protocol version %q is not supported", result.ProtocolVersion)
	}

	a.mu.Lock()
	a.hostInfo = result.HostInfo
	a.hostCaps = result.HostCapabilities
	a.hostContext = result.HostContext.Clone()
	a.protocolVersion = result.ProtocolVersion
	a.initialized = true
	a.mu.Unlock()

	if err := d.Notify(ctx, protocol.MethodUIInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}
	a.logger.Info("Connected to host", "host", result.HostInfo.Name, "protocol", result.ProtocolVersion)
	return &result, nil
}

func (a *App) registerHandlers(d *handler.Dispatcher) {
	d.SetNotificationHandler(protocol.MethodToolInput, func(ctx context.Context, params json.RawMessage) {
		a.deliverInput(params, false)
	})
	d.SetNotificationHandler(protocol.MethodToolInputPartial, func(ctx context.Context, params json.RawMessage) {
		a.deliverInput(params, true)
	})
	d.SetNotificationHandler(protocol.MethodToolResult, func(ctx context.Context, params json.RawMessage) {
		var p models.CallToolResult
		if err := json.Unmarshal(params, &p); err != nil {
			a.logger.Debug("Ignoring malformed tool result", "error", err)
			return
		}
		a.cbMu.RLock()
		fn := a.onToolResult
		a.cbMu.RUnlock()
		if fn != nil {
			fn(p)
		}
	})
	d.SetNotificationHandler(protocol.MethodToolCancelled, func(ctx context.Context, params json.RawMessage) {
		var p models.ToolCancelledParams
		if len(params) > 0 {
			_ = json.Unmarshal(params, &p)
		}
		a.cbMu.RLock()
		fn := a.onToolCancelled
		a.cbMu.RUnlock()
		if fn != nil {
			fn(p.Reason)
		}
	})
	d.SetNotificationHandler(protocol.MethodHostContextChanged, a.handleHostContextChanged)
	d.SetNotificationHandler(protocol.MethodSandboxResourceReady, func(ctx context.Context, params json.RawMessage) {
		var p models.SandboxResourceReadyParams
		if err := json.Unmarshal(params, &p); err != nil {
			a.logger.Debug("Ignoring malformed resource ready", "error", err)
			return
		}
		a.cbMu.RLock()
		fn := a.onResourceReady
		a.cbMu.RUnlock()
		if fn != nil {
			fn(p)
		}
	})
	d.SetRequestHandler(protocol.MethodResourceTeardown, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		a.cbMu.RLock()
		fn := a.onTeardown
		a.cbMu.RUnlock()
		if fn != nil {
			if err := fn(ctx); err != nil {
				return nil, err
			}
		}
		return models.ResourceTeardownResult{}, nil
	})
}

func (a *App) deliverInput(params json.RawMessage, partial bool) {
	var p models.ToolInputParams
	if err := json.Unmarshal(params, &p); err != nil {
		a.logger.Debug("Ignoring malformed tool input", "error", err)
		return
	}
	a.cbMu.RLock()
	fn := a.onToolInput
	if partial {
		fn = a.onToolInputPartial
	}
	a.cbMu.RUnlock()
	if fn != nil {
		fn(p.Arguments)
	}
}

func (a *App) handleHostContextChanged(ctx context.Context, params json.RawMessage) {
	var diff models.HostContextDiff
	if err := json.Unmarshal(params, &diff); err != nil {
		a.logger.Debug("Ignoring malformed host context change", "error", err)
		return
	}
	a.mu.Lock()
	if err := a.hostContext.Merge(diff); err != nil {
		a.mu.Unlock()
		a.logger.Warn("Failed to merge host context", "error", err)
		return
	}
	merged := a.hostContext.Clone()
	a.mu.Unlock()

	a.cbMu.RLock()
	fn := a.onHostContextChanged
	a.cbMu.RUnlock()
	if fn != nil {
		fn(merged, diff)
	}
}

func (a *App) session() (*handler.Dispatcher, models.HostCapabilities, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.d == nil {
		return nil, models.HostCapabilities{}, mcperrors.ErrNotConnected
	}
	if !a.initialized {
		return nil, models.HostCapabilities{}, mcperrors.ErrNotInitialized
	}
	return a.d, a.hostCaps, nil
}

// CallServerTool calls a backend tool through the host.
func (a *App) CallServerTool(ctx context.Context, params models.CallToolParams) (*models.CallToolResult, error) {
	d, caps, err := a.session()
	if err != nil {
		return nil, err
	}
	if caps.ServerTools == nil {
		return nil, &mcperrors.CapabilityError{Capability: "serverTools", Operation: protocol.MethodToolsCall}
	}
	var result models.CallToolResult
	if err := d.Call(ctx, protocol.MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadServerResource reads a backend resource through the host.
func (a *App) ReadServerResource(ctx context.Context, uri string) (*models.ReadResourceResult, error) {
	d, caps, err := a.session()
	if err != nil {
		return nil, err
	}
	if caps.ServerResources == nil {
		return nil, &mcperrors.CapabilityError{Capability: "serverResources", Operation: protocol.MethodResourcesRead}
	}
	var result models.ReadResourceResult
	if err := d.Call(ctx, protocol.MethodResourcesRead, models.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListServerResources lists one page of backend resources.
func (a *App) ListServerResources(ctx context.Context, cursor models.Cursor) (*models.ListResourcesResult, error) {
	d, caps, err := a.session()
	if err != nil {
		return nil, err
	}
	if caps.ServerResources == nil {
		return nil, &mcperrors.CapabilityError{Capability: "serverResources", Operation: protocol.MethodResourcesList}
	}
	var result models.ListResourcesResult
	if err := d.Call(ctx, protocol.MethodResourcesList, models.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OpenLink asks the host to open url.
func (a *App) OpenLink(ctx context.Context, url string) (*models.OpenLinkResult, error) {
	d, caps, err := a.session()
	if err != nil {
		return nil, err
	}
	if caps.OpenLinks == nil {
		return nil, &mcperrors.CapabilityError{Capability: "openLinks", Operation: protocol.MethodOpenLink}
	}
	var result models.OpenLinkResult
	if err := d.Call(ctx, protocol.MethodOpenLink, models.OpenLinkParams{URL: url}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessage asks the host to add a message to the conversation.
func (a *App) SendMessage(ctx context.Context, params models.MessageParams) (*models.MessageResult, error) {
	d, _, err := a.session()
	if err != nil {
		return nil, err
	}
	var result models.MessageResult
	if err := d.Call(ctx, protocol.MethodUIMessage, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RequestDisplayMode asks for a presentation change and returns the mode the
// host applied.
func (a *App) RequestDisplayMode(ctx context.Context, mode models.DisplayMode) (models.DisplayMode, error) {
	d, _, err := a.session()
	if err != nil {
		return "", err
	}
	var result models.RequestDisplayModeResult
	if err := d.Call(ctx, protocol.MethodRequestDisplayMode, models.RequestDisplayModeParams{Mode: mode}, &result); err != nil {
		return "", err
	}
	return result.Mode, nil
}

// SendSizeChanged reports the content size. Either dimension may be nil.
func (a *App) SendSizeChanged(ctx context.Context, width, height *float64) error {
	d, _, err := a.session()
	if err != nil {
		return err
	}
	return d.Notify(ctx, protocol.MethodSizeChanged, models.SizeChangedParams{Width: width, Height: height})
}

// SendLog sends one log line to the host.
func (a *App) SendLog(ctx context.Context, params models.LoggingMessageParams) error {
	d, caps, err := a.session()
	if err != nil {
		return err
	}
	if caps.Logging == nil {
		return &mcperrors.CapabilityError{Capability: "logging", Operation: protocol.MethodLoggingMessage}
	}
	return d.Notify(ctx, protocol.MethodLoggingMessage, params)
}

func (a *App) forwardLog(params models.LoggingMessageParams) {
	if err := a.SendLog(context.Background(), params); err != nil {
		a.logger.Debug("Dropped log line", "level", params.Level, "error", err)
	}
}

// Logger returns a logger whose lines are sent to the host as
// notifications/message under name.
func (a *App) Logger(name string) logging.Logger {
	return NewLogAdapter(a.logs, name)
}

// SetLogLevel sets the minimum level Logger forwards. The default is info.
func (a *App) SetLogLevel(level models.LoggingLevel) {
	a.logs.SetLevel(level)
}

// Ping checks that the host is responsive.
func (a *App) Ping(ctx context.Context) error {
	d, _, err := a.session()
	if err != nil {
		return err
	}
	_, err = d.Request(ctx, protocol.MethodPing, nil)
	return err
}

// HostInfo returns the host implementation from the handshake.
func (a *App) HostInfo() models.Implementation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostInfo
}

// HostCapabilities returns the capabilities the host offered.
func (a *App) HostCapabilities() models.HostCapabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostCaps
}

// HostContext returns the current merged host context.
func (a *App) HostContext() models.HostContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostContext.Clone()
}

// ProtocolVersion returns the negotiated version.
func (a *App) ProtocolVersion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.protocolVersion
}

// Close ends the session.
func (a *App) Close() error {
	a.mu.Lock()
	d := a.d
	a.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Close()
}

// Done is closed when the session ends. Before Connect it returns nil.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.d == nil {
		return nil
	}
	return a.d.Done()
}
