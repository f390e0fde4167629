// Package apps implements both ends of an MCP Apps session: AppBridge, the
// host-side state machine for one guest UI, and App, the guest side.
package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

// DefaultTeardownTimeout bounds SendResourceTeardown.
const DefaultTeardownTimeout = 3 * time.Second

// State is the lifecycle stage of a bridge.
type State int

const (
	StateCreated State = iota
	StateAwaitingHandshake
	StateInitialized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PreferredSize is the guest's last requested size. Width is applied as a
// minimum so the host layout may grow the frame; height is exact.
type PreferredSize struct {
	MinWidth *float64
	Height   *float64
}

// Callback signatures for guest-initiated traffic.
type (
	MessageHandler            func(ctx context.Context, params models.MessageParams) (*models.MessageResult, error)
	OpenLinkHandler           func(ctx context.Context, params models.OpenLinkParams) (*models.OpenLinkResult, error)
	DisplayModeHandler        func(ctx context.Context, requested models.DisplayMode) (models.DisplayMode, error)
	SizeChangedHandler        func(size PreferredSize)
	LoggingMessageHandler     func(params models.LoggingMessageParams)
	GuestNotificationObserver func(method string)
)

// AppBridge is the host side of one guest session. It answers the guest
// handshake, forwards approved requests to the backend and pushes tool data
// and host context to the guest. Create one per guest.
type AppBridge struct {
	id              string
	backend         Backend
	hostInfo        models.Implementation
	declaredCaps    models.HostCapabilities
	versions        []string
	logger          logging.Logger
	teardownTimeout time.Duration
	dispatcherOpts  []handler.Option

	mu              sync.Mutex
	d               *handler.Dispatcher
	state           State
	handshakeDone   bool
	hostCaps        models.HostCapabilities
	appInfo         *models.Implementation
	appCaps         *models.AppCapabilities
	protocolVersion string
	hostContext     models.HostContext
	size            PreferredSize
	unsubscribe     []func()

	// ctxMu serializes SetHostContext so diffs are computed against the
	// snapshot that was actually sent.
	ctxMu    sync.Mutex
	initOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	cbMu              sync.RWMutex
	onInitialized     func()
	onSizeChanged     SizeChangedHandler
	onMessage         MessageHandler
	onOpenLink        OpenLinkHandler
	onDisplayMode     DisplayModeHandler
	onLoggingMessage  LoggingMessageHandler
	onProxyReady      func()
	onGuestListChange GuestNotificationObserver
	onClose           func(error)
}

// Option configures an AppBridge.
type Option func(*AppBridge)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *AppBridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSupportedVersions replaces the protocol versions the bridge accepts,
// newest first. The first entry is the fallback for unknown requests.
func WithSupportedVersions(versions ...string) Option {
	return func(b *AppBridge) {
		if len(versions) > 0 {
			b.versions = append([]string(nil), versions...)
		}
	}
}

// WithHostContext sets the context returned in the handshake.
func WithHostContext(hc models.HostContext) Option {
	return func(b *AppBridge) { b.hostContext = hc.Clone() }
}

// WithTeardownTimeout bounds SendResourceTeardown.
func WithTeardownTimeout(d time.Duration) Option {
	return func(b *AppBridge) {
		if d > 0 {
			b.teardownTimeout = d
		}
	}
}

// WithDispatcherOptions passes options to the underlying dispatcher.
func WithDispatcherOptions(opts ...handler.Option) Option {
	return func(b *AppBridge) { b.dispatcherOpts = append(b.dispatcherOpts, opts...) }
}

// NewAppBridge creates a bridge in the Created state. backend may be nil for
// hosts that proxy no server; such a host must not declare serverTools or
// serverResources.
func NewAppBridge(backend Backend, hostInfo models.Implementation, hostCaps models.HostCapabilities, opts ...Option) (*AppBridge, error) {
	if err := hostInfo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host info: %w", err)
	}
	b := &AppBridge{
		id:              uuid.NewString(),
		backend:         backend,
		hostInfo:        hostInfo,
		declaredCaps:    hostCaps,
		versions:        append([]string(nil), protocol.SupportedProtocolVersions...),
		logger:          logging.NewNoopLogger(),
		teardownTimeout: DefaultTeardownTimeout,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.With(b.logger, "session", b.id)
	return b, nil
}

// ID returns the session id.
func (b *AppBridge) ID() string { return b.id }

// State returns the current lifecycle stage.
func (b *AppBridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnInitialized registers fn to run once the guest confirms the handshake.
// Host-to-guest notifications must wait for it.
func (b *AppBridge) OnInitialized(fn func()) {
	b.cbMu.Lock()
	b.onInitialized = fn
	b.cbMu.Unlock()
}

// OnSizeChanged observes ui/notifications/size-changed.
func (b *AppBridge) OnSizeChanged(fn SizeChangedHandler) {
	b.cbMu.Lock()
	b.onSizeChanged = fn
	b.cbMu.Unlock()
}

// OnMessage handles ui/message. Without a handler the request is answered
// with method not found.
func (b *AppBridge) OnMessage(fn MessageHandler) {
	b.cbMu.Lock()
	b.onMessage = fn
	b.cbMu.Unlock()
}

// OnOpenLink handles ui/open-link. Only http and https URLs reach fn.
func (b *AppBridge) OnOpenLink(fn OpenLinkHandler) {
	b.cbMu.Lock()
	b.onOpenLink = fn
	b.cbMu.Unlock()
}

// OnRequestDisplayMode decides ui/request-display-mode. Without a handler
// the current mode is kept.
func (b *AppBridge) OnRequestDisplayMode(fn DisplayModeHandler) {
	b.cbMu.Lock()
	b.onDisplayMode = fn
	b.cbMu.Unlock()
}

// OnLoggingMessage receives guest log lines. Without a handler they go to
// the bridge logger.
func (b *AppBridge) OnLoggingMessage(fn LoggingMessageHandler) {
	b.cbMu.Lock()
	b.onLoggingMessage = fn
	b.cbMu.Unlock()
}

// OnSandboxProxyReady runs when the outer sandbox frame is listening.
func (b *AppBridge) OnSandboxProxyReady(fn func()) {
	b.cbMu.Lock()
	b.onProxyReady = fn
	b.cbMu.Unlock()
}

// OnGuestListChanged observes list_changed notifications sent by the guest.
func (b *AppBridge) OnGuestListChanged(fn GuestNotificationObserver) {
	b.cbMu.Lock()
	b.onGuestListChange = fn
	b.cbMu.Unlock()
}

// OnClose runs once when the session ends. err is nil after Close.
func (b *AppBridge) OnClose(fn func(error)) {
	b.cbMu.Lock()
	b.onClose = fn
	b.cbMu.Unlock()
}

// Connect binds the bridge to t and waits for the guest handshake. It fails
// with a CapabilityError when forwarding is configured but the backend has
// not reported its capabilities yet.
func (b *AppBridge) Connect(ctx context.Context, t transport.Transport) error {
	if err := b.checkConnectable(); err != nil {
		return err
	}
	caps, err := b.resolveHostCapabilities()
	if err != nil {
		return err
	}

	d := handler.NewDispatcher(append([]handler.Option{handler.WithLogger(b.logger)}, b.dispatcherOpts...)...)
	b.registerGuestHandlers(d)
	b.registerForwarding(d, caps)

	// The guest may send ui/initialize as soon as the dispatcher starts, so
	// the session state has to be in place first.
	b.mu.Lock()
	if b.state != StateCreated {
		b.mu.Unlock()
		return b.checkConnectable()
	}
	b.d = d
	b.hostCaps = caps
	b.state = StateAwaitingHandshake
	b.mu.Unlock()

	if err := d.Connect(ctx, t); err != nil {
		b.mu.Lock()
		closed := b.state == StateClosed
		if b.d == d && b.state == StateAwaitingHandshake {
			b.d = nil
			b.state = StateCreated
		}
		b.mu.Unlock()
		if closed {
			b.finish()
		}
		return err
	}

	b.subscribeBackend(caps)
	go b.watch(d)

	b.logger.Debug("Bridge connected", "serverTools", caps.ServerTools != nil, "serverResources", caps.ServerResources != nil)
	return nil
}

func (b *AppBridge) checkConnectable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateCreated:
		return nil
	case StateClosed:
		return mcperrors.ErrSessionClosed
	default:
		return mcperrors.ErrAlreadyConnected
	}
}

// resolveHostCapabilities derives serverTools and serverResources from the
// backend and merges them into the declared host capabilities.
func (b *AppBridge) resolveHostCapabilities() (models.HostCapabilities, error) {
	caps := b.declaredCaps
	if b.backend == nil {
		if caps.ServerTools != nil {
			return caps, &mcperrors.CapabilityError{Capability: "serverTools", Operation: "connect without a backend"}
		}
		if caps.ServerResources != nil {
			return caps, &mcperrors.CapabilityError{Capability: "serverResources", Operation: "connect without a backend"}
		}
		return caps, nil
	}

	server := b.backend.ServerCapabilities()
	if server == nil {
		return caps, &mcperrors.CapabilityError{Capability: "server", Operation: "connect before the backend reported its capabilities"}
	}
	caps.ServerTools = nil
	caps.ServerResources = nil
	if server.Tools != nil {
		caps.ServerTools = &models.ListChangedCapability{ListChanged: server.Tools.ListChanged}
	}
	if server.Resources != nil {
		caps.ServerResources = &models.ListChangedCapability{ListChanged: server.Resources.ListChanged}
	}
	return caps, nil
}

func (b *AppBridge) registerGuestHandlers(d *handler.Dispatcher) {
	d.SetRequestHandler(protocol.MethodUIInitialize, b.handleInitialize)
	d.SetNotificationHandler(protocol.MethodUIInitialized, b.handleInitialized)
	d.SetRequestHandler(protocol.MethodUIMessage, b.handleMessage)
	d.SetRequestHandler(protocol.MethodOpenLink, b.handleOpenLink)
	d.SetRequestHandler(protocol.MethodRequestDisplayMode, b.handleRequestDisplayMode)
	d.SetNotificationHandler(protocol.MethodSizeChanged, b.handleSizeChanged)
	d.SetNotificationHandler(protocol.MethodLoggingMessage, b.handleLoggingMessage)
	d.SetNotificationHandler(protocol.MethodSandboxProxyReady, b.handleProxyReady)
	for _, method := range []string{
		protocol.MethodToolsListChanged,
		protocol.MethodResourcesListChanged,
		protocol.MethodPromptsListChanged,
	} {
		method := method
		d.SetNotificationHandler(method, func(ctx context.Context, params json.RawMessage) {
			b.logger.Debug("Guest list changed", "method", method)
			b.cbMu.RLock()
			fn := b.onGuestListChange
			b.cbMu.RUnlock()
			if fn != nil {
				fn(method)
			}
		})
	}
}

func (b *AppBridge) registerForwarding(d *handler.Dispatcher, caps models.HostCapabilities) {
	if b.backend == nil {
		return
	}
	if caps.ServerTools != nil {
		d.SetRequestHandler(protocol.MethodToolsCall, b.forwardCallTool)
	}
	if caps.ServerResources != nil {
		d.SetRequestHandler(protocol.MethodResourcesRead, b.forwardReadResource)
		d.SetRequestHandler(protocol.MethodResourcesList, b.forwardPaginated(b.backend.ListResources))
		d.SetRequestHandler(protocol.MethodResourcesTemplatesList, b.forwardPaginated(b.backend.ListResourceTemplates))
	}
	if server := b.backend.ServerCapabilities(); server != nil && server.Prompts != nil {
		d.SetRequestHandler(protocol.MethodPromptsList, b.forwardPaginated(b.backend.ListPrompts))
	}
}

// subscribeBackend relays backend list changes the guest may care about.
func (b *AppBridge) subscribeBackend(caps models.HostCapabilities) {
	notifier, ok := b.backend.(ListChangedNotifier)
	if !ok {
		return
	}
	var remove []func()
	if caps.ServerTools != nil && caps.ServerTools.ListChanged {
		remove = append(remove, notifier.OnListChanged(protocol.MethodToolsListChanged, func() {
			b.relayListChanged(protocol.MethodToolsListChanged)
		}))
	}
	if caps.ServerResources != nil && caps.ServerResources.ListChanged {
		remove = append(remove, notifier.OnListChanged(protocol.MethodResourcesListChanged, func() {
			b.relayListChanged(protocol.MethodResourcesListChanged)
		}))
	}
	if server := b.backend.ServerCapabilities(); server != nil && server.Prompts != nil && server.Prompts.ListChanged {
		remove = append(remove, notifier.OnListChanged(protocol.MethodPromptsListChanged, func() {
			b.relayListChanged(protocol.MethodPromptsListChanged)
		}))
	}
	b.mu.Lock()
	b.unsubscribe = remove
	b.mu.Unlock()
}

func (b *AppBridge) relayListChanged(method string) {
	if b.State() != StateInitialized {
		return
	}
	if err := b.notify(context.Background(), method, nil); err != nil {
		b.logger.Debug("Failed to relay list change", "method", method, "error", err)
	}
}

func (b *AppBridge) watch(d *handler.Dispatcher) {
	<-d.Done()
	b.mu.Lock()
	b.state = StateClosed
	remove := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	for _, fn := range remove {
		fn()
	}

	err := d.Err()
	if err == mcperrors.ErrConnClosed {
		err = nil
	}
	b.logger.Debug("Bridge closed", "error", err)
	b.cbMu.RLock()
	fn := b.onClose
	b.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
	b.finish()
}

func (b *AppBridge) finish() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *AppBridge) dispatcher() (*handler.Dispatcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateCreated:
		return nil, mcperrors.ErrNotConnected
	case StateClosed:
		return nil, mcperrors.ErrSessionClosed
	}
	return b.d, nil
}

func (b *AppBridge) notify(ctx context.Context, method string, params interface{}) error {
	d, err := b.dispatcher()
	if err != nil {
		return err
	}
	return d.Notify(ctx, method, params)
}

// notifyInitialized sends a Host-to-Guest notification that is only valid
// after the handshake completed.
func (b *AppBridge) notifyInitialized(ctx context.Context, method string, params interface{}) error {
	switch b.State() {
	case StateInitialized:
		return b.notify(ctx, method, params)
	case StateClosed:
		return mcperrors.ErrSessionClosed
	default:
		return fmt.Errorf("%s before the guest initialized: %w", method, mcperrors.ErrNotInitialized)
	}
}

func (b *AppBridge) handleInitialize(ctx context.Context, req *handler.Request) (interface{}, error) {
	var p models.UIInitializeParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	version := p.ProtocolVersion
	if !protocol.IsSupportedVersion(b.versions, version) {
		b.logger.Warn("Guest requested unsupported protocol version, falling back", "requested", version, "version", b.versions[0])
		version = b.versions[0]
	}
	info := p.AppInfo
	caps := p.AppCapabilities
	b.appInfo = &info
	b.appCaps = &caps
	b.protocolVersion = version
	b.handshakeDone = true

	b.logger.Info("Guest handshake", "app", info.Name, "appVersion", info.Version, "protocol", version)
	return models.UIInitializeResult{
		ProtocolVersion:  version,
		HostInfo:         b.hostInfo,
		HostCapabilities: b.hostCaps,
		HostContext:      b.hostContext.Clone(),
	}, nil
}

func (b *AppBridge) handleInitialized(ctx context.Context, params json.RawMessage) {
	b.mu.Lock()
	if !b.handshakeDone {
		b.mu.Unlock()
		b.logger.Warn("Ignoring initialized notification before ui/initialize")
		return
	}
	if b.state == StateAwaitingHandshake {
		b.state = StateInitialized
	}
	b.mu.Unlock()

	b.initOnce.Do(func() {
		b.cbMu.RLock()
		fn := b.onInitialized
		b.cbMu.RUnlock()
		if fn != nil {
			fn()
		}
	})
}

// requireHandshake guards forwarded requests. The guest may send them as soon
// as its ui/initialize was answered, possibly before the initialized
// notification has been processed.
func (b *AppBridge) requireHandshake(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.handshakeDone {
		return mcperrors.NewNotInitialized(method)
	}
	return nil
}

func (b *AppBridge) forwardCallTool(ctx context.Context, req *handler.Request) (interface{}, error) {
	if err := b.requireHandshake(req.Method); err != nil {
		return nil, err
	}
	var p models.CallToolParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, mcperrors.NewInvalidParams("tool name is required")
	}
	b.logger.Debug("Forwarding tool call", "tool", p.Name)
	raw, err := b.backend.CallTool(ctx, p)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *AppBridge) forwardReadResource(ctx context.Context, req *handler.Request) (interface{}, error) {
	if err := b.requireHandshake(req.Method); err != nil {
		return nil, err
	}
	var p models.ReadResourceParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, mcperrors.NewInvalidParams("uri is required")
	}
	raw, err := b.backend.ReadResource(ctx, p)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *AppBridge) forwardPaginated(call func(context.Context, models.PaginatedParams) (json.RawMessage, error)) handler.RequestHandlerFunc {
	return func(ctx context.Context, req *handler.Request) (interface{}, error) {
		if err := b.requireHandshake(req.Method); err != nil {
			return nil, err
		}
		var p models.PaginatedParams
		if err := req.Bind(&p); err != nil {
			return nil, err
		}
		raw, err := call(ctx, p)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}

func (b *AppBridge) handleMessage(ctx context.Context, req *handler.Request) (interface{}, error) {
	b.cbMu.RLock()
	fn := b.onMessage
	b.cbMu.RUnlock()
	if fn == nil {
		return nil, mcperrors.NewMethodNotFound(req.Method)
	}
	var p models.MessageParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.Role == "" {
		return nil, mcperrors.NewInvalidParams("role is required")
	}
	res, err := fn(ctx, p)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &models.MessageResult{}
	}
	return res, nil
}

func (b *AppBridge) handleOpenLink(ctx context.Context, req *handler.Request) (interface{}, error) {
	b.mu.Lock()
	allowed := b.hostCaps.OpenLinks != nil
	b.mu.Unlock()
	if !allowed {
		return nil, &mcperrors.CapabilityError{Capability: "openLinks", Operation: req.Method}
	}
	b.cbMu.RLock()
	fn := b.onOpenLink
	b.cbMu.RUnlock()
	if fn == nil {
		return nil, mcperrors.NewMethodNotFound(req.Method)
	}

	var p models.OpenLinkParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, mcperrors.NewInvalidParams(fmt.Sprintf("refusing to open %q: only http and https links are allowed", p.URL))
	}
	res, err := fn(ctx, p)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &models.OpenLinkResult{}
	}
	return res, nil
}

func (b *AppBridge) handleRequestDisplayMode(ctx context.Context, req *handler.Request) (interface{}, error) {
	var p models.RequestDisplayModeParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	switch p.Mode {
	case models.DisplayModeInline, models.DisplayModeFullscreen, models.DisplayModePiP:
	default:
		return nil, mcperrors.NewInvalidParams(fmt.Sprintf("unknown display mode %q", p.Mode))
	}

	current := b.HostContext()
	mode := current.DisplayMode
	if len(current.AvailableDisplayModes) == 0 || containsMode(current.AvailableDisplayModes, p.Mode) {
		b.cbMu.RLock()
		fn := b.onDisplayMode
		b.cbMu.RUnlock()
		if fn != nil {
			applied, err := fn(ctx, p.Mode)
			if err != nil {
				return nil, err
			}
			mode = applied
		}
	}
	if mode == "" {
		mode = models.DisplayModeInline
	}
	if mode != current.DisplayMode {
		updated := b.HostContext()
		updated.DisplayMode = mode
		if err := b.SetHostContext(ctx, updated); err != nil {
			b.logger.Warn("Failed to publish display mode", "error", err)
		}
	}
	return models.RequestDisplayModeResult{Mode: mode}, nil
}

func containsMode(modes []models.DisplayMode, m models.DisplayMode) bool {
	for _, candidate := range modes {
		if candidate == m {
			return true
		}
	}
	return false
}

func (b *AppBridge) handleSizeChanged(ctx context.Context, params json.RawMessage) {
	var p models.SizeChangedParams
	if err := json.Unmarshal(params, &p); err != nil {
		b.logger.Debug("Ignoring malformed size change", "error", err)
		return
	}
	b.mu.Lock()
	if p.Width != nil {
		w := *p.Width
		b.size.MinWidth = &w
	}
	if p.Height != nil {
		h := *p.Height
		b.size.Height = &h
	}
	size := b.preferredSizeLocked()
	b.mu.Unlock()

	b.cbMu.RLock()
	fn := b.onSizeChanged
	b.cbMu.RUnlock()
	if fn != nil {
		fn(size)
	}
}

func (b *AppBridge) preferredSizeLocked() PreferredSize {
	var out PreferredSize
	if b.size.MinWidth != nil {
		w := *b.size.MinWidth
		out.MinWidth = &w
	}
	if b.size.Height != nil {
		h := *b.size.Height
		out.Height = &h
	}
	return out
}

// PreferredSize returns the guest's latest requested size.
func (b *AppBridge) PreferredSize() PreferredSize {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.preferredSizeLocked()
}

func (b *AppBridge) handleLoggingMessage(ctx context.Context, params json.RawMessage) {
	var p models.LoggingMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		b.logger.Debug("Ignoring malformed guest log", "error", err)
		return
	}
	b.cbMu.RLock()
	fn := b.onLoggingMessage
	b.cbMu.RUnlock()
	if fn != nil {
		fn(p)
		return
	}
	logAt(b.logger, p.Level, "Guest log", "logger", p.Logger, "data", p.Data.Interface())
}

func (b *AppBridge) handleProxyReady(ctx context.Context, params json.RawMessage) {
	b.logger.Debug("Sandbox proxy ready")
	b.cbMu.RLock()
	fn := b.onProxyReady
	b.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// AppInfo returns the guest implementation from the handshake, or nil.
func (b *AppBridge) AppInfo() *models.Implementation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appInfo == nil {
		return nil
	}
	info := *b.appInfo
	return &info
}

// AppCapabilities returns the guest capabilities from the handshake, or nil.
func (b *AppBridge) AppCapabilities() *models.AppCapabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appCaps == nil {
		return nil
	}
	caps := *b.appCaps
	return &caps
}

// ProtocolVersion returns the negotiated version, empty before the handshake.
func (b *AppBridge) ProtocolVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.protocolVersion
}

// HostCapabilities returns the capabilities offered to the guest. Before
// Connect these are the declared ones.
func (b *AppBridge) HostCapabilities() models.HostCapabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateCreated {
		return b.declaredCaps
	}
	return b.hostCaps
}

// HostContext returns a copy of the current host context.
func (b *AppBridge) HostContext() models.HostContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hostContext.Clone()
}

// SetHostContext stores updated and, once the guest is initialized, sends
// only the fields that changed. An identical context sends nothing. When the
// send fails the previous context is kept.
func (b *AppBridge) SetHostContext(ctx context.Context, updated models.HostContext) error {
	b.ctxMu.Lock()
	defer b.ctxMu.Unlock()

	b.mu.Lock()
	diff, err := models.DiffHostContext(b.hostContext, updated)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to diff host context: %w", err)
	}
	if len(diff) == 0 {
		b.mu.Unlock()
		return nil
	}
	if b.state != StateInitialized {
		// The guest receives the full context in the handshake result.
		b.hostContext = updated.Clone()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.logger.Debug("Host context changed", "keys", diff.Keys())
	if err := b.notify(ctx, protocol.MethodHostContextChanged, diff); err != nil {
		return err
	}
	b.mu.Lock()
	b.hostContext = updated.Clone()
	b.mu.Unlock()
	return nil
}

// SendToolInput delivers the complete tool arguments.
func (b *AppBridge) SendToolInput(ctx context.Context, args map[string]protocol.Value) error {
	return b.notifyInitialized(ctx, protocol.MethodToolInput, models.ToolInputParams{Arguments: args})
}

// SendToolInputPartial streams partial tool arguments.
func (b *AppBridge) SendToolInputPartial(ctx context.Context, args map[string]protocol.Value) error {
	return b.notifyInitialized(ctx, protocol.MethodToolInputPartial, models.ToolInputParams{Arguments: args})
}

// SendToolResult delivers the finished tool result.
func (b *AppBridge) SendToolResult(ctx context.Context, result models.CallToolResult) error {
	return b.notifyInitialized(ctx, protocol.MethodToolResult, result)
}

// SendToolResultRaw delivers a tool result exactly as the backend returned
// it.
func (b *AppBridge) SendToolResultRaw(ctx context.Context, result json.RawMessage) error {
	return b.notifyInitialized(ctx, protocol.MethodToolResult, result)
}

// SendToolCancelled tells the guest the tool call was abandoned.
func (b *AppBridge) SendToolCancelled(ctx context.Context, reason string) error {
	return b.notifyInitialized(ctx, protocol.MethodToolCancelled, models.ToolCancelledParams{Reason: reason})
}

// SendSandboxResourceReady pushes the guest document and its policy into the
// sandbox proxy. It runs before the guest handshake, so it only requires a
// connection.
func (b *AppBridge) SendSandboxResourceReady(ctx context.Context, params models.SandboxResourceReadyParams) error {
	return b.notify(ctx, protocol.MethodSandboxResourceReady, params)
}

// SendToolListChanged tells the guest the server tool list changed.
func (b *AppBridge) SendToolListChanged(ctx context.Context) error {
	caps := b.HostCapabilities()
	if caps.ServerTools == nil || !caps.ServerTools.ListChanged {
		return &mcperrors.CapabilityError{Capability: "serverTools.listChanged", Operation: protocol.MethodToolsListChanged}
	}
	return b.notifyInitialized(ctx, protocol.MethodToolsListChanged, nil)
}

// SendResourceListChanged tells the guest the server resource list changed.
func (b *AppBridge) SendResourceListChanged(ctx context.Context) error {
	caps := b.HostCapabilities()
	if caps.ServerResources == nil || !caps.ServerResources.ListChanged {
		return &mcperrors.CapabilityError{Capability: "serverResources.listChanged", Operation: protocol.MethodResourcesListChanged}
	}
	return b.notifyInitialized(ctx, protocol.MethodResourcesListChanged, nil)
}

// SendPromptListChanged tells the guest the server prompt list changed.
func (b *AppBridge) SendPromptListChanged(ctx context.Context) error {
	var server *protocol.ServerCapabilities
	if b.backend != nil {
		server = b.backend.ServerCapabilities()
	}
	if server == nil || server.Prompts == nil || !server.Prompts.ListChanged {
		return &mcperrors.CapabilityError{Capability: "prompts.listChanged", Operation: protocol.MethodPromptsListChanged}
	}
	return b.notifyInitialized(ctx, protocol.MethodPromptsListChanged, nil)
}

// Ping checks that the guest is responsive.
func (b *AppBridge) Ping(ctx context.Context) error {
	d, err := b.dispatcher()
	if err != nil {
		return err
	}
	_, err = d.Request(ctx, protocol.MethodPing, nil)
	return err
}

// SendResourceTeardown asks the guest to persist its state and waits at most
// the teardown timeout for the acknowledgement. A guest that does not answer
// in time is not an error: the caller proceeds with unmounting.
func (b *AppBridge) SendResourceTeardown(ctx context.Context) error {
	d, err := b.dispatcher()
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, b.teardownTimeout)
	defer cancel()

	start := time.Now()
	_, err = d.Request(tctx, protocol.MethodResourceTeardown, models.ResourceTeardownParams{})
	switch {
	case err == nil:
		b.logger.Debug("Guest acknowledged teardown", "elapsed", time.Since(start))
		return nil
	case mcperrors.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		b.logger.Warn("Guest did not acknowledge teardown in time, proceeding", "timeout", b.teardownTimeout)
		return nil
	default:
		return fmt.Errorf("resource teardown: %w", err)
	}
}

// Teardown runs SendResourceTeardown and then closes the session. Teardown
// errors are logged, never returned in place of the close result.
func (b *AppBridge) Teardown(ctx context.Context) error {
	if err := b.SendResourceTeardown(ctx); err != nil {
		b.logger.Warn("Teardown request failed", "error", err)
	}
	return b.Close()
}

// Close ends the session and releases the transport. It is safe to call more
// than once.
func (b *AppBridge) Close() error {
	b.mu.Lock()
	d := b.d
	b.state = StateClosed
	b.mu.Unlock()
	if d == nil {
		b.finish()
		return nil
	}
	return d.Close()
}

// Done is closed once the session has ended and OnClose has run.
func (b *AppBridge) Done() <-chan struct{} { return b.done }
