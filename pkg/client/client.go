// Package client implements the backend side of a host: an MCP client that
// talks to a tool server (typically a subprocess over stdio) so an AppBridge
// can forward guest requests to it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

// supportedServerVersions are the backend MCP revisions the client accepts in
// an initialize result.
var supportedServerVersions = []string{protocol.MCPProtocolVersion, "2025-03-26", "2024-11-05"}

// Client represents an MCP client connected to a backend tool server.
type Client struct {
	transport    transport.Transport
	dispatcher   *handler.Dispatcher
	logger       logging.Logger
	clientInfo   models.Implementation
	capabilities protocol.ClientCapabilities
	timeout      time.Duration

	mu              sync.RWMutex
	initialized     bool
	shutdown        bool
	serverCaps      *protocol.ServerCapabilities
	serverInfo      *models.Implementation
	instructions    string
	protocolVersion string
	listeners       map[string][]func()
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientInfo sets the client information.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = models.Implementation{Name: name, Version: version}
	}
}

// WithCapabilities sets the client capabilities announced to the server.
func WithCapabilities(capabilities protocol.ClientCapabilities) Option {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithRequestTimeout bounds every request without its own deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a new MCP client over t.
func NewClient(t transport.Transport, options ...Option) *Client {
	c := &Client{
		transport:  t,
		logger:     logging.NewNoopLogger(),
		clientInfo: models.Implementation{Name: "mcp-apps-go-host", Version: "0.1.0"},
		timeout:    handler.DefaultRequestTimeout,
		listeners:  make(map[string][]func()),
	}
	for _, option := range options {
		option(c)
	}

	c.dispatcher = handler.NewDispatcher(
		handler.WithLogger(logging.With(c.logger, "component", "backend")),
		handler.WithRequestTimeout(c.timeout),
	)
	for _, method := range []string{
		protocol.MethodToolsListChanged,
		protocol.MethodResourcesListChanged,
		protocol.MethodPromptsListChanged,
		protocol.MethodResourcesUpdated,
	} {
		method := method
		c.dispatcher.SetNotificationHandler(method, func(ctx context.Context, params json.RawMessage) {
			c.notifyListeners(method)
		})
	}
	c.dispatcher.SetNotificationHandler(protocol.MethodLoggingMessage, c.handleServerLog)
	return c
}

// Initialize connects the transport and performs the MCP initialize
// handshake.
func (c *Client) Initialize(ctx context.Context) (*models.InitializeResult, error) {
	c.mu.RLock()
	if c.shutdown {
		c.mu.RUnlock()
		return nil, mcperrors.ErrSessionClosed
	}
	if c.initialized {
		c.mu.RUnlock()
		return nil, fmt.Errorf("client already initialized")
	}
	c.mu.RUnlock()

	if !c.dispatcher.Connected() {
		if err := c.dispatcher.Connect(ctx, c.transport); err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
	}

	params := models.InitializeParams{
		ProtocolVersion: protocol.MCPProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.clientInfo,
	}
	var result models.InitializeResult
	if err := c.dispatcher.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	if !protocol.IsSupportedVersion(supportedServerVersions, result.ProtocolVersion) {
		return nil, fmt.Errorf("server protocol version %q is not supported", result.ProtocolVersion)
	}

	if err := c.dispatcher.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	caps := result.Capabilities
	info := result.ServerInfo
	c.serverCaps = &caps
	c.serverInfo = &info
	c.instructions = result.Instructions
	c.protocolVersion = result.ProtocolVersion
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("Connected to backend", "server", info.Name, "version", info.Version, "protocol", result.ProtocolVersion)
	return &result, nil
}

func (c *Client) isInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *Client) isShutdown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown
}

// ServerCapabilities returns what the backend advertised, or nil before
// Initialize succeeds.
func (c *Client) ServerCapabilities() *protocol.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// GetServerInfo returns the backend's implementation info.
func (c *Client) GetServerInfo() *models.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// GetInstructions returns the backend's instructions, if any.
func (c *Client) GetInstructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// GetProtocolVersion returns the negotiated backend protocol version.
func (c *Client) GetProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.isInitialized() {
		return nil, mcperrors.ErrNotInitialized
	}
	return c.dispatcher.Request(ctx, method, params)
}

func (c *Client) requireCapability(name string, present bool, operation string) error {
	if !c.isInitialized() {
		return mcperrors.ErrNotInitialized
	}
	if !present {
		return &mcperrors.CapabilityError{Capability: name, Operation: operation}
	}
	return nil
}

func (c *Client) hasTools() bool {
	caps := c.ServerCapabilities()
	return caps != nil && caps.Tools != nil
}

func (c *Client) hasResources() bool {
	caps := c.ServerCapabilities()
	return caps != nil && caps.Resources != nil
}

func (c *Client) hasPrompts() bool {
	caps := c.ServerCapabilities()
	return caps != nil && caps.Prompts != nil
}

// Ping checks that the backend is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.MethodPing, nil)
	return err
}

// CallTool invokes a backend tool and returns the raw result.
func (c *Client) CallTool(ctx context.Context, params models.CallToolParams) (json.RawMessage, error) {
	if err := c.requireCapability("tools", c.hasTools(), protocol.MethodToolsCall); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodToolsCall, params)
}

// ListTools returns one page of tools.
func (c *Client) ListTools(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	if err := c.requireCapability("tools", c.hasTools(), protocol.MethodToolsList); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodToolsList, params)
}

// Tools fetches every page of tools/list.
func (c *Client) Tools(ctx context.Context) ([]models.Tool, error) {
	var tools []models.Tool
	var cursor models.Cursor
	for {
		raw, err := c.ListTools(ctx, models.PaginatedParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page models.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResource reads a backend resource and returns the raw result.
func (c *Client) ReadResource(ctx context.Context, params models.ReadResourceParams) (json.RawMessage, error) {
	if err := c.requireCapability("resources", c.hasResources(), protocol.MethodResourcesRead); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodResourcesRead, params)
}

// ReadUIResource reads uri and parses it as an MCP App document.
func (c *Client) ReadUIResource(ctx context.Context, uri string) (*models.UIResource, error) {
	raw, err := c.ReadResource(ctx, models.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var res models.ReadResourceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode resources/read result: %w", err)
	}
	return models.ParseUIResource(&res)
}

// ListResources returns one page of resources.
func (c *Client) ListResources(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	if err := c.requireCapability("resources", c.hasResources(), protocol.MethodResourcesList); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodResourcesList, params)
}

// ListResourceTemplates returns one page of resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	if err := c.requireCapability("resources", c.hasResources(), protocol.MethodResourcesTemplatesList); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodResourcesTemplatesList, params)
}

// Subscribe asks for resources/updated notifications about uri.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	caps := c.ServerCapabilities()
	ok := caps != nil && caps.Resources != nil && caps.Resources.Subscribe
	if err := c.requireCapability("resources.subscribe", ok, protocol.MethodResourcesSubscribe); err != nil {
		return err
	}
	_, err := c.request(ctx, protocol.MethodResourcesSubscribe, models.SubscribeParams{URI: uri})
	return err
}

// Unsubscribe cancels a Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	caps := c.ServerCapabilities()
	ok := caps != nil && caps.Resources != nil && caps.Resources.Subscribe
	if err := c.requireCapability("resources.subscribe", ok, protocol.MethodResourcesUnsubscribe); err != nil {
		return err
	}
	_, err := c.request(ctx, protocol.MethodResourcesUnsubscribe, models.SubscribeParams{URI: uri})
	return err
}

// ListPrompts returns one page of prompts.
func (c *Client) ListPrompts(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	if err := c.requireCapability("prompts", c.hasPrompts(), protocol.MethodPromptsList); err != nil {
		return nil, err
	}
	return c.request(ctx, protocol.MethodPromptsList, params)
}

// OnListChanged registers fn for a backend notification such as
// notifications/tools/list_changed. It returns a function that removes it.
func (c *Client) OnListChanged(method string, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[method] = append(c.listeners[method], fn)
	idx := len(c.listeners[method]) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if fns := c.listeners[method]; idx < len(fns) {
			fns[idx] = nil
		}
	}
}

func (c *Client) notifyListeners(method string) {
	c.mu.RLock()
	fns := append([]func(){}, c.listeners[method]...)
	c.mu.RUnlock()
	c.logger.Debug("Backend notification", "method", method)
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func (c *Client) handleServerLog(ctx context.Context, params json.RawMessage) {
	var p models.LoggingMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.logger.Debug("Ignoring malformed backend log", "error", err)
		return
	}
	kv := []interface{}{"logger", p.Logger, "data", p.Data.Interface()}
	switch {
	case p.Level.Enabled(models.LoggingLevelError):
		c.logger.Error("Backend log", kv...)
	case p.Level.Enabled(models.LoggingLevelWarning):
		c.logger.Warn("Backend log", kv...)
	case p.Level.Enabled(models.LoggingLevelInfo):
		c.logger.Info("Backend log", kv...)
	default:
		c.logger.Debug("Backend log", kv...)
	}
}

// Shutdown closes the session. It is safe to call more than once.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.initialized = false
	c.mu.Unlock()

	var err error
	if c.dispatcher.Connected() {
		err = c.dispatcher.Close()
	} else {
		_ = c.dispatcher.Close()
		err = c.transport.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Done is closed when the backend session has ended.
func (c *Client) Done() <-chan struct{} { return c.dispatcher.Done() }
