package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/apps"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/config"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

const (
	bridgePath = "/bridge"
	// frameSource tags relay frames coming from the guest iframe.
	frameSource = "guest-frame"
)

//go:embed host.html
var hostPageSource string

var hostPage = template.Must(template.New("host").Parse(hostPageSource))

// guestApp is the UI resource served to every guest session together with
// the tool it renders.
type guestApp struct {
	Tool     models.Tool
	Resource *models.UIResource
	Policy   *sandbox.Policy
	// Input, when set, is sent as tool-input once the guest is initialized
	// and the tool is then called on the backend.
	Input map[string]protocol.Value
}

// hostServer is the development host: it renders the host page, relays the
// guest frame over a websocket and runs one AppBridge per connection.
type hostServer struct {
	cfg           *config.Config
	backend       apps.Backend
	app           guestApp
	logger        logging.Logger
	sandboxOrigin string
	upgrader      *websocket.Upgrader
	router        *gin.Engine
	page          []byte

	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions map[string]*apps.AppBridge
}

func newHostServer(cfg *config.Config, backend apps.Backend, app guestApp, logger logging.Logger) (*hostServer, error) {
	hostOrigin := "http://" + cfg.Host.Addr
	sandboxOrigin, err := sandbox.NormalizeOrigin("http://" + cfg.Sandbox.Addr)
	if err != nil {
		return nil, fmt.Errorf("sandbox origin: %w", err)
	}
	allowed := cfg.Host.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{hostOrigin}
	}
	upgrader, err := transport.NewUpgrader(allowed)
	if err != nil {
		return nil, err
	}

	s := &hostServer{
		cfg:           cfg,
		backend:       backend,
		app:           app,
		logger:        logger,
		sandboxOrigin: sandboxOrigin,
		upgrader:      upgrader,
		sessions:      make(map[string]*apps.AppBridge),
	}
	if s.page, err = s.renderPage(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	router.GET("/", s.handlePage)
	router.GET(bridgePath, s.handleBridge)
	router.GET("/healthz", s.handleHealth)
	s.router = router
	return s, nil
}

func (s *hostServer) renderPage() ([]byte, error) {
	csp := []byte("{}")
	if s.app.Resource.Meta.CSP != nil {
		var err error
		if csp, err = json.Marshal(s.app.Resource.Meta.CSP); err != nil {
			return nil, fmt.Errorf("failed to encode resource csp: %w", err)
		}
	}
	src := url.URL{
		Scheme:   "http",
		Host:     s.cfg.Sandbox.Addr,
		Path:     s.cfg.Sandbox.Path,
		RawQuery: url.Values{sandbox.CSPQueryParam: {string(csp)}}.Encode(),
	}

	var buf bytes.Buffer
	err := hostPage.Execute(&buf, struct {
		Title         string
		Tool          string
		SandboxURL    string
		SandboxOrigin string
		FrameSource   string
		BridgePath    string
	}{
		Title:         s.cfg.Host.Name,
		Tool:          s.app.Tool.Name,
		SandboxURL:    src.String(),
		SandboxOrigin: s.sandboxOrigin,
		FrameSource:   frameSource,
		BridgePath:    bridgePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render host page: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *hostServer) handlePage(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.page)
}

func (s *hostServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"tool":     s.app.Tool.Name,
		"resource": s.app.Resource.URI,
		"sessions": s.sessionCount(),
	})
}

// handleBridge upgrades the page's websocket and runs a guest session on it
// until either side goes away.
func (s *hostServer) handleBridge(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "origin", c.GetHeader("Origin"), "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	port := transport.NewWebSocketPort(conn, transport.WithWebSocketLogger(s.logger))
	defer port.Close()

	tr, err := transport.NewWindowTransport(port, s.sandboxOrigin,
		transport.WithExpectedSource(frameSource),
		transport.WithWindowLogger(s.logger),
	)
	if err != nil {
		s.logger.Error("Failed to create window transport", "error", err)
		return
	}

	bridge, err := s.newBridge()
	if err != nil {
		s.logger.Error("Failed to create bridge", "error", err)
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bridge.Connect(runCtx, tr); err != nil {
		s.logger.Error("Failed to connect bridge", "session", bridge.ID(), "error", err)
		return
	}

	s.track(bridge)
	defer s.untrack(bridge)
	go func() {
		<-bridge.Done()
		_ = port.Close()
	}()

	s.logger.Info("Guest session started", "session", bridge.ID(), "conn", port.ID())
	if err := port.Run(runCtx); err != nil {
		tr.Fail(err)
	} else {
		_ = tr.Close()
	}
	<-bridge.Done()
}

func (s *hostServer) track(b *apps.AppBridge) {
	s.mu.Lock()
	s.sessions[b.ID()] = b
	s.mu.Unlock()
}

func (s *hostServer) untrack(b *apps.AppBridge) {
	s.mu.Lock()
	delete(s.sessions, b.ID())
	s.mu.Unlock()
}

func (s *hostServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown tears down every live guest session and waits for them to end.
func (s *hostServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*apps.AppBridge, 0, len(s.sessions))
	for _, b := range s.sessions {
		live = append(live, b)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range live {
		wg.Add(1)
		go func(b *apps.AppBridge) {
			defer wg.Done()
			if err := b.Teardown(ctx); err != nil {
				s.logger.Warn("Teardown failed", "session", b.ID(), "error", err)
			}
		}(b)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *hostServer) hostContext() models.HostContext {
	hc := models.HostContext{
		Theme:                 models.ThemeLight,
		DisplayMode:           models.DisplayModeInline,
		AvailableDisplayModes: []models.DisplayMode{models.DisplayModeInline, models.DisplayModeFullscreen},
		Platform:              models.PlatformWeb,
		ToolInfo:              &models.ToolInfo{Tool: s.app.Tool},
	}
	hover := true
	hc.DeviceCapabilities = &models.DeviceCapabilities{Hover: &hover}
	return hc
}

func (s *hostServer) newBridge() (*apps.AppBridge, error) {
	dispatcherOpts := []handler.Option{handler.WithRequestTimeout(s.cfg.Protocol.RequestTimeout.Std())}
	if rps := s.cfg.Limits.RequestsPerSecond; rps > 0 {
		dispatcherOpts = append(dispatcherOpts, handler.WithRateLimiter(rate.NewLimiter(rate.Limit(rps), s.cfg.Limits.Burst)))
	}

	caps := models.HostCapabilities{
		OpenLinks: &models.Empty{},
		Logging:   &models.Empty{},
		Sandbox: &models.SandboxCapability{
			CSP:         s.app.Resource.Meta.CSP,
			Permissions: s.app.Resource.Meta.Permissions,
		},
	}
	bridge, err := apps.NewAppBridge(s.backend,
		models.Implementation{Name: s.cfg.Host.Name, Version: s.cfg.Host.Version},
		caps,
		apps.WithLogger(s.logger),
		apps.WithSupportedVersions(s.cfg.Protocol.Versions...),
		apps.WithHostContext(s.hostContext()),
		apps.WithTeardownTimeout(s.cfg.Protocol.TeardownTimeout.Std()),
		apps.WithDispatcherOptions(dispatcherOpts...),
	)
	if err != nil {
		return nil, err
	}
	logger := logging.With(s.logger, "session", bridge.ID())

	bridge.OnSandboxProxyReady(func() {
		params := s.app.Policy.ResourceReadyParams(s.app.Resource.HTML)
		if err := bridge.SendSandboxResourceReady(context.Background(), params); err != nil {
			logger.Error("Failed to deliver resource to sandbox", "error", err)
		}
	})
	bridge.OnInitialized(func() {
		info := bridge.AppInfo()
		logger.Info("Guest initialized", "app", info.Name, "version", info.Version, "protocol", bridge.ProtocolVersion())
		if s.app.Input != nil {
			go s.runTool(bridge, logger)
		}
	})
	bridge.OnMessage(func(ctx context.Context, params models.MessageParams) (*models.MessageResult, error) {
		logger.Info("Guest message", "role", params.Role, "content", len(params.Content))
		return &models.MessageResult{}, nil
	})
	bridge.OnOpenLink(func(ctx context.Context, params models.OpenLinkParams) (*models.OpenLinkResult, error) {
		logger.Info("Guest asked to open link", "url", params.URL)
		return &models.OpenLinkResult{}, nil
	})
	bridge.OnRequestDisplayMode(func(ctx context.Context, requested models.DisplayMode) (models.DisplayMode, error) {
		logger.Debug("Display mode granted", "mode", requested)
		return requested, nil
	})
	bridge.OnSizeChanged(func(size apps.PreferredSize) {
		kv := []interface{}{}
		if size.MinWidth != nil {
			kv = append(kv, "minWidth", *size.MinWidth)
		}
		if size.Height != nil {
			kv = append(kv, "height", *size.Height)
		}
		logger.Debug("Guest size changed", kv...)
	})
	bridge.OnClose(func(err error) {
		if err != nil {
			logger.Warn("Guest session ended", "error", err)
			return
		}
		logger.Info("Guest session ended")
	})
	return bridge, nil
}

// runTool replays the configured tool call into the guest: the arguments
// first, then the backend result or a cancellation.
func (s *hostServer) runTool(bridge *apps.AppBridge, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Protocol.RequestTimeout.Std())
	defer cancel()

	if err := bridge.SendToolInput(ctx, s.app.Input); err != nil {
		logger.Warn("Failed to send tool input", "error", err)
		return
	}
	start := time.Now()
	raw, err := s.backend.CallTool(ctx, models.CallToolParams{Name: s.app.Tool.Name, Arguments: s.app.Input})
	if err != nil {
		logger.Warn("Tool call failed", "tool", s.app.Tool.Name, "error", err)
		if err := bridge.SendToolCancelled(ctx, err.Error()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Failed to send tool cancellation", "error", err)
		}
		return
	}
	logger.Debug("Tool call finished", "tool", s.app.Tool.Name, "duration", time.Since(start))
	if err := bridge.SendToolResultRaw(ctx, raw); err != nil {
		logger.Warn("Failed to send tool result", "error", err)
	}
}

func loggerMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Debug("http request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}
