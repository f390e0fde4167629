package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/client"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/config"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

var errBackendExited = errors.New("backend server exited")

type serveOptions struct {
	tool  string
	input string
}

func serveCmd(configPath *string) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve [-- command args...]",
		Short: "Start the backend server and serve its tool UI",
		Long: "Starts the configured MCP server over stdio, loads the UI resource of the selected tool\n" +
			"and serves the host page and the sandbox proxy on separate origins.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Server.Command, cfg.Server.Args = args[0], args[1:]
			}
			if opts.tool != "" {
				cfg.Server.Tool = opts.tool
			}
			return runServe(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.tool, "tool", "t", "", "Tool whose UI to render (default: first tool with a UI)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "JSON arguments sent as tool input and used to call the tool")
	return cmd
}

func newLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewSlogHandlerLogger(os.Stderr, level, cfg.Format == "json"), nil
}

func parseInput(raw string) (map[string]protocol.Value, error) {
	if raw == "" {
		return nil, nil
	}
	var input map[string]protocol.Value
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("--input must be a JSON object: %w", err)
	}
	if input == nil {
		input = map[string]protocol.Value{}
	}
	return input, nil
}

func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	if cfg.Server.Command == "" {
		return fmt.Errorf("no backend server configured: set server.command or pass it after --")
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	input, err := parseInput(opts.input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := startBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Shutdown(); err != nil {
			logger.Warn("Backend shutdown failed", "error", err)
		}
	}()

	app, err := loadGuestApp(ctx, backend, cfg.Server.Tool)
	if err != nil {
		return err
	}
	app.Input = input
	logger.Info("Loaded UI resource", "tool", app.Tool.Name, "uri", app.Resource.URI, "csp", app.Policy.CSP)

	host, err := newHostServer(cfg, backend, app, logger)
	if err != nil {
		return err
	}
	proxy, err := sandbox.NewProxyHandler("http://"+cfg.Host.Addr,
		sandbox.WithProxyLogger(logger),
		sandbox.WithProxyTitle(cfg.Host.Name+" sandbox"),
	)
	if err != nil {
		return err
	}
	sandboxRouter := gin.New()
	sandboxRouter.Use(gin.Recovery())
	sandboxRouter.Use(loggerMiddleware(logger))
	sandboxRouter.GET(cfg.Sandbox.Path, gin.WrapH(proxy))
	sandboxRouter.HEAD(cfg.Sandbox.Path, gin.WrapH(proxy))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, &http.Server{Addr: cfg.Host.Addr, Handler: host.router}, logger, host.Shutdown)
	})
	g.Go(func() error {
		return serveHTTP(gctx, &http.Server{Addr: cfg.Sandbox.Addr, Handler: sandboxRouter}, logger, nil)
	})
	g.Go(func() error {
		select {
		case <-backend.Done():
			return errBackendExited
		case <-gctx.Done():
			return nil
		}
	})

	logger.Info("Host ready", "url", "http://"+cfg.Host.Addr+"/", "sandbox", "http://"+cfg.Sandbox.Addr+cfg.Sandbox.Path)
	return g.Wait()
}

func startBackend(ctx context.Context, cfg *config.Config, logger logging.Logger) (*client.Client, error) {
	cmd := exec.Command(cfg.Server.Command, cfg.Server.Args...)
	cmd.Env = append(os.Environ(), cfg.Server.Env...)
	cmd.Stderr = os.Stderr

	tr, err := transport.NewCommandTransport(cmd, logging.With(logger, "component", "stdio"))
	if err != nil {
		return nil, err
	}
	c := client.NewClient(tr,
		client.WithLogger(logger),
		client.WithClientInfo(cfg.Host.Name, cfg.Host.Version),
		client.WithRequestTimeout(cfg.Protocol.RequestTimeout.Std()),
	)
	result, err := c.Initialize(ctx)
	if err != nil {
		_ = c.Shutdown()
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}
	logger.Info("Backend initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)
	return c, nil
}

// uiBackend is the part of the backend client needed to pick a UI.
type uiBackend interface {
	Tools(ctx context.Context) ([]models.Tool, error)
	ReadUIResource(ctx context.Context, uri string) (*models.UIResource, error)
}

func loadGuestApp(ctx context.Context, backend uiBackend, name string) (guestApp, error) {
	tools, err := backend.Tools(ctx)
	if err != nil {
		return guestApp{}, fmt.Errorf("failed to list tools: %w", err)
	}
	tool, uri, err := selectTool(tools, name)
	if err != nil {
		return guestApp{}, err
	}
	res, err := backend.ReadUIResource(ctx, uri)
	if err != nil {
		return guestApp{}, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	policy, err := sandbox.NewPolicy(res.Meta)
	if err != nil {
		return guestApp{}, fmt.Errorf("resource %s: %w", uri, err)
	}
	return guestApp{Tool: tool, Resource: res, Policy: policy}, nil
}

// selectTool returns the named tool, or the first tool with a UI resource
// when name is empty.
func selectTool(tools []models.Tool, name string) (models.Tool, string, error) {
	for _, t := range tools {
		if name != "" && t.Name != name {
			continue
		}
		uri, ok := t.UIResourceURI()
		if ok {
			return t, uri, nil
		}
		if name != "" {
			return models.Tool{}, "", fmt.Errorf("tool %q has no UI resource", name)
		}
	}
	if name != "" {
		return models.Tool{}, "", fmt.Errorf("tool %q not found", name)
	}
	return models.Tool{}, "", fmt.Errorf("no tool declares a UI resource")
}

// serveHTTP runs srv until ctx is done, then runs before (if any) and shuts
// the server down.
func serveHTTP(ctx context.Context, srv *http.Server, logger logging.Logger, before func(context.Context) error) error {
	listenErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err, ok := <-listenErr:
		if ok {
			return fmt.Errorf("failed to serve on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if before != nil {
		if err := before(shutdownCtx); err != nil {
			logger.Warn("Session shutdown incomplete", "error", err)
		}
	}
	logger.Info("Shutting down HTTP server", "address", srv.Addr)
	return srv.Shutdown(shutdownCtx)
}
