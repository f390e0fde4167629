// Command echo-server is a minimal MCP server with one UI tool. Run it behind
// the development host:
//
//	mcp-apps-host serve --input '{"text":"hello"}' -- go run ./example/echo-server
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

const widgetURI = "ui://echo-server/widget.html"

//go:embed widget.html
var widgetHTML string

func echoTool() models.Tool {
	return models.Tool{
		Name:        "echo",
		Description: "Echo text back, upper-cased when shout is set",
		InputSchema: protocol.MustValue(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text":  map[string]interface{}{"type": "string"},
				"shout": map[string]interface{}{"type": "boolean"},
			},
			"required": []interface{}{"text"},
		}),
		Meta: map[string]protocol.Value{
			"ui": protocol.Object(map[string]protocol.Value{"resourceUri": protocol.String(widgetURI)}),
			// Older hosts only read the flat key.
			"ui/resourceUri": protocol.String(widgetURI),
		},
	}
}

func echo(params models.CallToolParams) (*models.CallToolResult, error) {
	text, ok := params.Arguments["text"].AsString()
	if !ok {
		return nil, mcperrors.NewInvalidParams("text must be a string")
	}
	if shout, _ := params.Arguments["shout"].AsBool(); shout {
		text = strings.ToUpper(text)
	}
	return &models.CallToolResult{Content: []models.ContentBlock{models.TextContent(text)}}, nil
}

func widgetResource() models.ReadResourceResult {
	text := widgetHTML
	return models.ReadResourceResult{Contents: []models.ResourceContents{{
		URI:      widgetURI,
		MimeType: models.ResourceMIMEType,
		Text:     &text,
		Meta: map[string]protocol.Value{
			"ui": protocol.MustValue(map[string]interface{}{
				"prefersBorder": true,
			}),
		},
	}}}
}

func register(d *handler.Dispatcher) {
	d.SetRequestHandler(protocol.MethodInitialize, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		return models.InitializeResult{
			ProtocolVersion: protocol.MCPProtocolVersion,
			Capabilities: protocol.ServerCapabilities{
				Tools:     &protocol.ToolsCapability{},
				Resources: &protocol.ResourcesCapability{},
			},
			ServerInfo: models.Implementation{Name: "echo-server", Version: "0.1.0"},
		}, nil
	})
	d.SetNotificationHandler(protocol.MethodInitialized, func(ctx context.Context, params json.RawMessage) {})
	d.SetRequestHandler(protocol.MethodToolsList, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		return models.ListToolsResult{Tools: []models.Tool{echoTool()}}, nil
	})
	d.SetRequestHandler(protocol.MethodToolsCall, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		var params models.CallToolParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}
		if params.Name != "echo" {
			return nil, mcperrors.NewInvalidParams(fmt.Sprintf("unknown tool %q", params.Name))
		}
		return echo(params)
	})
	d.SetRequestHandler(protocol.MethodResourcesList, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		return models.ListResourcesResult{Resources: []models.Resource{{
			URI:      widgetURI,
			Name:     "echo widget",
			MimeType: models.ResourceMIMEType,
		}}}, nil
	})
	d.SetRequestHandler(protocol.MethodResourcesRead, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		var params models.ReadResourceParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}
		if params.URI != widgetURI {
			return nil, mcperrors.NewInvalidParams(fmt.Sprintf("unknown resource %q", params.URI))
		}
		return widgetResource(), nil
	})
}

func main() {
	debug := flag.Bool("debug", false, "Log protocol traffic to stderr")
	flag.Parse()

	level := logging.InfoLevel
	if *debug {
		level = logging.DebugLevel
	}
	logger := logging.NewStdLogger(level)

	d := handler.NewDispatcher(handler.WithLogger(logger))
	register(d)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Connect(ctx, transport.NewStdioTransport(os.Stdin, os.Stdout, logger)); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "echo-server ready")

	select {
	case <-d.Done():
	case <-ctx.Done():
		_ = d.Close()
		<-d.Done()
	}
	fmt.Fprintln(os.Stderr, "echo-server stopped")
}
