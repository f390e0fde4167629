package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/XiaoConstantine/mcp-apps-go/pkg/errors"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/handler"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/transport"
)

// fakeServer is a scripted backend MCP server on the far end of an in-memory
// pair.
type fakeServer struct {
	d            *handler.Dispatcher
	capabilities protocol.ServerCapabilities
	version      string

	mu          sync.Mutex
	initialized bool
	calls       []string
}

func (s *fakeServer) record(method string) {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.mu.Unlock()
}

func (s *fakeServer) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newFakeServer(t *testing.T, tr transport.Transport, caps protocol.ServerCapabilities) *fakeServer {
	t.Helper()
	s := &fakeServer{
		d:            handler.NewDispatcher(handler.WithLogger(logging.NewTestLogger(t))),
		capabilities: caps,
		version:      protocol.MCPProtocolVersion,
	}
	s.d.SetRequestHandler(protocol.MethodInitialize, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		s.record(req.Method)
		var p models.InitializeParams
		if err := req.Bind(&p); err != nil {
			return nil, err
		}
		return models.InitializeResult{
			ProtocolVersion: s.version,
			Capabilities:    s.capabilities,
			ServerInfo:      models.Implementation{Name: "qr-server", Version: "1.0.0"},
			Instructions:    "generate qr codes",
		}, nil
	})
	s.d.SetNotificationHandler(protocol.MethodInitialized, func(ctx context.Context, params json.RawMessage) {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
	})
	s.d.SetRequestHandler(protocol.MethodToolsCall, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		s.record(req.Method)
		var p models.CallToolParams
		if err := req.Bind(&p); err != nil {
			return nil, err
		}
		if p.Name != "generate_qr" {
			return nil, mcperrors.NewInvalidParams("unknown tool " + p.Name)
		}
		return json.RawMessage(`{"content":[{"type":"image","data":"iVBOR","mimeType":"image/png"}]}`), nil
	})
	s.d.SetRequestHandler(protocol.MethodToolsList, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		s.record(req.Method)
		var p models.PaginatedParams
		if err := req.Bind(&p); err != nil {
			return nil, err
		}
		if p.Cursor == "" {
			return models.ListToolsResult{Tools: []models.Tool{{Name: "generate_qr", InputSchema: protocol.Object(nil)}}, NextCursor: "page2"}, nil
		}
		return models.ListToolsResult{Tools: []models.Tool{{Name: "decode_qr", InputSchema: protocol.Object(nil)}}}, nil
	})
	s.d.SetRequestHandler(protocol.MethodResourcesRead, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		s.record(req.Method)
		html := "<html><body>qr</body></html>"
		return models.ReadResourceResult{Contents: []models.ResourceContents{{
			URI:      "ui://qr-server/widget.html",
			MimeType: models.ResourceMIMEType,
			Text:     &html,
			Meta: map[string]protocol.Value{
				"ui": protocol.MustValue(map[string]interface{}{
					"csp": map[string]interface{}{"resourceDomains": []string{"https://api.qrserver.com"}},
				}),
			},
		}}}, nil
	})
	s.d.SetRequestHandler(protocol.MethodResourcesSubscribe, func(ctx context.Context, req *handler.Request) (interface{}, error) {
		s.record(req.Method)
		return nil, nil
	})
	require.NoError(t, s.d.Connect(context.Background(), tr))
	t.Cleanup(func() {
		_ = s.d.Close()
		<-s.d.Done()
	})
	return s
}

// setUp creates a client wired to a fake server and ensures proper shutdown.
func setUp(t *testing.T, caps protocol.ServerCapabilities) (*Client, *fakeServer) {
	t.Helper()
	a, b := transport.NewInMemoryPair()
	server := newFakeServer(t, b, caps)
	client := NewClient(a, WithLogger(logging.NewTestLogger(t)), WithRequestTimeout(2*time.Second))
	t.Cleanup(func() {
		if err := client.Shutdown(); err != nil {
			t.Logf("Error shutting down client: %v", err)
		}
		<-client.Done()
	})
	return client, server
}

func allCapabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		Tools:     &protocol.ToolsCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{Subscribe: true},
	}
}

func TestNewClient(t *testing.T) {
	a, _ := transport.NewInMemoryPair()
	client := NewClient(a)
	assert.Equal(t, "mcp-apps-go-host", client.clientInfo.Name)
	require.NoError(t, client.Shutdown())

	b, _ := transport.NewInMemoryPair()
	client2 := NewClient(b, WithClientInfo("custom-host", "2.0.0"))
	assert.Equal(t, models.Implementation{Name: "custom-host", Version: "2.0.0"}, client2.clientInfo)
	require.NoError(t, client2.Shutdown())
}

func TestClientInitialize(t *testing.T) {
	client, server := setUp(t, allCapabilities())

	assert.Nil(t, client.ServerCapabilities())
	result, err := client.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "qr-server", result.ServerInfo.Name)
	assert.True(t, client.isInitialized())

	assert.Equal(t, "qr-server", client.GetServerInfo().Name)
	assert.Equal(t, "generate qr codes", client.GetInstructions())
	assert.Equal(t, protocol.MCPProtocolVersion, client.GetProtocolVersion())
	require.NotNil(t, client.ServerCapabilities().Tools)

	assert.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.initialized
	}, time.Second, 5*time.Millisecond)

	_, err = client.Initialize(context.Background())
	assert.Error(t, err, "second initialize must fail")
}

func TestClientRejectsUnknownServerVersion(t *testing.T) {
	client, server := setUp(t, allCapabilities())
	server.version = "1999-01-01"

	_, err := client.Initialize(context.Background())
	assert.Error(t, err)
	assert.False(t, client.isInitialized())
}

func TestClientRequiresInitialize(t *testing.T) {
	client, _ := setUp(t, allCapabilities())

	assert.ErrorIs(t, client.Ping(context.Background()), mcperrors.ErrNotInitialized)
	_, err := client.CallTool(context.Background(), models.CallToolParams{Name: "generate_qr"})
	assert.ErrorIs(t, err, mcperrors.ErrNotInitialized)
}

func TestClientForwarding(t *testing.T) {
	client, server := setUp(t, allCapabilities())
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Ping(context.Background()))

	raw, err := client.CallTool(context.Background(), models.CallToolParams{Name: "generate_qr"})
	require.NoError(t, err)
	assert.Equal(t, `{"content":[{"type":"image","data":"iVBOR","mimeType":"image/png"}]}`, string(raw))

	_, err = client.CallTool(context.Background(), models.CallToolParams{Name: "nope"})
	assert.True(t, mcperrors.IsProtocolError(err))

	tools, err := client.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "decode_qr", tools[1].Name)

	res, err := client.ReadUIResource(context.Background(), "ui://qr-server/widget.html")
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "qr")
	require.NotNil(t, res.Meta.CSP)
	assert.Equal(t, []string{"https://api.qrserver.com"}, res.Meta.CSP.ResourceDomains)

	require.NoError(t, client.Subscribe(context.Background(), "ui://qr-server/widget.html"))

	assert.Contains(t, server.methods(), protocol.MethodResourcesSubscribe)
}

func TestClientCapabilityChecks(t *testing.T) {
	client, server := setUp(t, protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}})
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	_, err = client.ReadResource(context.Background(), models.ReadResourceParams{URI: "ui://x"})
	assert.True(t, mcperrors.IsCapabilityError(err))
	_, err = client.ListPrompts(context.Background(), models.PaginatedParams{})
	assert.True(t, mcperrors.IsCapabilityError(err))
	assert.True(t, mcperrors.IsCapabilityError(client.Subscribe(context.Background(), "ui://x")))
	assert.True(t, mcperrors.IsCapabilityError(client.Unsubscribe(context.Background(), "ui://x")))

	assert.NotContains(t, server.methods(), protocol.MethodResourcesRead, "capability errors never reach the wire")
}

func TestClientListChanged(t *testing.T) {
	client, server := setUp(t, allCapabilities())
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	fired := make(chan struct{}, 4)
	remove := client.OnListChanged(protocol.MethodToolsListChanged, func() { fired <- struct{}{} })

	require.NoError(t, server.d.Notify(context.Background(), protocol.MethodToolsListChanged, nil))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	remove()
	require.NoError(t, server.d.Notify(context.Background(), protocol.MethodToolsListChanged, nil))
	require.NoError(t, server.d.Notify(context.Background(), protocol.MethodLoggingMessage, map[string]interface{}{"level": "error", "data": "disk full"}))
	require.NoError(t, client.Ping(context.Background()))
	select {
	case <-fired:
		t.Fatal("removed listener was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientShutdown(t *testing.T) {
	client, _ := setUp(t, allCapabilities())
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Shutdown())
	assert.True(t, client.isShutdown())
	require.NoError(t, client.Shutdown(), "second shutdown is a no-op")

	assert.ErrorIs(t, client.Ping(context.Background()), mcperrors.ErrNotInitialized)
	_, err = client.Initialize(context.Background())
	assert.ErrorIs(t, err, mcperrors.ErrSessionClosed)
}
