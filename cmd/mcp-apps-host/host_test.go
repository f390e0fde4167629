package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/config"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
)

const (
	pageOrigin    = "http://localhost:8080"
	sandboxOrigin = "http://127.0.0.1:8081"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []models.CallToolParams
}

func (f *fakeBackend) ServerCapabilities() *protocol.ServerCapabilities {
	return &protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}}
}

func (f *fakeBackend) CallTool(ctx context.Context, params models.CallToolParams) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	return json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`), nil
}

func (f *fakeBackend) ReadResource(ctx context.Context, params models.ReadResourceParams) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeBackend) ListResources(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeBackend) ListResourceTemplates(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeBackend) ListPrompts(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error) {
	return nil, nil
}

func testGuestApp(t *testing.T) guestApp {
	t.Helper()
	res := &models.UIResource{
		URI:  "ui://qr/widget.html",
		HTML: "<html><head></head><body>qr</body></html>",
		Meta: models.UIResourceMeta{CSP: &models.ResourceCSP{ResourceDomains: []string{"https://unpkg.com"}}},
	}
	policy, err := sandbox.NewPolicy(res.Meta)
	require.NoError(t, err)
	return guestApp{Tool: models.Tool{Name: "generate_qr"}, Resource: res, Policy: policy}
}

func newTestHost(t *testing.T, app guestApp) (*hostServer, *httptest.Server, *fakeBackend) {
	t.Helper()
	cfg := config.Default()
	cfg.Host.AllowedOrigins = []string{pageOrigin}
	cfg.Protocol.TeardownTimeout = config.Duration(100 * time.Millisecond)
	backend := &fakeBackend{}

	host, err := newHostServer(cfg, backend, app, logging.NewNoopLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(host.router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, host.Shutdown(ctx))
		srv.Close()
	})
	return host, srv, backend
}

func dialBridge(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", origin)
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+bridgePath, header)
}

// sendGuest relays msg as if the sandbox frame had posted it.
func sendGuest(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	frame := `{"origin":"` + sandboxOrigin + `","source":"` + frameSource + `","data":` + msg + `}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

type relayed struct {
	TargetOrigin string           `json:"targetOrigin"`
	Data         protocol.Message `json:"data"`
}

func readHost(t *testing.T, conn *websocket.Conn) relayed {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out relayed
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHostPage(t *testing.T) {
	_, srv, _ := newTestHost(t, testGuestApp(t))

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), sandboxOrigin+"/sandbox?csp=")
	assert.Contains(t, string(body), "generate_qr")
}

func TestHostHealth(t *testing.T) {
	_, srv, _ := newTestHost(t, testGuestApp(t))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ui://qr/widget.html", health["resource"])
	assert.EqualValues(t, 0, health["sessions"])
}

func TestBridgeRejectsForeignOrigin(t *testing.T) {
	_, srv, _ := newTestHost(t, testGuestApp(t))

	_, resp, err := dialBridge(t, srv, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBridgeSession(t *testing.T) {
	app := testGuestApp(t)
	app.Input = map[string]protocol.Value{"text": protocol.String("hello")}
	_, srv, backend := newTestHost(t, app)

	conn, _, err := dialBridge(t, srv, pageOrigin)
	require.NoError(t, err)
	defer conn.Close()

	// Proxy ready: the host answers with the resource and its policy.
	sendGuest(t, conn, `{"jsonrpc":"2.0","method":"`+protocol.MethodSandboxProxyReady+`","params":{}}`)
	out := readHost(t, conn)
	assert.Equal(t, sandboxOrigin, out.TargetOrigin)
	require.Equal(t, protocol.MethodSandboxResourceReady, out.Data.Method)
	var ready models.SandboxResourceReadyParams
	require.NoError(t, json.Unmarshal(out.Data.Params, &ready))
	assert.Contains(t, ready.HTML, `http-equiv="Content-Security-Policy"`)
	assert.Contains(t, ready.HTML, "https://unpkg.com")
	assert.Equal(t, sandbox.DefaultSandboxAttribute, ready.Sandbox)

	// Handshake.
	sendGuest(t, conn, `{"jsonrpc":"2.0","id":1,"method":"`+protocol.MethodUIInitialize+`","params":{"appInfo":{"name":"qr","version":"1.0"},"appCapabilities":{},"protocolVersion":"`+protocol.LatestProtocolVersion+`"}}`)
	out = readHost(t, conn)
	require.Nil(t, out.Data.Error)
	var result models.UIInitializeResult
	require.NoError(t, json.Unmarshal(out.Data.Result, &result))
	assert.Equal(t, protocol.LatestProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "mcp-apps-host", result.HostInfo.Name)
	assert.NotNil(t, result.HostCapabilities.ServerTools)
	require.NotNil(t, result.HostContext.ToolInfo)
	assert.Equal(t, "generate_qr", result.HostContext.ToolInfo.Tool.Name)

	// Initialized: the configured input is replayed and the tool is called.
	sendGuest(t, conn, `{"jsonrpc":"2.0","method":"`+protocol.MethodUIInitialized+`","params":{}}`)
	out = readHost(t, conn)
	assert.Equal(t, protocol.MethodToolInput, out.Data.Method)
	assert.Contains(t, string(out.Data.Params), `"hello"`)
	out = readHost(t, conn)
	assert.Equal(t, protocol.MethodToolResult, out.Data.Method)
	assert.Contains(t, string(out.Data.Params), `"ok"`)

	backend.mu.Lock()
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "generate_qr", backend.calls[0].Name)
	backend.mu.Unlock()
}

func TestBridgeDropsForeignFrames(t *testing.T) {
	_, srv, _ := newTestHost(t, testGuestApp(t))

	conn, _, err := dialBridge(t, srv, pageOrigin)
	require.NoError(t, err)
	defer conn.Close()

	foreign := `{"origin":"https://evil.example","source":"` + frameSource + `","data":{"jsonrpc":"2.0","id":7,"method":"ping"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(foreign)))
	sendGuest(t, conn, `{"jsonrpc":"2.0","id":8,"method":"ping"}`)

	out := readHost(t, conn)
	require.NotNil(t, out.Data.ID)
	n, ok := out.Data.ID.Number()
	require.True(t, ok)
	assert.EqualValues(t, 8, n)
}
