package sandbox

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

func newTestProxy(t *testing.T) *ProxyHandler {
	t.Helper()
	h, err := NewProxyHandler("http://localhost:8080/", WithProxyLogger(logging.NewTestLogger(t)))
	require.NoError(t, err)
	return h
}

func TestNewProxyHandler(t *testing.T) {
	_, err := NewProxyHandler("null")
	assert.Error(t, err)
	_, err = NewProxyHandler("*")
	assert.Error(t, err)
}

func TestProxyHandlerServesPage(t *testing.T) {
	h := newTestProxy(t)
	q := url.Values{CSPQueryParam: {`{"resourceDomains":["https://unpkg.com"]}`}}
	req := httptest.NewRequest(http.MethodGet, "/sandbox?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "https://unpkg.com")
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	// html/template escapes "/" inside script strings.
	assert.Contains(t, body, `localhost:8080"`)
	assert.Contains(t, body, path.Base(protocol.MethodSandboxProxyReady))
	assert.Contains(t, body, path.Base(protocol.MethodSandboxResourceReady))
	assert.Contains(t, body, "<title>MCP App Sandbox</title>")
}

func TestProxyHandlerRejects(t *testing.T) {
	h := newTestProxy(t)

	tests := []struct {
		name   string
		method string
		target string
		code   int
	}{
		{name: "post", method: http.MethodPost, target: "/sandbox", code: http.StatusMethodNotAllowed},
		{name: "bad json", method: http.MethodGet, target: "/sandbox?csp=" + url.QueryEscape("{"), code: http.StatusBadRequest},
		{
			name:   "injected domain",
			method: http.MethodGet,
			target: "/sandbox?csp=" + url.QueryEscape(`{"connectDomains":["https://a.com; script-src *"]}`),
			code:   http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.False(t, strings.Contains(rec.Body.String(), "<script>"))
		})
	}
}

func TestProxyHandlerHead(t *testing.T) {
	h := newTestProxy(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/sandbox", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}
