package sandbox

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/logging"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

//go:embed proxy.html
var proxyPage string

var proxyTemplate = template.Must(template.New("proxy").Parse(proxyPage))

// CSPQueryParam carries the resource CSP, JSON encoded, in the proxy URL.
const CSPQueryParam = "csp"

type proxyData struct {
	Title          string
	HostOrigin     string
	ReadyMethod    string
	ResourceMethod string
	Sandbox        string
}

// ProxyHandler serves the outer frame of the double-iframe sandbox. The page
// announces itself with sandbox-proxy-ready, loads the HTML it receives in
// sandbox-resource-ready into an inner frame, and relays messages between
// that frame and the host. The response CSP is computed from the resource
// CSP in the query string, and the inner srcdoc frame inherits it.
type ProxyHandler struct {
	hostOrigin string
	title      string
	logger     logging.Logger
}

// ProxyOption configures a ProxyHandler.
type ProxyOption func(*ProxyHandler)

// WithProxyLogger sets the logger.
func WithProxyLogger(logger logging.Logger) ProxyOption {
	return func(h *ProxyHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithProxyTitle sets the page title.
func WithProxyTitle(title string) ProxyOption {
	return func(h *ProxyHandler) { h.title = title }
}

// NewProxyHandler creates a handler that only talks to hostOrigin.
func NewProxyHandler(hostOrigin string, opts ...ProxyOption) (*ProxyHandler, error) {
	origin, err := NormalizeOrigin(hostOrigin)
	if err != nil {
		return nil, err
	}
	if origin == OpaqueOrigin {
		return nil, fmt.Errorf("host origin must be concrete")
	}
	h := &ProxyHandler{
		hostOrigin: origin,
		title:      "MCP App Sandbox",
		logger:     logging.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var meta models.UIResourceMeta
	if raw := r.URL.Query().Get(CSPQueryParam); raw != "" {
		var csp models.ResourceCSP
		if err := json.Unmarshal([]byte(raw), &csp); err != nil {
			http.Error(w, "invalid csp parameter", http.StatusBadRequest)
			return
		}
		meta.CSP = &csp
	}
	policy, err := NewPolicy(meta)
	if err != nil {
		h.logger.Warn("Rejected sandbox proxy request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := proxyTemplate.Execute(&buf, proxyData{
		Title:          h.title,
		HostOrigin:     h.hostOrigin,
		ReadyMethod:    protocol.MethodSandboxProxyReady,
		ResourceMethod: protocol.MethodSandboxResourceReady,
		Sandbox:        policy.Sandbox,
	}); err != nil {
		h.logger.Error("Failed to render sandbox proxy", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	policy.ApplyHeaders(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(buf.Bytes())
	}
}
