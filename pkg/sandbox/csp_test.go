package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
)

func directive(t *testing.T, csp, name string) string {
	t.Helper()
	for _, part := range strings.Split(csp, "; ") {
		if strings.HasPrefix(part, name+" ") {
			return strings.TrimPrefix(part, name+" ")
		}
	}
	t.Fatalf("directive %s missing from %q", name, csp)
	return ""
}

func TestBuildCSPDefault(t *testing.T) {
	csp, err := BuildCSP(nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(csp, "default-src "))
	assert.Equal(t, "'self'", directive(t, csp, "connect-src"))
	assert.Equal(t, "'none'", directive(t, csp, "frame-src"))
	assert.Equal(t, "'none'", directive(t, csp, "object-src"))
	assert.Equal(t, "'self'", directive(t, csp, "base-uri"))
	assert.NotContains(t, csp, "unsafe-eval")
	assert.NotContains(t, csp, "https:")
}

func TestBuildCSPDeclaredDomains(t *testing.T) {
	csp, err := BuildCSP(&models.ResourceCSP{
		ResourceDomains: []string{"https://unpkg.com", "https://unpkg.com/", "https://*.jsdelivr.net"},
		ConnectDomains:  []string{"wss://api.example.com:8443"},
		FrameDomains:    []string{"https://www.youtube.com"},
		BaseURIDomains:  []string{"https://cdn.example.com"},
	})
	require.NoError(t, err)

	script := directive(t, csp, "script-src")
	assert.Contains(t, script, "https://unpkg.com")
	assert.Contains(t, script, "https://*.jsdelivr.net")
	assert.Equal(t, 1, strings.Count(script, "https://unpkg.com"), "duplicates are folded")
	for _, d := range []string{"style-src", "img-src", "font-src", "media-src"} {
		assert.Contains(t, directive(t, csp, d), "https://unpkg.com", d)
	}
	assert.Equal(t, "'self' wss://api.example.com:8443", directive(t, csp, "connect-src"))
	assert.NotContains(t, script, "api.example.com", "connect domains do not grant script loads")
	assert.Equal(t, "https://www.youtube.com", directive(t, csp, "frame-src"))
	assert.Equal(t, "https://cdn.example.com", directive(t, csp, "base-uri"))
}

func TestValidateDomain(t *testing.T) {
	valid := []string{
		"https://example.com",
		"http://localhost:3000",
		"wss://socket.example.com",
		"https://*.example.com",
		"https://example.com/",
	}
	for _, d := range valid {
		assert.NoError(t, ValidateDomain(d), d)
	}

	invalid := []string{
		"",
		"example.com",
		"*",
		"'self'",
		"https://example.com; script-src *",
		"https://example.com 'unsafe-eval'",
		"javascript://x",
		"data://x",
		"https://",
		"https://*",
		"https://a.*.example.com",
		"https://example.com/path",
		"https://user@example.com",
		"https://example.com?x=1",
	}
	for _, d := range invalid {
		assert.Error(t, ValidateDomain(d), d)
	}
}

func TestBuildCSPRejectsInjection(t *testing.T) {
	_, err := BuildCSP(&models.ResourceCSP{ConnectDomains: []string{"https://ok.com", "'unsafe-inline'"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connectDomains")
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name   string
		perms  *models.Permissions
		allow  string
		policy string
	}{
		{
			name:   "none",
			perms:  nil,
			allow:  "",
			policy: "camera=(), microphone=(), geolocation=()",
		},
		{
			name:   "empty",
			perms:  &models.Permissions{},
			allow:  "",
			policy: "camera=(), microphone=(), geolocation=()",
		},
		{
			name:   "camera and geolocation",
			perms:  &models.Permissions{Camera: true, Geolocation: true},
			allow:  "camera; geolocation",
			policy: "camera=(self), microphone=(), geolocation=(self)",
		},
		{
			name:   "all",
			perms:  &models.Permissions{Camera: true, Microphone: true, Geolocation: true},
			allow:  "camera; microphone; geolocation",
			policy: "camera=(self), microphone=(self), geolocation=(self)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allow, BuildAllowAttribute(tt.perms))
			assert.Equal(t, tt.policy, BuildPermissionsPolicy(tt.perms))
		})
	}
}
