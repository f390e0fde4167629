package sandbox

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// OpaqueOrigin is the serialized origin of sandboxed and srcdoc frames.
const OpaqueOrigin = "null"

// NormalizeOrigin returns the scheme://host[:port] form of an origin with the
// scheme and host lowercased and default ports removed. It accepts a bare
// origin or a full URL.
func NormalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == OpaqueOrigin {
		return OpaqueOrigin, nil
	}
	if origin == "" || origin == "*" {
		return "", fmt.Errorf("origin %q is not a concrete origin", origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q: scheme and host are required", origin)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		return scheme + "://[" + host + "]", nil
	}
	return scheme + "://" + host, nil
}

// SameOrigin reports whether two origins are identical after normalization.
// Malformed origins never match.
func SameOrigin(a, b string) bool {
	na, err := NormalizeOrigin(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeOrigin(b)
	if err != nil {
		return false
	}
	return na == nb
}

// OriginMatcher checks origins against an allow-list.
type OriginMatcher struct {
	allowed map[string]struct{}
}

// NewOriginMatcher builds a matcher. Every entry must be a concrete origin.
func NewOriginMatcher(origins []string) (*OriginMatcher, error) {
	m := &OriginMatcher{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		n, err := NormalizeOrigin(o)
		if err != nil {
			return nil, err
		}
		m.allowed[n] = struct{}{}
	}
	return m, nil
}

// Allowed reports whether origin is on the list.
func (m *OriginMatcher) Allowed(origin string) bool {
	if m == nil {
		return false
	}
	n, err := NormalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := m.allowed[n]
	return ok
}

// Len returns the number of allowed origins.
func (m *OriginMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.allowed)
}
