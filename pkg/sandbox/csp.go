// Package sandbox computes the browser security policy for guest UI
// resources: the Content-Security-Policy, the iframe allow attribute and
// Permissions-Policy, and the sandbox proxy page that applies them.
package sandbox

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
)

// directiveOrder is the order directives appear in a built policy.
var directiveOrder = []string{
	"default-src",
	"script-src",
	"style-src",
	"img-src",
	"font-src",
	"media-src",
	"connect-src",
	"frame-src",
	"object-src",
	"base-uri",
}

// allowedSchemes are the schemes a declared domain may use.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
}

// ValidateDomain checks that a declared domain is a plain source expression:
// scheme://host[:port] with an optional leading "*." wildcard label. CSP
// keywords, quotes, separators and paths are rejected so a resource cannot
// widen its own policy.
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("empty domain")
	}
	if strings.ContainsAny(domain, " \t\r\n;,'\"") {
		return fmt.Errorf("domain %q contains a forbidden character", domain)
	}
	scheme, rest, ok := strings.Cut(domain, "://")
	if !ok {
		return fmt.Errorf("domain %q must include a scheme", domain)
	}
	if !allowedSchemes[strings.ToLower(scheme)] {
		return fmt.Errorf("domain %q uses unsupported scheme %q", domain, scheme)
	}
	host := strings.TrimPrefix(rest, "*.")
	if host == "" || strings.Contains(host, "*") {
		return fmt.Errorf("domain %q has an invalid wildcard", domain)
	}
	u, err := url.Parse(scheme + "://" + host)
	if err != nil {
		return fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if u.Hostname() == "" || u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("domain %q must be scheme://host[:port]", domain)
	}
	return nil
}

func validDomains(field string, domains []string) ([]string, error) {
	out := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		d = strings.TrimSuffix(strings.TrimSpace(d), "/")
		if err := ValidateDomain(d); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// BuildCSP returns the Content-Security-Policy for a resource. A nil csp
// yields the restrictive default: no network access beyond inline content
// and no nested frames.
func BuildCSP(csp *models.ResourceCSP) (string, error) {
	if csp == nil {
		csp = &models.ResourceCSP{}
	}
	resource, err := validDomains("resourceDomains", csp.ResourceDomains)
	if err != nil {
		return "", err
	}
	connect, err := validDomains("connectDomains", csp.ConnectDomains)
	if err != nil {
		return "", err
	}
	frame, err := validDomains("frameDomains", csp.FrameDomains)
	if err != nil {
		return "", err
	}
	base, err := validDomains("baseUriDomains", csp.BaseURIDomains)
	if err != nil {
		return "", err
	}

	directives := map[string][]string{
		"default-src": {"'self'", "'unsafe-inline'"},
		"script-src":  append([]string{"'self'", "'unsafe-inline'", "blob:", "data:"}, resource...),
		"style-src":   append([]string{"'self'", "'unsafe-inline'", "blob:", "data:"}, resource...),
		"img-src":     append([]string{"'self'", "data:", "blob:"}, resource...),
		"font-src":    append([]string{"'self'", "data:", "blob:"}, resource...),
		"media-src":   append([]string{"'self'", "data:", "blob:"}, resource...),
		"connect-src": append([]string{"'self'"}, connect...),
		"frame-src":   orNone(frame),
		"object-src":  {"'none'"},
		"base-uri":    orSelf(base),
	}
	return buildCSPHeader(directives), nil
}

func orNone(domains []string) []string {
	if len(domains) == 0 {
		return []string{"'none'"}
	}
	return domains
}

func orSelf(domains []string) []string {
	if len(domains) == 0 {
		return []string{"'self'"}
	}
	return domains
}

func buildCSPHeader(directives map[string][]string) string {
	parts := make([]string, 0, len(directives))
	for _, dir := range directiveOrder {
		if sources, ok := directives[dir]; ok && len(sources) > 0 {
			parts = append(parts, dir+" "+strings.Join(sources, " "))
		}
	}
	return strings.Join(parts, "; ")
}
