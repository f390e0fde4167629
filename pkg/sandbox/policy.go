package sandbox

import (
	"fmt"
	"html"
	"net/http"
	"regexp"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
)

// DefaultSandboxAttribute is the sandbox attribute of the inner guest frame.
const DefaultSandboxAttribute = "allow-scripts allow-same-origin allow-forms"

// Policy is the security configuration for one UI resource. It is computed
// once when the resource is loaded and not changed afterwards.
type Policy struct {
	CSP               string
	Allow             string
	PermissionsPolicy string
	Sandbox           string

	csp         *models.ResourceCSP
	permissions *models.Permissions
}

// NewPolicy derives the policy from a resource's ui metadata. It fails when
// any declared domain is not a plain origin.
func NewPolicy(meta models.UIResourceMeta) (*Policy, error) {
	csp, err := BuildCSP(meta.CSP)
	if err != nil {
		return nil, fmt.Errorf("invalid resource csp: %w", err)
	}
	p := &Policy{
		CSP:               csp,
		Allow:             BuildAllowAttribute(meta.Permissions),
		PermissionsPolicy: BuildPermissionsPolicy(meta.Permissions),
		Sandbox:           DefaultSandboxAttribute,
	}
	p.csp = cloneCSP(meta.CSP)
	if meta.Permissions != nil {
		perms := *meta.Permissions
		p.permissions = &perms
	}
	return p, nil
}

func cloneCSP(c *models.ResourceCSP) *models.ResourceCSP {
	if c == nil {
		return nil
	}
	return &models.ResourceCSP{
		ConnectDomains:  append([]string(nil), c.ConnectDomains...),
		ResourceDomains: append([]string(nil), c.ResourceDomains...),
		FrameDomains:    append([]string(nil), c.FrameDomains...),
		BaseURIDomains:  append([]string(nil), c.BaseURIDomains...),
	}
}

// MetaTag returns the CSP as an HTML meta element.
func (p *Policy) MetaTag() string {
	return fmt.Sprintf(`<meta http-equiv="Content-Security-Policy" content="%s">`, html.EscapeString(p.CSP))
}

var (
	headOpen = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	htmlOpen = regexp.MustCompile(`(?i)<html(\s[^>]*)?>`)
)

// InjectCSP places the CSP meta tag at the start of the document head so it
// applies before any script in the document runs.
func (p *Policy) InjectCSP(doc string) string {
	tag := p.MetaTag()
	if loc := headOpen.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + tag + doc[loc[1]:]
	}
	if loc := htmlOpen.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + "<head>" + tag + "</head>" + doc[loc[1]:]
	}
	return tag + doc
}

// ResourceReadyParams builds the sandbox-resource-ready payload for doc.
func (p *Policy) ResourceReadyParams(doc string) models.SandboxResourceReadyParams {
	params := models.SandboxResourceReadyParams{
		HTML:    p.InjectCSP(doc),
		Sandbox: p.Sandbox,
	}
	params.CSP = cloneCSP(p.csp)
	if p.permissions != nil {
		perms := *p.permissions
		params.Permissions = &perms
	}
	return params
}

// ApplyHeaders sets the policy headers on a response that serves the
// resource or a frame containing it.
func (p *Policy) ApplyHeaders(h http.Header) {
	h.Set("Content-Security-Policy", p.CSP)
	h.Set("Permissions-Policy", p.PermissionsPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
}
