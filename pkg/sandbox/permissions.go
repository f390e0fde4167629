package sandbox

import (
	"strings"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
)

type feature struct {
	name    string
	granted func(*models.Permissions) bool
}

var features = []feature{
	{"camera", func(p *models.Permissions) bool { return bool(p.Camera) }},
	{"microphone", func(p *models.Permissions) bool { return bool(p.Microphone) }},
	{"geolocation", func(p *models.Permissions) bool { return bool(p.Geolocation) }},
}

// BuildAllowAttribute returns the iframe allow attribute for the granted
// permissions, or "" when none are granted.
func BuildAllowAttribute(p *models.Permissions) string {
	if !p.Any() {
		return ""
	}
	var granted []string
	for _, f := range features {
		if f.granted(p) {
			granted = append(granted, f.name)
		}
	}
	return strings.Join(granted, "; ")
}

// BuildPermissionsPolicy returns a Permissions-Policy header value. Granted
// features are allowed for the document's own origin, everything else is
// denied.
func BuildPermissionsPolicy(p *models.Permissions) string {
	parts := make([]string, 0, len(features))
	for _, f := range features {
		if p != nil && f.granted(p) {
			parts = append(parts, f.name+"=(self)")
		} else {
			parts = append(parts, f.name+"=()")
		}
	}
	return strings.Join(parts, ", ")
}
