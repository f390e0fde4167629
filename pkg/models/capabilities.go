package models

import (
	"bytes"
	"encoding/json"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// Empty marks a capability whose presence alone is the signal.
type Empty struct{}

// ListChangedCapability is a capability with a listChanged flag.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// AppCapabilities is what the guest declares in ui/initialize.
type AppCapabilities struct {
	Experimental          map[string]protocol.Value `json:"experimental,omitempty"`
	Tools                 *ListChangedCapability    `json:"tools,omitempty"`
	AvailableDisplayModes []DisplayMode             `json:"availableDisplayModes,omitempty"`
}

// HostCapabilities is what the host declares in the ui/initialize result.
// Absent fields mean unsupported.
type HostCapabilities struct {
	Experimental    map[string]protocol.Value `json:"experimental,omitempty"`
	OpenLinks       *Empty                    `json:"openLinks,omitempty"`
	ServerTools     *ListChangedCapability    `json:"serverTools,omitempty"`
	ServerResources *ListChangedCapability    `json:"serverResources,omitempty"`
	Logging         *Empty                    `json:"logging,omitempty"`
	Sandbox         *SandboxCapability        `json:"sandbox,omitempty"`
}

// SandboxCapability describes the sandbox features the host can enforce.
type SandboxCapability struct {
	Permissions *Permissions `json:"permissions,omitempty"`
	CSP         *ResourceCSP `json:"csp,omitempty"`
}

// ResourceCSP is the domain allow-list a UI resource declares.
type ResourceCSP struct {
	ConnectDomains  []string `json:"connectDomains,omitempty"`
	ResourceDomains []string `json:"resourceDomains,omitempty"`
	FrameDomains    []string `json:"frameDomains,omitempty"`
	BaseURIDomains  []string `json:"baseUriDomains,omitempty"`
}

// Grant is a permission flag. On the wire a granted permission is an empty
// object; true is accepted too.
type Grant bool

// MarshalJSON implements json.Marshaler.
func (g Grant) MarshalJSON() ([]byte, error) {
	if g {
		return []byte("{}"), nil
	}
	return []byte("false"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Grant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*g = false
	case bytes.Equal(data, []byte("true")):
		*g = true
	default:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*g = true
	}
	return nil
}

// Permissions lists the browser permissions a UI resource asks for.
type Permissions struct {
	Camera      Grant `json:"camera,omitempty"`
	Microphone  Grant `json:"microphone,omitempty"`
	Geolocation Grant `json:"geolocation,omitempty"`
}

// Any reports whether any permission is granted.
func (p *Permissions) Any() bool {
	return p != nil && (bool(p.Camera) || bool(p.Microphone) || bool(p.Geolocation))
}
