package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// HostContext is the host environment snapshot exposed to the guest. Keys the
// host sets that this package does not model are kept in Extra and survive a
// round trip.
type HostContext struct {
	Theme                 Theme                `json:"theme,omitempty"`
	Styles                *HostStyles          `json:"styles,omitempty"`
	DisplayMode           DisplayMode          `json:"displayMode,omitempty"`
	AvailableDisplayModes []DisplayMode        `json:"availableDisplayModes,omitempty"`
	ContainerDimensions   *ContainerDimensions `json:"containerDimensions,omitempty"`
	Locale                string               `json:"locale,omitempty"`
	TimeZone              string               `json:"timeZone,omitempty"`
	UserAgent             string               `json:"userAgent,omitempty"`
	Platform              Platform             `json:"platform,omitempty"`
	DeviceCapabilities    *DeviceCapabilities  `json:"deviceCapabilities,omitempty"`
	SafeAreaInsets        *SafeAreaInsets      `json:"safeAreaInsets,omitempty"`
	ToolInfo              *ToolInfo            `json:"toolInfo,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// HostStyles carries theming hints.
type HostStyles struct {
	Variables map[string]string `json:"variables,omitempty"`
	CSS       *HostCSS          `json:"css,omitempty"`
}

// HostCSS carries raw CSS snippets such as font-face rules.
type HostCSS struct {
	Fonts string `json:"fonts,omitempty"`
}

// ContainerDimensions describes the space the host gives the guest. Nil
// fields are unconstrained.
type ContainerDimensions struct {
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	MaxWidth  *float64 `json:"maxWidth,omitempty"`
	MaxHeight *float64 `json:"maxHeight,omitempty"`
}

// DeviceCapabilities describes input affordances.
type DeviceCapabilities struct {
	Touch *bool `json:"touch,omitempty"`
	Hover *bool `json:"hover,omitempty"`
}

// SafeAreaInsets are the display-cutout paddings in pixels.
type SafeAreaInsets struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// ToolInfo identifies the tool call that produced the guest.
type ToolInfo struct {
	ID   *protocol.RequestID `json:"id,omitempty"`
	Tool Tool                `json:"tool"`
}

// HostContextDiff holds the changed top-level keys of a HostContext.
type HostContextDiff map[string]json.RawMessage

// Keys returns the changed keys in sorted order.
func (d HostContextDiff) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type hostContextAlias HostContext

// MarshalJSON implements json.Marshaler.
func (h HostContext) MarshalJSON() ([]byte, error) {
	fields, err := h.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HostContext) UnmarshalJSON(data []byte) error {
	var known hostContextAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	parsed := HostContext(known)
	for k, v := range all {
		if _, ok := hostContextKeys[k]; ok {
			continue
		}
		if parsed.Extra == nil {
			parsed.Extra = make(map[string]json.RawMessage)
		}
		parsed.Extra[k] = v
	}
	*h = parsed
	return nil
}

var hostContextKeys = map[string]struct{}{
	"theme": {}, "styles": {}, "displayMode": {}, "availableDisplayModes": {},
	"containerDimensions": {}, "locale": {}, "timeZone": {}, "userAgent": {},
	"platform": {}, "deviceCapabilities": {}, "safeAreaInsets": {}, "toolInfo": {},
}

// fields returns the present top-level keys with their encoded values.
func (h HostContext) fields() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(hostContextAlias(h))
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range h.Extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (h HostContext) Clone() HostContext {
	data, err := json.Marshal(h)
	if err != nil {
		return h
	}
	var out HostContext
	if err := json.Unmarshal(data, &out); err != nil {
		return h
	}
	return out
}

// DiffHostContext returns the top-level keys whose value differs between old
// and updated. Keys present in old but absent from updated are not reported:
// the guest keeps its last known value for them.
func DiffHostContext(old, updated HostContext) (HostContextDiff, error) {
	before, err := old.fields()
	if err != nil {
		return nil, fmt.Errorf("failed to encode previous context: %w", err)
	}
	after, err := updated.fields()
	if err != nil {
		return nil, fmt.Errorf("failed to encode new context: %w", err)
	}
	diff := HostContextDiff{}
	for k, v := range after {
		prev, ok := before[k]
		if ok && rawEqual(prev, v) {
			continue
		}
		diff[k] = v
	}
	return diff, nil
}

// Merge applies a diff onto the context.
func (h *HostContext) Merge(diff HostContextDiff) error {
	if len(diff) == 0 {
		return nil
	}
	fields, err := h.fields()
	if err != nil {
		return err
	}
	for k, v := range diff {
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var merged HostContext
	if err := json.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("failed to apply context diff: %w", err)
	}
	*h = merged
	return nil
}

func rawEqual(a, b json.RawMessage) bool {
	var va, vb protocol.Value
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return va.Equal(vb)
}
