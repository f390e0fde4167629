package models

import (
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// ToolAudience is a value of _meta.ui.visibility.
type ToolAudience string

const (
	AudienceModel ToolAudience = "model"
	AudienceApp   ToolAudience = "app"
)

// LegacyResourceURIMetaKey is the flat metadata key older hosts read.
const LegacyResourceURIMetaKey = "ui/resourceUri"

// Tool describes a backend tool.
type Tool struct {
	Name         string                    `json:"name"`
	Title        string                    `json:"title,omitempty"`
	Description  string                    `json:"description,omitempty"`
	InputSchema  protocol.Value            `json:"inputSchema"`
	OutputSchema *protocol.Value           `json:"outputSchema,omitempty"`
	Annotations  map[string]protocol.Value `json:"annotations,omitempty"`
	Meta         map[string]protocol.Value `json:"_meta,omitempty"`
}

// UIResourceURI returns the ui:// resource rendering this tool's result, if
// any. _meta.ui.resourceUri wins over the legacy key.
func (t Tool) UIResourceURI() (string, bool) {
	if ui, ok := t.Meta["ui"]; ok {
		if uri, ok := ui.Field("resourceUri"); ok {
			if s, ok := uri.AsString(); ok && s != "" {
				return s, true
			}
		}
	}
	if legacy, ok := t.Meta[LegacyResourceURIMetaKey]; ok {
		if s, ok := legacy.AsString(); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// VisibleTo reports whether the audience may call the tool. A tool without
// _meta.ui.visibility is visible to everyone.
func (t Tool) VisibleTo(audience ToolAudience) bool {
	ui, ok := t.Meta["ui"]
	if !ok {
		return true
	}
	vis, ok := ui.Field("visibility")
	if !ok {
		return true
	}
	items, ok := vis.AsArray()
	if !ok {
		return true
	}
	for _, item := range items {
		if s, ok := item.AsString(); ok && ToolAudience(s) == audience {
			return true
		}
	}
	return false
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor Cursor `json:"nextCursor,omitempty"`
}

// CallToolParams is the params of tools/call.
type CallToolParams struct {
	Name      string                    `json:"name"`
	Arguments map[string]protocol.Value `json:"arguments,omitempty"`
	Meta      map[string]protocol.Value `json:"_meta,omitempty"`
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content           []ContentBlock            `json:"content"`
	StructuredContent *protocol.Value           `json:"structuredContent,omitempty"`
	IsError           bool                      `json:"isError,omitempty"`
	Meta              map[string]protocol.Value `json:"_meta,omitempty"`
}
