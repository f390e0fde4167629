package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// ResourceMIMEType marks HTML meant to be rendered as an MCP App.
const ResourceMIMEType = "text/html;profile=mcp-app"

// UIResourceScheme is the URI scheme of UI resources.
const UIResourceScheme = "ui://"

// Resource represents a known resource that the server can read
type Resource struct {
	URI         string                    `json:"uri"`
	Name        string                    `json:"name"`
	Title       string                    `json:"title,omitempty"`
	Description string                    `json:"description,omitempty"`
	MimeType    string                    `json:"mimeType,omitempty"`
	Annotations *Annotations              `json:"annotations,omitempty"`
	Meta        map[string]protocol.Value `json:"_meta,omitempty"`
}

// ResourceTemplate represents a template for resources available on the server
type ResourceTemplate struct {
	URITemplate string                    `json:"uriTemplate"`
	Name        string                    `json:"name"`
	Title       string                    `json:"title,omitempty"`
	Description string                    `json:"description,omitempty"`
	MimeType    string                    `json:"mimeType,omitempty"`
	Meta        map[string]protocol.Value `json:"_meta,omitempty"`
}

// ResourceContents is one text or blob payload of a read resource.
type ResourceContents struct {
	URI      string                    `json:"uri"`
	MimeType string                    `json:"mimeType,omitempty"`
	Text     *string                   `json:"text,omitempty"`
	Blob     *string                   `json:"blob,omitempty"`
	Meta     map[string]protocol.Value `json:"_meta,omitempty"`
}

// ReadResourceParams is the params of resources/read.
type ReadResourceParams struct {
	URI  string                    `json:"uri"`
	Meta map[string]protocol.Value `json:"_meta,omitempty"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor Cursor     `json:"nextCursor,omitempty"`
}

// ListResourceTemplatesResult is the result of resources/templates/list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        Cursor             `json:"nextCursor,omitempty"`
}

// Prompt describes a backend prompt.
type Prompt struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor Cursor   `json:"nextCursor,omitempty"`
}

// UIResourceMeta is the _meta.ui block of a UI resource.
type UIResourceMeta struct {
	CSP           *ResourceCSP `json:"csp,omitempty"`
	Permissions   *Permissions `json:"permissions,omitempty"`
	Domain        string       `json:"domain,omitempty"`
	PrefersBorder *bool        `json:"prefersBorder,omitempty"`
}

// UIResource is a decoded UI resource ready for the sandbox.
type UIResource struct {
	URI  string
	HTML string
	Meta UIResourceMeta
}

// ParseUIResource extracts the HTML document and its ui metadata from a
// resources/read result. The first content with the MCP App profile wins;
// plain text/html is accepted when no profiled entry exists.
func ParseUIResource(res *ReadResourceResult) (*UIResource, error) {
	if res == nil || len(res.Contents) == 0 {
		return nil, fmt.Errorf("resource has no contents")
	}
	pick := -1
	for i, c := range res.Contents {
		if c.MimeType == ResourceMIMEType {
			pick = i
			break
		}
		if pick < 0 && strings.HasPrefix(c.MimeType, "text/html") {
			pick = i
		}
	}
	if pick < 0 {
		return nil, fmt.Errorf("resource %s is not html (mimeType %q)", res.Contents[0].URI, res.Contents[0].MimeType)
	}
	c := res.Contents[pick]

	var html string
	switch {
	case c.Text != nil:
		html = *c.Text
	case c.Blob != nil:
		b, err := base64.StdEncoding.DecodeString(*c.Blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode resource blob: %w", err)
		}
		html = string(b)
	default:
		return nil, fmt.Errorf("resource %s has neither text nor blob", c.URI)
	}

	out := &UIResource{URI: c.URI, HTML: html}
	if ui, ok := c.Meta["ui"]; ok {
		meta, err := DecodeUIResourceMeta(ui)
		if err != nil {
			return nil, err
		}
		out.Meta = meta
	}
	return out, nil
}

// DecodeUIResourceMeta converts a _meta.ui value into UIResourceMeta.
func DecodeUIResourceMeta(v protocol.Value) (UIResourceMeta, error) {
	var meta UIResourceMeta
	data, err := json.Marshal(v)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("invalid _meta.ui: %w", err)
	}
	return meta, nil
}
