package models

import (
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// ContentBlock is one element of a content list. The type field selects which
// of the remaining fields are meaningful: text uses Text; image and audio use
// Data and MimeType; resource_link uses URI and Name; resource embeds Resource.
type ContentBlock struct {
	Type        string                    `json:"type"`
	Text        string                    `json:"text,omitempty"`
	Data        string                    `json:"data,omitempty"`
	MimeType    string                    `json:"mimeType,omitempty"`
	URI         string                    `json:"uri,omitempty"`
	Name        string                    `json:"name,omitempty"`
	Resource    *ResourceContents         `json:"resource,omitempty"`
	Annotations *Annotations              `json:"annotations,omitempty"`
	Meta        map[string]protocol.Value `json:"_meta,omitempty"`
}

// Content block types.
const (
	ContentTypeText         = "text"
	ContentTypeImage        = "image"
	ContentTypeAudio        = "audio"
	ContentTypeResourceLink = "resource_link"
	ContentTypeResource     = "resource"
)

// TextContent builds a text block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// UIInitializeParams is sent by the guest to open the session.
type UIInitializeParams struct {
	AppInfo         Implementation  `json:"appInfo"`
	AppCapabilities AppCapabilities `json:"appCapabilities"`
	ProtocolVersion string          `json:"protocolVersion"`
}

// UIInitializeResult is the host's handshake answer.
type UIInitializeResult struct {
	ProtocolVersion  string           `json:"protocolVersion"`
	HostInfo         Implementation   `json:"hostInfo"`
	HostCapabilities HostCapabilities `json:"hostCapabilities"`
	HostContext      HostContext      `json:"hostContext"`
}

// ToolInputParams carries complete or partial tool-call arguments.
type ToolInputParams struct {
	Arguments map[string]protocol.Value `json:"arguments,omitempty"`
}

// ToolResultParams delivers the finished tool result to the guest.
type ToolResultParams = CallToolResult

// ToolCancelledParams reports that the tool call was abandoned.
type ToolCancelledParams struct {
	Reason string `json:"reason,omitempty"`
}

// SizeChangedParams is the guest's requested content size in CSS pixels.
type SizeChangedParams struct {
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// SandboxProxyReadyParams is sent by the outer proxy frame once listening.
type SandboxProxyReadyParams struct{}

// SandboxResourceReadyParams hands the guest HTML and its policy to the proxy.
type SandboxResourceReadyParams struct {
	HTML        string       `json:"html"`
	Sandbox     string       `json:"sandbox,omitempty"`
	CSP         *ResourceCSP `json:"csp,omitempty"`
	Permissions *Permissions `json:"permissions,omitempty"`
}

// MessageParams asks the host to add a message to the conversation.
type MessageParams struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// MessageResult is the host's answer to ui/message.
type MessageResult struct {
	IsError bool `json:"isError,omitempty"`
}

// OpenLinkParams asks the host to open a URL outside the sandbox.
type OpenLinkParams struct {
	URL string `json:"url"`
}

// OpenLinkResult is the host's answer to ui/open-link.
type OpenLinkResult struct {
	IsError bool `json:"isError,omitempty"`
}

// ResourceTeardownParams asks the guest to persist state before unmount.
type ResourceTeardownParams struct{}

// ResourceTeardownResult acknowledges a teardown request.
type ResourceTeardownResult struct{}

// LoggingMessageParams is a structured log line.
type LoggingMessageParams struct {
	Level  LoggingLevel   `json:"level"`
	Logger string         `json:"logger,omitempty"`
	Data   protocol.Value `json:"data"`
}

// RequestDisplayModeParams asks the host to change presentation.
type RequestDisplayModeParams struct {
	Mode DisplayMode `json:"mode"`
}

// RequestDisplayModeResult reports the mode the host actually applied.
type RequestDisplayModeResult struct {
	Mode DisplayMode `json:"mode"`
}

// CancelledParams cancels an in-flight request.
type CancelledParams struct {
	RequestID protocol.RequestID `json:"requestId"`
	Reason    string             `json:"reason,omitempty"`
}
