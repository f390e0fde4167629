package models

import "github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"

// InitializeParams is what the host sends a backend MCP server in its own
// initialize exchange.
type InitializeParams struct {
	ProtocolVersion string                      `json:"protocolVersion"`
	Capabilities    protocol.ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation              `json:"clientInfo"`
}

// InitializeResult is the backend's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string                      `json:"protocolVersion"`
	Capabilities    protocol.ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation              `json:"serverInfo"`
	Instructions    string                      `json:"instructions,omitempty"`
}

// SubscribeParams names a resource for resources/subscribe and
// resources/unsubscribe.
type SubscribeParams struct {
	URI string `json:"uri"`
}
