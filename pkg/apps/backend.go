package apps

import (
	"context"
	"encoding/json"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
)

// Backend is the MCP server a bridge forwards guest requests to. Results are
// returned raw so they reach the guest exactly as the backend produced them.
// *client.Client satisfies it.
type Backend interface {
	// ServerCapabilities returns nil until the backend handshake is done.
	ServerCapabilities() *protocol.ServerCapabilities
	CallTool(ctx context.Context, params models.CallToolParams) (json.RawMessage, error)
	ReadResource(ctx context.Context, params models.ReadResourceParams) (json.RawMessage, error)
	ListResources(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error)
	ListResourceTemplates(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error)
	ListPrompts(ctx context.Context, params models.PaginatedParams) (json.RawMessage, error)
}

// ListChangedNotifier is implemented by backends that surface their
// list-changed notifications. The returned function unregisters fn.
type ListChangedNotifier interface {
	OnListChanged(method string, fn func()) func()
}
