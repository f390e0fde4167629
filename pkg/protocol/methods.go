package protocol

// LatestProtocolVersion is the newest MCP Apps protocol revision this module
// speaks. Hosts fall back to it when a guest asks for anything unknown.
const LatestProtocolVersion = "2025-11-21"

// MCPProtocolVersion is the backend MCP revision requested by the client.
const MCPProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the MCP Apps revisions accepted by default,
// newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion}

// IsSupportedVersion reports whether v is in versions.
func IsSupportedVersion(versions []string, v string) bool {
	for _, candidate := range versions {
		if candidate == v {
			return true
		}
	}
	return false
}

// MCP Apps methods.
const (
	MethodUIInitialize           = "ui/initialize"
	MethodUIInitialized          = "ui/notifications/initialized"
	MethodToolInput              = "ui/notifications/tool-input"
	MethodToolInputPartial       = "ui/notifications/tool-input-partial"
	MethodToolResult             = "ui/notifications/tool-result"
	MethodToolCancelled          = "ui/notifications/tool-cancelled"
	MethodSizeChanged            = "ui/notifications/size-changed"
	MethodHostContextChanged     = "ui/notifications/host-context-changed"
	MethodSandboxResourceReady   = "ui/notifications/sandbox-resource-ready"
	MethodSandboxProxyReady      = "ui/notifications/sandbox-proxy-ready"
	MethodUIMessage              = "ui/message"
	MethodOpenLink               = "ui/open-link"
	MethodResourceTeardown       = "ui/resource-teardown"
	MethodRequestDisplayMode     = "ui/request-display-mode"
	MethodLoggingMessage         = "notifications/message"
	MethodPing                   = "ping"
	MethodCancelled              = "notifications/cancelled"
	MethodInitialize             = "initialize"
	MethodInitialized            = "notifications/initialized"
	MethodToolsCall              = "tools/call"
	MethodToolsList              = "tools/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesList          = "resources/list"
	MethodResourcesTemplatesList = "resources/templates/list"
	MethodPromptsList            = "prompts/list"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodResourcesUpdated       = "notifications/resources/updated"
	MethodToolsListChanged       = "notifications/tools/list_changed"
	MethodResourcesListChanged   = "notifications/resources/list_changed"
	MethodPromptsListChanged     = "notifications/prompts/list_changed"
)
