// Package mcpapps is a Go implementation of MCP Apps, the extension of the Model
// Context Protocol that lets a tool ship an interactive HTML user interface.
//
// # Overview
//
// An MCP App is a UI resource (a ui:// URI with text/html;profile=mcp-app
// content) referenced from a tool's metadata. A Host renders the resource in a
// sandboxed iframe, the Guest, and the two talk JSON-RPC 2.0 over
// window.postMessage. The Host answers the Guest's handshake, pushes tool
// input and results into it, and forwards approved requests from it to the
// backend MCP server that owns the tool.
//
// # Architecture
//
//	pkg/protocol/   - JSON-RPC 2.0 messages, method names, versions, JSON values
//	pkg/models/     - wire types: handshake, host context, capabilities, tools, resources
//	pkg/errors/     - protocol, capability, security and transport errors
//	pkg/logging/    - logger interface with std, slog, noop and test implementations
//	pkg/transport/  - in-memory, stdio, window messaging, websocket relay and webview transports
//	pkg/handler/    - request/response correlation, timeouts, cancellation and routing
//	pkg/apps/       - AppBridge (host side of a session) and App (guest side)
//	pkg/sandbox/    - CSP, permission policy, origin checks and the sandbox proxy page
//	pkg/client/     - backend MCP client used as the AppBridge backend
//	pkg/config/     - YAML configuration for the development host
//	cmd/mcp-apps-host - development host serving a tool UI to a browser
//
// # Session Lifecycle
//
// A session moves through four states. The bridge is created, connected to a
// transport, initialized by the guest handshake and finally closed:
//
//	created -> awaiting-handshake -> initialized -> closed
//
// The guest sends ui/initialize with the protocol version it prefers. The host
// echoes the version when it supports it and otherwise answers with its latest
// one. Host-to-guest notifications such as tool input are only sent once the
// guest has confirmed with ui/notifications/initialized.
//
// # Host Usage
//
// Creating a bridge for one guest, backed by an MCP server over stdio:
//
//	backend := client.NewClient(stdioTransport)
//	if _, err := backend.Initialize(ctx); err != nil {
//		return err
//	}
//
//	bridge, err := apps.NewAppBridge(backend,
//		models.Implementation{Name: "my-host", Version: "1.0.0"},
//		models.HostCapabilities{OpenLinks: &models.Empty{}},
//		apps.WithHostContext(models.HostContext{Theme: models.ThemeDark}),
//	)
//	if err != nil {
//		return err
//	}
//	bridge.OnInitialized(func() {
//		_ = bridge.SendToolInput(ctx, args)
//	})
//	if err := bridge.Connect(ctx, guestTransport); err != nil {
//		return err
//	}
//
// Tools and resources of the backend become callable from the guest as soon as
// the backend advertises them. Before unmounting the frame call Teardown, which
// gives the guest a bounded time to save its state.
//
// # Guest Usage
//
// The same protocol can be driven from Go, which is how the test suite
// exercises hosts end to end:
//
//	app, _ := apps.NewApp(models.Implementation{Name: "qr", Version: "1.0"}, models.AppCapabilities{})
//	app.OnToolResult(func(r models.CallToolResult) { render(r) })
//	if _, err := app.Connect(ctx, transport); err != nil {
//		return err
//	}
//
// # Sandbox
//
// Guest content is isolated by a double iframe. The outer frame, served by
// sandbox.ProxyHandler from its own origin, carries the CSP header computed
// from the resource's declared domains and creates the inner frame holding the
// guest document. Every window message is checked against the expected origin
// before it reaches the protocol layer.
//
// # Thread Safety
//
// AppBridge, App, Dispatcher and the transports are safe for concurrent use.
// Callbacks run on the session's goroutines; notification callbacks run one at
// a time in arrival order.
package mcpapps
