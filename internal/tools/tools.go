// Package tools exposes the debugger as MCP tools.
package tools

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rndebug/rndebug/internal/contracts"
)

const serverName = "rndebug"

const (
	ToolScanMetro          = "scan_metro"
	ToolConnect            = "connect"
	ToolExecute            = "execute"
	ToolReloadApp          = "reload_app"
	ToolGetLogs            = "get_logs"
	ToolGetNetworkRequests = "get_network_requests"
	ToolGetNetworkStats    = "get_network_stats"
	ToolConnectionStatus   = "connection_status"
	ToolClearLogs          = "clear_logs"
	ToolClearNetwork       = "clear_network"
)

// Dependencies contains the collaborators the tool handlers adapt.
type Dependencies struct {
	Logger      hclog.Logger
	Debugger    contracts.Debugger
	Connections contracts.ConnectionHealthMonitor
	Contexts    contracts.ContextHealthMonitor
	Logs        contracts.LogReader
	Network     contracts.NetworkReader
}

// Validate ensures all required dependencies are provided.
func (d Dependencies) Validate() error {
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	if d.Debugger == nil || reflect.ValueOf(d.Debugger).IsNil() {
		return fmt.Errorf("debugger cannot be nil")
	}
	if d.Connections == nil || reflect.ValueOf(d.Connections).IsNil() {
		return fmt.Errorf("connection health monitor cannot be nil")
	}
	if d.Contexts == nil || reflect.ValueOf(d.Contexts).IsNil() {
		return fmt.Errorf("context health monitor cannot be nil")
	}
	if d.Logs == nil || reflect.ValueOf(d.Logs).IsNil() {
		return fmt.Errorf("log reader cannot be nil")
	}
	if d.Network == nil || reflect.ValueOf(d.Network).IsNil() {
		return fmt.Errorf("network reader cannot be nil")
	}
	return nil
}

// NewServer creates an MCP server with every debugger tool registered.
func NewServer(deps Dependencies, version string) (*server.MCPServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for MCP tools: %w", err)
	}

	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := &handlers{
		logger:      deps.Logger.Named("tools"),
		debugger:    deps.Debugger,
		connections: deps.Connections,
		contexts:    deps.Contexts,
		logs:        deps.Logs,
		network:     deps.Network,
	}

	for _, t := range h.tools() {
		s.AddTool(t.tool, h.logged(t.tool.Name, t.handler))
	}

	return s, nil
}

type toolEntry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func (h *handlers) tools() []toolEntry {
	return []toolEntry{
		{
			tool: mcp.NewTool(ToolScanMetro,
				mcp.WithDescription("List running Metro bundlers and the debuggable targets each one advertises."),
			),
			handler: h.scanMetro,
		},
		{
			tool: mcp.NewTool(ToolConnect,
				mcp.WithDescription("Connect to a React Native app. Without a port the preferred target of the first running bundler is used."),
				mcp.WithNumber("port", mcp.Description("Metro bundler port")),
				mcp.WithString("targetId", mcp.Description("Target id from scan_metro; defaults to the preferred target")),
			),
			handler: h.connect,
		},
		{
			tool: mcp.NewTool(ToolExecute,
				mcp.WithDescription("Evaluate a JavaScript expression in the running app and return its value. "+
					"Top-level async functions are rejected; use a promise chain instead."),
				mcp.WithString("expression", mcp.Required(), mcp.Description("JavaScript expression to evaluate")),
				mcp.WithBoolean("awaitPromise", mcp.Description("Wait for a returned promise to settle")),
				mcp.WithNumber("maxRetries", mcp.Description("Retries after context loss or a dropped connection")),
				mcp.WithBoolean("autoReconnect", mcp.Description("Connect or reconnect automatically when needed")),
			),
			handler: h.execute,
		},
		{
			tool: mcp.NewTool(ToolReloadApp,
				mcp.WithDescription("Reload the app's JavaScript bundle and reconnect."),
			),
			handler: h.reloadApp,
		},
		{
			tool: mcp.NewTool(ToolGetLogs,
				mcp.WithDescription("Read buffered console logs, oldest first."),
				mcp.WithString("level", mcp.Description("Comma-separated levels: debug, log, info, warn, error")),
				mcp.WithString("text", mcp.Description("Case-insensitive message substring")),
				mcp.WithString("since", mcp.Description("Only entries after the last message containing this text")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of newest entries (default 50)")),
				mcp.WithBoolean("summary", mcp.Description("Return level counts and the most recent entries instead")),
			),
			handler: h.getLogs,
		},
		{
			tool: mcp.NewTool(ToolGetNetworkRequests,
				mcp.WithDescription("Read buffered network requests, oldest first, or a single request by id."),
				mcp.WithString("requestId", mcp.Description("Return full details for this request id")),
				mcp.WithString("method", mcp.Description("Comma-separated HTTP methods")),
				mcp.WithString("status", mcp.Description("Comma-separated codes or classes, e.g. 404,5xx,pending,failed")),
				mcp.WithString("url", mcp.Description("Case-insensitive URL substring")),
				mcp.WithString("since", mcp.Description("Only records after the last URL containing this text")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of newest records (default 50)")),
			),
			handler: h.getNetworkRequests,
		},
		{
			tool: mcp.NewTool(ToolGetNetworkStats,
				mcp.WithDescription("Aggregate counts of buffered network requests by method, status class and host."),
			),
			handler: h.getNetworkStats,
		},
		{
			tool: mcp.NewTool(ToolConnectionStatus,
				mcp.WithDescription("Show connection health, reconnect state, connectivity gaps and execution-context health."),
			),
			handler: h.connectionStatus,
		},
		{
			tool: mcp.NewTool(ToolClearLogs,
				mcp.WithDescription("Discard all buffered log entries."),
			),
			handler: h.clearLogs,
		},
		{
			tool: mcp.NewTool(ToolClearNetwork,
				mcp.WithDescription("Discard all buffered network records."),
			),
			handler: h.clearNetwork,
		},
	}
}
