package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rndebug/rndebug/internal/api"
	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/health"
)

const defaultReadLimit = 50

type handlers struct {
	logger      hclog.Logger
	debugger    contracts.Debugger
	connections contracts.ConnectionHealthMonitor
	contexts    contracts.ContextHealthMonitor
	logs        contracts.LogReader
	network     contracts.NetworkReader
}

// logged wraps a handler so that failures are logged and returned as tool errors,
// leaving protocol errors for malformed requests only.
func (h *handlers) logged(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := next(ctx, req)
		if err != nil {
			h.logger.Warn("Tool call failed", "tool", name, "duration", time.Since(start), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		h.logger.Debug("Tool call completed", "tool", name, "duration", time.Since(start))
		return res, nil
	}
}

func (h *handlers) scanMetro(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := h.debugger.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "Metro on port %d:\n", r.Port)
		for _, t := range r.Targets {
			marker := ""
			if r.Preferred != nil && r.Preferred.ID == t.ID {
				marker = " (preferred)"
			}
			fmt.Fprintf(&b, "  - [%s] %s", t.ID, t.Title)
			if t.DisplayName != "" {
				fmt.Fprintf(&b, " on %s", t.DisplayName)
			}
			b.WriteString(marker + "\n")
		}
		if len(r.Targets) == 0 {
			b.WriteString("  (no debuggable targets)\n")
		}
	}

	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (h *handlers) connect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := h.debugger.ConnectTo(ctx, req.GetInt("port", 0), req.GetString("targetId", ""))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(msg), nil
}

func (h *handlers) execute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return nil, err
	}

	opts := h.debugger.EvalDefaults()
	opts.AwaitPromise = req.GetBool("awaitPromise", opts.AwaitPromise)
	opts.MaxRetries = req.GetInt("maxRetries", opts.MaxRetries)
	opts.AutoReconnect = req.GetBool("autoReconnect", opts.AutoReconnect)
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("maxRetries cannot be negative, got %d", opts.MaxRetries)
	}

	value, err := h.debugger.Evaluate(ctx, expression, opts)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(value), nil
}

func (h *handlers) reloadApp(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := h.debugger.ReloadApp(ctx)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(msg), nil
}

func (h *handlers) getLogs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetBool("summary", false) {
		return h.logSummary(req.GetInt("limit", 10)), nil
	}

	level := req.GetString("level", "")
	if err := buffer.ValidateLevels(level); err != nil {
		return nil, err
	}

	entries := h.logs.Query(buffer.LogQuery{
		Level:      level,
		Text:       req.GetString("text", ""),
		StartAfter: req.GetString("since", ""),
		Limit:      req.GetInt("limit", defaultReadLimit),
	})

	var b strings.Builder
	writeWarnings(&b, h.warnings())
	fmt.Fprintf(&b, "%d log entries (%d/%d buffered)\n", len(entries), h.logs.Len(), h.logs.Cap())
	for _, e := range entries {
		writeLogLine(&b, e)
	}

	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (h *handlers) logSummary(recent int) *mcp.CallToolResult {
	summary := h.logs.Summarize(recent)

	var b strings.Builder
	writeWarnings(&b, h.warnings())
	fmt.Fprintf(&b, "%d log entries buffered\n", summary.Total)
	for _, level := range domain.LogLevels() {
		if n := summary.ByLevel[level]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", level, n)
		}
	}
	if len(summary.Recent) > 0 {
		b.WriteString("Most recent:\n")
		for _, e := range summary.Recent {
			writeLogLine(&b, e)
		}
	}

	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n"))
}

func (h *handlers) getNetworkRequests(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("requestId", ""); id != "" {
		rec, ok := h.network.Get(id)
		if !ok {
			return nil, fmt.Errorf("network request %q is not buffered", id)
		}
		out, err := api.DomainNetworkRecord(rec).ToAPIType()
		if err != nil {
			return nil, err
		}
		return jsonResult(out)
	}

	records := h.network.Query(buffer.NetworkQuery{
		Method:     req.GetString("method", ""),
		Status:     req.GetString("status", ""),
		URL:        req.GetString("url", ""),
		StartAfter: req.GetString("since", ""),
		Limit:      req.GetInt("limit", defaultReadLimit),
	})

	var b strings.Builder
	writeWarnings(&b, h.warnings())
	fmt.Fprintf(&b, "%d requests (%d/%d buffered)\n", len(records), h.network.Len(), h.network.Cap())
	for _, r := range records {
		status := r.StatusClass()
		if r.Status != nil {
			status = fmt.Sprintf("%d", *r.Status)
		}
		fmt.Fprintf(&b, "[%s] %s %s %s", r.RequestID, r.Method, status, r.URL)
		if r.Timing.DurationMs != nil {
			fmt.Fprintf(&b, " (%dms)", *r.Timing.DurationMs)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, " error: %s", r.Error)
		}
		b.WriteString("\n")
	}

	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (h *handlers) getNetworkStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := h.network.Stats()

	var out api.NetworkStatsResponse
	out.Body.Total = stats.Total
	out.Body.Completed = stats.Completed
	out.Body.Pending = stats.Pending
	out.Body.Failed = stats.Failed
	out.Body.ByMethod = stats.ByMethod
	out.Body.ByStatusClass = stats.ByStatusClass
	out.Body.ByHost = stats.ByHost
	out.Body.Warnings = h.warnings()

	return jsonResult(out.Body)
}

func (h *handlers) connectionStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out struct {
		Connections []api.ConnectionHealth `json:"connections"`
		Contexts    []api.ContextHealth    `json:"contexts"`
		Warnings    []string               `json:"warnings,omitempty"`
	}

	out.Connections = make([]api.ConnectionHealth, 0)
	for _, c := range h.connections.List() {
		v, err := api.DomainConnectionHealth(c).ToAPIType()
		if err != nil {
			return nil, err
		}
		out.Connections = append(out.Connections, v)
	}

	out.Contexts = make([]api.ContextHealth, 0)
	for _, c := range h.contexts.List() {
		v, err := api.DomainContextHealth(c).ToAPIType()
		if err != nil {
			return nil, err
		}
		out.Contexts = append(out.Contexts, v)
	}

	out.Warnings = h.warnings()

	return jsonResult(out)
}

func (h *handlers) clearLogs(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d log entries", h.logs.Clear())), nil
}

func (h *handlers) clearNetwork(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d network records", h.network.Clear())), nil
}

func (h *handlers) warnings() []string {
	return h.connections.GapWarnings(time.Now(), health.DefaultGapWarningWindow)
}

func writeWarnings(b *strings.Builder, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(b, "Warning: %s\n", w)
	}
}

func writeLogLine(b *strings.Builder, e domain.LogEntry) {
	fmt.Fprintf(b, "[%s] %s: %s\n", e.Timestamp.Format("15:04:05.000"), strings.ToUpper(string(e.Level)), e.Message)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
