package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/errors"
)

// DomainLogEntry is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainLogEntry domain.LogEntry

// LogEntry is one buffered console or structured log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// LogsRequest filters a log read.
type LogsRequest struct {
	Level string `doc:"Comma-separated levels"                            example:"error,warn" query:"level"`
	Text  string `doc:"Case-insensitive message substring"                example:"fetch"      query:"text"`
	Since string `doc:"Only entries after the last message containing this" query:"since"`
	Limit int    `default:"100" doc:"Maximum number of newest entries" minimum:"0" query:"limit"`
}

// LogsResponse is the response for GET /logs.
type LogsResponse struct {
	Body struct {
		Entries  []LogEntry `doc:"Matching entries, oldest first"       json:"entries"`
		Buffered int        `doc:"Entries currently buffered"           json:"buffered"`
		Capacity int        `doc:"Maximum entries retained"             json:"capacity"`
		Warnings []string   `doc:"Recent connectivity gaps"             json:"warnings,omitempty"`
	}
}

// LogSummaryRequest controls the size of a summary.
type LogSummaryRequest struct {
	Recent int `default:"10" doc:"Number of newest entries to include" minimum:"0" query:"recent"`
}

// LogSummaryResponse is the response for GET /logs/summary.
type LogSummaryResponse struct {
	Body struct {
		Total    int            `json:"total"`
		ByLevel  map[string]int `json:"byLevel"`
		Recent   []LogEntry     `json:"recent"`
		Warnings []string       `json:"warnings,omitempty"`
	}
}

// ClearResponse reports how many buffered items were discarded.
type ClearResponse struct {
	Body struct {
		Cleared int `doc:"Number of discarded items" json:"cleared"`
	}
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainLogEntry) ToAPIType() (LogEntry, error) {
	return LogEntry{
		Timestamp: d.Timestamp,
		Level:     string(d.Level),
		Message:   d.Message,
		Source:    d.Source,
	}, nil
}

// RegisterLogRoutes sets up log buffer API endpoint routes under /logs.
func RegisterLogRoutes(
	routerAPI huma.API,
	logs contracts.LogReader,
	connections contracts.ConnectionHealthMonitor,
) {
	tags := []string{"Logs"}

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "listLogs",
			Method:      http.MethodGet,
			Path:        "/logs",
			Summary:     "List buffered log entries",
			Tags:        tags,
		},
		func(ctx context.Context, input *LogsRequest) (*LogsResponse, error) {
			return handleLogs(logs, connections, input)
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "summarizeLogs",
			Method:      http.MethodGet,
			Path:        "/logs/summary",
			Summary:     "Summarize buffered log entries by level",
			Tags:        tags,
		},
		func(ctx context.Context, input *LogSummaryRequest) (*LogSummaryResponse, error) {
			return handleLogSummary(logs, connections, input.Recent)
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "clearLogs",
			Method:      http.MethodDelete,
			Path:        "/logs",
			Summary:     "Discard every buffered log entry",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ClearResponse, error) {
			resp := &ClearResponse{}
			resp.Body.Cleared = logs.Clear()
			return resp, nil
		},
	)
}

func handleLogs(
	logs contracts.LogReader,
	connections contracts.ConnectionHealthMonitor,
	input *LogsRequest,
) (*LogsResponse, error) {
	if err := buffer.ValidateLevels(input.Level); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
	}

	entries := logs.Query(buffer.LogQuery{
		Level:      input.Level,
		Text:       input.Text,
		StartAfter: input.Since,
		Limit:      input.Limit,
	})

	converted, err := convertLogEntries(entries)
	if err != nil {
		return nil, err
	}

	resp := &LogsResponse{}
	resp.Body.Entries = converted
	resp.Body.Buffered = logs.Len()
	resp.Body.Capacity = logs.Cap()
	resp.Body.Warnings = gapWarnings(connections)
	return resp, nil
}

func handleLogSummary(
	logs contracts.LogReader,
	connections contracts.ConnectionHealthMonitor,
	recent int,
) (*LogSummaryResponse, error) {
	summary := logs.Summarize(recent)

	converted, err := convertLogEntries(summary.Recent)
	if err != nil {
		return nil, err
	}

	byLevel := make(map[string]int, len(summary.ByLevel))
	for level, n := range summary.ByLevel {
		byLevel[string(level)] = n
	}

	resp := &LogSummaryResponse{}
	resp.Body.Total = summary.Total
	resp.Body.ByLevel = byLevel
	resp.Body.Recent = converted
	resp.Body.Warnings = gapWarnings(connections)
	return resp, nil
}

func convertLogEntries(entries []domain.LogEntry) ([]LogEntry, error) {
	wrapped := make([]DomainLogEntry, len(entries))
	for i, e := range entries {
		wrapped[i] = DomainLogEntry(e)
	}
	return convertAll(wrapped)
}
