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

// DomainNetworkRecord is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainNetworkRecord domain.NetworkRecord

// NetworkRecord is one buffered request and, once received, its response.
type NetworkRecord struct {
	RequestID       string            `json:"requestId"`
	Timestamp       time.Time         `json:"timestamp"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     *string           `json:"requestBody,omitempty"`
	Status          *int              `json:"status,omitempty"`
	StatusText      string            `json:"statusText,omitempty"`
	StatusClass     string            `json:"statusClass"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	MimeType        string            `json:"mimeType,omitempty"`
	ContentLength   *int64            `json:"contentLength,omitempty"`
	DurationMs      *int64            `json:"durationMs,omitempty"`
	Completed       bool              `json:"completed"`
	Error           string            `json:"error,omitempty"`
}

// NetworkRequest filters a network read.
type NetworkRequest struct {
	Method string `doc:"Comma-separated HTTP methods"                    example:"GET,POST"  query:"method"`
	Status string `doc:"Comma-separated codes, classes, pending or failed" example:"4xx,500" query:"status"`
	URL    string `doc:"Case-insensitive URL substring"                  example:"/api/"     query:"url"`
	Since  string `doc:"Only records after the last URL containing this" query:"since"`
	Limit  int    `default:"50" doc:"Maximum number of newest records" minimum:"0" query:"limit"`
}

// NetworkResponse is the response for GET /network.
type NetworkResponse struct {
	Body struct {
		Requests []NetworkRecord `doc:"Matching records, oldest first" json:"requests"`
		Buffered int             `doc:"Records currently buffered"     json:"buffered"`
		Capacity int             `doc:"Maximum records retained"       json:"capacity"`
		Warnings []string        `doc:"Recent connectivity gaps"       json:"warnings,omitempty"`
	}
}

// NetworkStatsResponse is the response for GET /network/stats.
type NetworkStatsResponse struct {
	Body struct {
		Total         int            `json:"total"`
		Completed     int            `json:"completed"`
		Pending       int            `json:"pending"`
		Failed        int            `json:"failed"`
		ByMethod      map[string]int `json:"byMethod"`
		ByStatusClass map[string]int `json:"byStatusClass"`
		ByHost        map[string]int `json:"byHost"`
		Warnings      []string       `json:"warnings,omitempty"`
	}
}

// NetworkRecordRequest identifies one record.
type NetworkRecordRequest struct {
	ID string `doc:"Protocol request id" example:"1000.1" path:"id"`
}

// NetworkRecordResponse represents the wrapped API response for a NetworkRecord.
type NetworkRecordResponse struct {
	Body NetworkRecord
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainNetworkRecord) ToAPIType() (NetworkRecord, error) {
	return NetworkRecord{
		RequestID:       d.RequestID,
		Timestamp:       d.Timestamp,
		Method:          d.Method,
		URL:             d.URL,
		RequestHeaders:  d.RequestHeaders,
		RequestBody:     d.RequestBody,
		Status:          d.Status,
		StatusText:      d.StatusText,
		StatusClass:     domain.NetworkRecord(d).StatusClass(),
		ResponseHeaders: d.ResponseHeaders,
		MimeType:        d.MimeType,
		ContentLength:   d.ContentLength,
		DurationMs:      d.Timing.DurationMs,
		Completed:       d.Completed,
		Error:           d.Error,
	}, nil
}

// RegisterNetworkRoutes sets up network buffer API endpoint routes under /network.
func RegisterNetworkRoutes(
	routerAPI huma.API,
	network contracts.NetworkReader,
	connections contracts.ConnectionHealthMonitor,
) {
	tags := []string{"Network"}

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "listNetworkRequests",
			Method:      http.MethodGet,
			Path:        "/network",
			Summary:     "List buffered network requests",
			Tags:        tags,
		},
		func(ctx context.Context, input *NetworkRequest) (*NetworkResponse, error) {
			return handleNetwork(network, connections, input)
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "getNetworkStats",
			Method:      http.MethodGet,
			Path:        "/network/stats",
			Summary:     "Aggregate buffered network requests by method, status class and host",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*NetworkStatsResponse, error) {
			return handleNetworkStats(network, connections), nil
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "getNetworkRequest",
			Method:      http.MethodGet,
			Path:        "/network/requests/{id}",
			Summary:     "Get one buffered network request",
			Tags:        tags,
		},
		func(ctx context.Context, input *NetworkRecordRequest) (*NetworkRecordResponse, error) {
			return handleNetworkRecord(network, input.ID)
		},
	)

	huma.Register(
		routerAPI,
		huma.Operation{
			OperationID: "clearNetwork",
			Method:      http.MethodDelete,
			Path:        "/network",
			Summary:     "Discard every buffered network request",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ClearResponse, error) {
			resp := &ClearResponse{}
			resp.Body.Cleared = network.Clear()
			return resp, nil
		},
	)
}

func handleNetwork(
	network contracts.NetworkReader,
	connections contracts.ConnectionHealthMonitor,
	input *NetworkRequest,
) (*NetworkResponse, error) {
	records := network.Query(buffer.NetworkQuery{
		Method:     input.Method,
		Status:     input.Status,
		URL:        input.URL,
		StartAfter: input.Since,
		Limit:      input.Limit,
	})

	wrapped := make([]DomainNetworkRecord, len(records))
	for i, r := range records {
		wrapped[i] = DomainNetworkRecord(r)
	}
	converted, err := convertAll(wrapped)
	if err != nil {
		return nil, err
	}

	resp := &NetworkResponse{}
	resp.Body.Requests = converted
	resp.Body.Buffered = network.Len()
	resp.Body.Capacity = network.Cap()
	resp.Body.Warnings = gapWarnings(connections)
	return resp, nil
}

func handleNetworkStats(
	network contracts.NetworkReader,
	connections contracts.ConnectionHealthMonitor,
) *NetworkStatsResponse {
	stats := network.Stats()

	resp := &NetworkStatsResponse{}
	resp.Body.Total = stats.Total
	resp.Body.Completed = stats.Completed
	resp.Body.Pending = stats.Pending
	resp.Body.Failed = stats.Failed
	resp.Body.ByMethod = stats.ByMethod
	resp.Body.ByStatusClass = stats.ByStatusClass
	resp.Body.ByHost = stats.ByHost
	resp.Body.Warnings = gapWarnings(connections)
	return resp
}

func handleNetworkRecord(network contracts.NetworkReader, id string) (*NetworkRecordResponse, error) {
	rec, ok := network.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNetworkRequestNotFound, id)
	}

	data, err := DomainNetworkRecord(rec).ToAPIType()
	if err != nil {
		return nil, err
	}
	return &NetworkRecordResponse{Body: data}, nil
}
