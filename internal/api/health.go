package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/domain"
)

const (
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusSuperseded   ConnectionStatus = "superseded"
)

// DomainConnectionHealth is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainConnectionHealth domain.ConnectionHealth

// DomainContextHealth is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainContextHealth domain.ContextHealth

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

// Gap is a period during which a connection was down.
type Gap struct {
	OpenedAt time.Time  `json:"openedAt"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
	Duration string     `json:"duration"`
	Reason   string     `json:"reason,omitempty"`
}

// ConnectionHealth describes one connection key's reliability.
type ConnectionHealth struct {
	Port                 int              `json:"port"`
	TargetID             string           `json:"targetId"`
	Status               ConnectionStatus `json:"status"`
	LastConnectedAt      *time.Time       `json:"lastConnectedAt,omitempty"`
	LastDisconnectedAt   *time.Time       `json:"lastDisconnectedAt,omitempty"`
	ReconnectionAttempts uint             `json:"reconnectionAttempts"`
	NextReconnectDelay   *string          `json:"nextReconnectDelay,omitempty"`
	Exhausted            bool             `json:"exhausted"`
	LastError            string           `json:"lastError,omitempty"`
	Gaps                 []Gap            `json:"gaps"`
}

// ContextHealth describes whether a connection's execution context is usable.
type ContextHealth struct {
	Port                     int        `json:"port"`
	TargetID                 string     `json:"targetId"`
	ContextID                *int64     `json:"contextId,omitempty"`
	LastHealthCheckAt        *time.Time `json:"lastHealthCheckAt,omitempty"`
	LastHealthCheckSucceeded bool       `json:"lastHealthCheckSucceeded"`
	IsStale                  bool       `json:"isStale"`
	StaleReason              string     `json:"staleReason,omitempty"`
}

// ConnectionsHealthResponse is the response for GET /health/connections.
type ConnectionsHealthResponse struct {
	Body struct {
		Connections []ConnectionHealth `doc:"Tracked connection health" json:"connections"`
	}
}

// ConnectionHealthRequest identifies one connection.
type ConnectionHealthRequest struct {
	Port   int    `doc:"Packager port"      example:"8081"  path:"port"`
	Target string `doc:"Inspector target id" example:"page1" path:"target"`
}

// ConnectionHealthResponse represents the wrapped API response for a ConnectionHealth.
type ConnectionHealthResponse struct {
	Body ConnectionHealth
}

// ContextsHealthResponse is the response for GET /health/contexts.
type ContextsHealthResponse struct {
	Body struct {
		Contexts []ContextHealth `doc:"Tracked execution-context health" json:"contexts"`
	}
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainConnectionHealth) ToAPIType() (ConnectionHealth, error) {
	status, err := parseConnectionStatus(d.Status)
	if err != nil {
		return ConnectionHealth{}, err
	}

	now := time.Now()
	gaps := make([]Gap, 0, len(d.Gaps))
	for _, g := range d.Gaps {
		gaps = append(gaps, Gap{
			OpenedAt: g.OpenedAt,
			ClosedAt: g.ClosedAt,
			Duration: g.Duration(now).Round(time.Millisecond).String(),
			Reason:   g.Reason,
		})
	}

	return ConnectionHealth{
		Port:                 d.Key.Port,
		TargetID:             d.Key.TargetID,
		Status:               status,
		LastConnectedAt:      d.LastConnectedAt,
		LastDisconnectedAt:   d.LastDisconnectedAt,
		ReconnectionAttempts: d.ReconnectionAttempts,
		NextReconnectDelay:   durationString(d.NextReconnectDelay),
		Exhausted:            d.Exhausted,
		LastError:            d.LastError,
		Gaps:                 gaps,
	}, nil
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainContextHealth) ToAPIType() (ContextHealth, error) {
	return ContextHealth{
		Port:                     d.Key.Port,
		TargetID:                 d.Key.TargetID,
		ContextID:                d.ContextID,
		LastHealthCheckAt:        d.LastHealthCheckAt,
		LastHealthCheckSucceeded: d.LastHealthCheckSucceeded,
		IsStale:                  d.IsStale,
		StaleReason:              d.StaleReason,
	}, nil
}

// RegisterHealthRoutes sets up health-related API endpoint routes.
func RegisterHealthRoutes(
	routerAPI huma.API,
	connections contracts.ConnectionHealthMonitor,
	contexts contracts.ContextHealthMonitor,
	apiPathPrefix string,
) {
	healthAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Health"}

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "listConnectionsHealth",
			Method:      http.MethodGet,
			Path:        "/connections",
			Summary:     "List the health of every tracked connection",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ConnectionsHealthResponse, error) {
			return handleConnectionsHealth(connections)
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "getConnectionHealth",
			Method:      http.MethodGet,
			Path:        "/connections/{port}/{target}",
			Summary:     "Get the health of one connection",
			Tags:        tags,
		},
		func(ctx context.Context, input *ConnectionHealthRequest) (*ConnectionHealthResponse, error) {
			return handleConnectionHealth(connections, domain.ConnectionKey{Port: input.Port, TargetID: input.Target})
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "listContextsHealth",
			Method:      http.MethodGet,
			Path:        "/contexts",
			Summary:     "List the health of every tracked execution context",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ContextsHealthResponse, error) {
			return handleContextsHealth(contexts)
		},
	)
}

func handleConnectionsHealth(monitor contracts.ConnectionHealthMonitor) (*ConnectionsHealthResponse, error) {
	items := monitor.List()
	wrapped := make([]DomainConnectionHealth, len(items))
	for i, h := range items {
		wrapped[i] = DomainConnectionHealth(h)
	}

	conns, err := convertAll(wrapped)
	if err != nil {
		return nil, err
	}

	resp := &ConnectionsHealthResponse{}
	resp.Body.Connections = conns
	return resp, nil
}

func handleConnectionHealth(
	monitor contracts.ConnectionHealthMonitor,
	key domain.ConnectionKey,
) (*ConnectionHealthResponse, error) {
	health, err := monitor.Status(key)
	if err != nil {
		return nil, err
	}

	data, err := DomainConnectionHealth(health).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ConnectionHealthResponse{Body: data}, nil
}

func handleContextsHealth(monitor contracts.ContextHealthMonitor) (*ContextsHealthResponse, error) {
	items := monitor.List()
	wrapped := make([]DomainContextHealth, len(items))
	for i, h := range items {
		wrapped[i] = DomainContextHealth(h)
	}

	ctxs, err := convertAll(wrapped)
	if err != nil {
		return nil, err
	}

	resp := &ContextsHealthResponse{}
	resp.Body.Contexts = ctxs
	return resp, nil
}

func parseConnectionStatus(status domain.ConnectionStatus) (ConnectionStatus, error) {
	switch status {
	case domain.ConnectionStatusConnecting:
		return ConnectionStatusConnecting, nil
	case domain.ConnectionStatusConnected:
		return ConnectionStatusConnected, nil
	case domain.ConnectionStatusDisconnected:
		return ConnectionStatusDisconnected, nil
	case domain.ConnectionStatusReconnecting:
		return ConnectionStatusReconnecting, nil
	case domain.ConnectionStatusSuperseded:
		return ConnectionStatusSuperseded, nil
	default:
		return "", fmt.Errorf("unknown connection status: %s", status)
	}
}
