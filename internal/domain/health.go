package domain

import "time"

const (
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusSuperseded   ConnectionStatus = "superseded"
)

// ConnectionStatus represents the internal transport state for a connection key.
type ConnectionStatus string

// Gap is a period during which no connection was live for a key.
// ClosedAt is nil while the gap is still open.
type Gap struct {
	OpenedAt time.Time
	ClosedAt *time.Time
	Reason   string
}

// Duration returns how long the gap lasted, measured up to now when the gap is still open.
func (g Gap) Duration(now time.Time) time.Duration {
	if g.ClosedAt != nil {
		return g.ClosedAt.Sub(g.OpenedAt)
	}
	return now.Sub(g.OpenedAt)
}

// ConnectionHealth tracks the transport history of one connection key.
type ConnectionHealth struct {
	Key                  ConnectionKey
	Status               ConnectionStatus
	LastConnectedAt      *time.Time
	LastDisconnectedAt   *time.Time
	ReconnectionAttempts uint
	NextReconnectDelay   *time.Duration
	Exhausted            bool
	LastError            string
	Gaps                 []Gap
}

// ContextHealth tracks whether the remote execution context for a key can still run code.
type ContextHealth struct {
	Key                      ConnectionKey
	ContextID                *int64
	LastHealthCheckAt        *time.Time
	LastHealthCheckSucceeded bool
	IsStale                  bool
	StaleReason              string
}
