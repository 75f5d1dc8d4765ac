package domain

import (
	"fmt"
	"time"
)

// TargetDescriptor describes one debuggable JavaScript runtime listed by the inspector proxy.
type TargetDescriptor struct {
	ID           string
	Title        string
	Description  string
	TransportURL string
	DisplayName  string
}

// ConnectionKey identifies a connection by the inspector port and the target it points at.
type ConnectionKey struct {
	Port     int
	TargetID string
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%d-%s", k.Port, k.TargetID)
}

// ConnectionMetadata is the snapshot the reconnection path uses to find its way back to a target.
type ConnectionMetadata struct {
	Port         int
	Target       TargetDescriptor
	TransportURL string
	SavedAt      time.Time
}
