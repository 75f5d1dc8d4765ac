package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/connection"
	"github.com/rndebug/rndebug/internal/domain"
)

// ConnectionManager is the subset of connection.Manager the Engine drives.
type ConnectionManager interface {
	Active() (*connection.Connection, bool)
	Connect(ctx context.Context, target domain.TargetDescriptor, port int, opts connection.ConnectOptions) (string, error)
	ForceClose(key domain.ConnectionKey, reason string) bool
	CloseAllOnPort(port int, reason string) int
}

// Discoverer locates inspector ports and their targets.
type Discoverer interface {
	ListCandidatePorts(ctx context.Context) ([]int, error)
	FetchTargets(ctx context.Context, port int) ([]domain.TargetDescriptor, error)
	SelectPreferred(targets []domain.TargetDescriptor) *domain.TargetDescriptor
}

// ContextTracker reads and records execution-context health.
type ContextTracker interface {
	Get(key domain.ConnectionKey) (domain.ContextHealth, bool)
	RecordProbe(key domain.ConnectionKey, ok bool, reason string, at time.Time)
}

// Dependencies contains required dependencies for the Engine.
type Dependencies struct {
	Logger    hclog.Logger
	Manager   ConnectionManager
	Discovery Discoverer
	Contexts  ContextTracker
}

// Validate ensures all required dependencies are provided.
func (d Dependencies) Validate() error {
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	if d.Manager == nil || reflect.ValueOf(d.Manager).IsNil() {
		return fmt.Errorf("connection manager cannot be nil")
	}
	if d.Discovery == nil || reflect.ValueOf(d.Discovery).IsNil() {
		return fmt.Errorf("discovery cannot be nil")
	}
	if d.Contexts == nil || reflect.ValueOf(d.Contexts).IsNil() {
		return fmt.Errorf("context tracker cannot be nil")
	}
	return nil
}
