package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/contracts"
)

// APIDependencies contains the required external dependencies for the API server.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g., "127.0.0.1:8090").
	Addr string

	// Connections reports per-connection health and gaps.
	Connections contracts.ConnectionHealthMonitor

	// Contexts reports execution-context health.
	Contexts contracts.ContextHealthMonitor

	// Logs is the log buffer.
	Logs contracts.LogReader

	// Network is the network buffer.
	Network contracts.NetworkReader

	// Logger for API server operations.
	Logger hclog.Logger
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := validateAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
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
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	return nil
}
