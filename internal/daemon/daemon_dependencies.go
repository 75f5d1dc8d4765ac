package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rndebug/rndebug/internal/contracts"
)

// Stopper releases long-lived resources such as open connections and reconnect timers.
type Stopper interface {
	Shutdown()
}

// Dependencies contains required dependencies for the Daemon.
type Dependencies struct {
	// APIAddr specifies the network address for the APIServer to bind (e.g., "127.0.0.1:8090").
	APIAddr string

	// Logger for daemon and subcomponent (API server) operations.
	Logger hclog.Logger

	// Debugger performs discovery, connection and evaluation.
	Debugger contracts.Debugger

	Connections contracts.ConnectionHealthMonitor
	Contexts    contracts.ContextHealthMonitor
	Logs        contracts.LogReader
	Network     contracts.NetworkReader

	// Stopper is shut down once every daemon task has returned.
	Stopper Stopper

	// MCPServer exposes the debugger as MCP tools. Optional unless stdio is configured.
	MCPServer *server.MCPServer
}

// Validate ensures all required dependencies are provided and valid.
func (d Dependencies) Validate() error {
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	if d.Debugger == nil || reflect.ValueOf(d.Debugger).IsNil() {
		return fmt.Errorf("debugger cannot be nil")
	}
	if d.Stopper == nil || reflect.ValueOf(d.Stopper).IsNil() {
		return fmt.Errorf("stopper cannot be nil")
	}

	return d.api().Validate()
}

func (d Dependencies) api() APIDependencies {
	return APIDependencies{
		Addr:        d.APIAddr,
		Connections: d.Connections,
		Contexts:    d.Contexts,
		Logs:        d.Logs,
		Network:     d.Network,
		Logger:      d.Logger,
	}
}
