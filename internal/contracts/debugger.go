package contracts

import (
	"context"
	"time"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/engine"
)

// ConnectionHealthMonitor provides read access to per-connection health and connectivity gaps.
type ConnectionHealthMonitor interface {
	// Status returns the health for a single connection key.
	Status(key domain.ConnectionKey) (domain.ConnectionHealth, error)

	// List returns a copy of all tracked connection health records.
	List() []domain.ConnectionHealth

	// GapWarnings describes gaps that closed within window of now.
	GapWarnings(now time.Time, window time.Duration) []string
}

// ContextHealthMonitor provides read access to execution-context health.
type ContextHealthMonitor interface {
	// List returns a copy of all tracked execution-context health records.
	List() []domain.ContextHealth
}

// LogReader queries and resets buffered log entries.
type LogReader interface {
	Query(q buffer.LogQuery) []domain.LogEntry
	Summarize(recent int) buffer.LogSummary
	Len() int
	Cap() int
	Clear() int
}

// NetworkReader queries and resets buffered network records.
type NetworkReader interface {
	Query(q buffer.NetworkQuery) []domain.NetworkRecord
	Get(requestID string) (domain.NetworkRecord, bool)
	Stats() buffer.NetworkStats
	Len() int
	Cap() int
	Clear() int
}

// Debugger exposes the operations that act on the connected app.
type Debugger interface {
	// Scan lists running packagers and their targets.
	Scan(ctx context.Context) ([]engine.ScanResult, error)

	// ConnectTo connects to a target, discovering one when port is zero.
	ConnectTo(ctx context.Context, port int, targetID string) (string, error)

	// Evaluate runs a JavaScript expression in the app.
	Evaluate(ctx context.Context, expression string, opts engine.EvalOptions) (string, error)

	// EvalDefaults returns the configured evaluation policy.
	EvalDefaults() engine.EvalOptions

	// ReloadApp reloads the app's JavaScript and reconnects.
	ReloadApp(ctx context.Context) (string, error)

	// CheckHealth probes the active execution context.
	CheckHealth(ctx context.Context) (domain.ContextHealth, error)
}
