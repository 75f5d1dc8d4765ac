// Package debugger assembles the buffers, health tracking, connection manager
// and execution engine into one running instance.
package debugger

import (
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/connection"
	"github.com/rndebug/rndebug/internal/discover"
	"github.com/rndebug/rndebug/internal/engine"
	"github.com/rndebug/rndebug/internal/health"
)

// Debugger owns every long-lived component. Shutdown releases them.
type Debugger struct {
	Logs      *buffer.LogBuffer
	Network   *buffer.NetworkBuffer
	Ledger    *health.Ledger
	Contexts  *health.ContextTracker
	Discovery *discover.Client
	Manager   *connection.Manager
	Engine    *engine.Engine
}

// Overrides replace pieces that tests or embedding callers need to control.
type Overrides struct {
	Dialer  cdp.Dialer
	Devices connection.DeviceResolver
}

// New builds a Debugger from cfg. A nil cfg uses every default.
func New(logger hclog.Logger, cfg *config.Config, overrides Overrides) (*Debugger, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	d := &Debugger{
		Logs:     buffer.NewLogBuffer(intOr(bufferLogs(cfg), 0)),
		Network:  buffer.NewNetworkBuffer(intOr(bufferNetwork(cfg), 0)),
		Ledger:   health.NewLedger(0),
		Contexts: health.NewContextTracker(),
	}

	pending := cdp.NewPending()
	router, err := cdp.NewRouter(logger, pending, d.Logs, d.Network, d.Contexts)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol router: %w", err)
	}

	d.Discovery, err = discover.NewClient(logger, discoveryOptions(cfg.Discovery)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	devices := overrides.Devices
	if devices == nil {
		var adbPath string
		if cfg.Discovery != nil && cfg.Discovery.ADBPath != nil {
			adbPath = *cfg.Discovery.ADBPath
		}
		devices, err = discover.NewADBResolver(logger, adbPath, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create device resolver: %w", err)
		}
	}

	dialer := overrides.Dialer
	if dialer == nil {
		dialer = cdp.WebSocketDialer{}
	}

	d.Manager, err = connection.NewManager(connection.Dependencies{
		Logger:    logger,
		Dialer:    dialer,
		Router:    router,
		Pending:   pending,
		Ledger:    d.Ledger,
		Contexts:  d.Contexts,
		Discovery: d.Discovery,
		Devices:   devices,
	}, connectionOptions(cfg.Connection)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	d.Engine, err = engine.NewEngine(engine.Dependencies{
		Logger:    logger,
		Manager:   d.Manager,
		Discovery: d.Discovery,
		Contexts:  d.Contexts,
	}, engineOptions(cfg.Execution)...)
	if err != nil {
		d.Manager.Shutdown()
		return nil, fmt.Errorf("failed to create execution engine: %w", err)
	}

	return d, nil
}

// Shutdown closes every connection and cancels pending reconnects.
func (d *Debugger) Shutdown() {
	d.Manager.Shutdown()
}

func discoveryOptions(s *config.DiscoveryConfigSection) []discover.Option {
	if s == nil {
		return nil
	}

	var opts []discover.Option
	if s.Host != nil {
		opts = append(opts, discover.WithHost(*s.Host))
	}
	if len(s.Ports) > 0 {
		opts = append(opts, discover.WithPorts(s.Ports...))
	}
	if s.Timeout != nil {
		opts = append(opts, discover.WithTimeout(time.Duration(*s.Timeout)))
	}
	return opts
}

func connectionOptions(s *config.ConnectionConfigSection) []connection.Option {
	if s == nil {
		return nil
	}

	var opts []connection.Option
	if s.ConnectTimeout != nil {
		opts = append(opts, connection.WithConnectTimeout(time.Duration(*s.ConnectTimeout)))
	}
	if s.StabilityWindow != nil {
		opts = append(opts, connection.WithStabilityWindow(time.Duration(*s.StabilityWindow)))
	}
	if s.MaxReconnectAttempts != nil {
		opts = append(opts, connection.WithMaxReconnectAttempts(*s.MaxReconnectAttempts))
	}
	if len(s.Backoff) > 0 {
		schedule := make([]time.Duration, 0, len(s.Backoff))
		for _, d := range s.Backoff {
			schedule = append(schedule, time.Duration(d))
		}
		opts = append(opts, connection.WithBackoffSchedule(schedule))
	}
	return opts
}

func engineOptions(s *config.ExecutionConfigSection) []engine.Option {
	if s == nil {
		return nil
	}

	var opts []engine.Option
	if s.RequestTimeout != nil {
		opts = append(opts, engine.WithRequestTimeout(time.Duration(*s.RequestTimeout)))
	}
	if s.MaxRetries != nil {
		opts = append(opts, engine.WithMaxRetries(*s.MaxRetries))
	}
	if s.RetryDelay != nil {
		opts = append(opts, engine.WithRetryDelay(time.Duration(*s.RetryDelay)))
	}
	if s.ReloadSettle != nil || s.ReloadCleanup != nil {
		settle, cleanup := engine.DefaultReloadSettleDelay(), engine.DefaultReloadCleanupDelay()
		if s.ReloadSettle != nil {
			settle = time.Duration(*s.ReloadSettle)
		}
		if s.ReloadCleanup != nil {
			cleanup = time.Duration(*s.ReloadCleanup)
		}
		opts = append(opts, engine.WithReloadDelays(settle, cleanup))
	}
	return opts
}

func bufferLogs(cfg *config.Config) *int {
	if cfg.Buffers == nil {
		return nil
	}
	return cfg.Buffers.Logs
}

func bufferNetwork(cfg *config.Config) *int {
	if cfg.Buffers == nil {
		return nil
	}
	return cfg.Buffers.Network
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
