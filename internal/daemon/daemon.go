// Package daemon runs the long-lived debugger process: the HTTP API, the optional MCP stdio
// transport and the periodic execution-context health check.
package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/errors"
)

// Daemon manages the API server, the MCP transport and background health checks.
type Daemon struct {
	logger              hclog.Logger
	apiServer           *APIServer
	debugger            contracts.Debugger
	stopper             Stopper
	mcpServer           *server.MCPServer
	mcpIn               io.Reader
	mcpOut              io.Writer
	autoConnect         bool
	healthCheckInterval time.Duration
	healthCheckTimeout  time.Duration
}

// NewDaemon creates a new Daemon instance with the provided dependencies and options.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for daemon: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	if opts.MCPIn != nil && deps.MCPServer == nil {
		return nil, fmt.Errorf("MCP stdio configured without an MCP server")
	}

	apiServer, err := NewAPIServer(deps.api(), opts.APIOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return &Daemon{
		logger:              deps.Logger.Named("daemon"),
		apiServer:           apiServer,
		debugger:            deps.Debugger,
		stopper:             deps.Stopper,
		mcpServer:           deps.MCPServer,
		mcpIn:               opts.MCPIn,
		mcpOut:              opts.MCPOut,
		autoConnect:         opts.AutoConnect,
		healthCheckInterval: opts.HealthCheckInterval,
		healthCheckTimeout:  opts.HealthCheckTimeout,
	}, nil
}

// StartAndManage runs every daemon task until ctx is canceled, a task fails,
// or the MCP client closes its stdio stream.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		d.logger.Info("Closing debugger connections")
		d.stopper.Shutdown()
	}()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := d.apiServer.Start(gctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})

	if d.mcpIn != nil {
		g.Go(func() error {
			// The MCP client owns the process lifetime.
			defer cancel()
			return d.serveMCP(gctx)
		})
	}

	if d.autoConnect {
		g.Go(func() error {
			d.connectOnStartup(gctx)
			return nil
		})
	}

	g.Go(func() error {
		d.healthCheckLoop(gctx, d.healthCheckInterval, d.healthCheckTimeout)
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Daemon) serveMCP(ctx context.Context) error {
	d.logger.Info("Serving MCP over stdio")

	stdio := server.NewStdioServer(d.mcpServer)
	stdio.SetErrorLogger(log.New(d.logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true}), "", 0))

	err := stdio.Listen(ctx, d.mcpIn, d.mcpOut)
	if err != nil && !stdErrors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio transport failed: %w", err)
	}

	d.logger.Info("MCP client disconnected")
	return nil
}

func (d *Daemon) connectOnStartup(ctx context.Context) {
	msg, err := d.debugger.ConnectTo(ctx, 0, "")
	switch {
	case err == nil:
		d.logger.Info("Auto-connect succeeded", "result", msg)
	case stdErrors.Is(err, context.Canceled):
	default:
		// Not fatal: the first tool call will retry discovery.
		d.logger.Warn("Auto-connect failed", "error", err)
	}
}

func (d *Daemon) healthCheckLoop(ctx context.Context, interval time.Duration, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping execution context health checks")
			return
		case <-ticker.C:
			d.checkHealth(ctx, timeout)
		}
	}
}

func (d *Daemon) checkHealth(ctx context.Context, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := d.debugger.CheckHealth(probeCtx)
	switch {
	case stdErrors.Is(err, errors.ErrNotConnected):
		d.logger.Trace("Skipping health check, not connected")
	case err != nil:
		d.logger.Warn("Health check failed", "error", err)
	case h.IsStale:
		d.logger.Warn("Execution context is stale", "reason", h.StaleReason)
	default:
		d.logger.Debug("Health check passed", "connection", h.Key.String())
	}
}
