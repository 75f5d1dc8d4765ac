// Package engine runs JavaScript in the connected app. It validates and wraps
// expressions, keeps a live connection behind every call and retries failures
// that reconnection can fix.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/connection"
	"github.com/rndebug/rndebug/internal/domain"
	errs "github.com/rndebug/rndebug/internal/errors"
)

// contextLossPhrases are runtime messages meaning the evaluation target no longer exists.
var contextLossPhrases = []string{
	"cannot find context with specified id",
	"execution context was destroyed",
	"cannot find default execution context",
	"inspected target navigated or closed",
	"context with specified id not found",
}

// EvalOptions tune a single Evaluate call.
type EvalOptions struct {
	// AwaitPromise waits for a returned promise to settle.
	AwaitPromise bool

	// MaxRetries is how many times a recoverable failure is retried.
	MaxRetries int

	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration

	// AutoReconnect allows connecting when no live connection exists.
	AutoReconnect bool
}

// ScanResult is one packager port and the targets it advertises.
type ScanResult struct {
	Port      int
	Targets   []domain.TargetDescriptor
	Preferred *domain.TargetDescriptor
}

// Engine executes expressions against the active connection.
type Engine struct {
	logger    hclog.Logger
	manager   ConnectionManager
	discovery Discoverer
	contexts  ContextTracker
	opts      Options
}

// NewEngine creates an Engine.
func NewEngine(deps Dependencies, opt ...Option) (*Engine, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	return &Engine{
		logger:    deps.Logger.Named("engine"),
		manager:   deps.Manager,
		discovery: deps.Discovery,
		contexts:  deps.Contexts,
		opts:      opts,
	}, nil
}

// EvalDefaults returns the configured retry policy with auto-reconnect enabled.
func (e *Engine) EvalDefaults() EvalOptions {
	return EvalOptions{
		MaxRetries:    e.opts.MaxRetries,
		RetryDelay:    e.opts.RetryDelay,
		AutoReconnect: true,
	}
}

// Evaluate runs expression in the app and returns its rendered value.
func (e *Engine) Evaluate(ctx context.Context, expression string, opts EvalOptions) (string, error) {
	wrapped, err := Prepare(expression)
	if err != nil {
		return "", err
	}

	params := map[string]any{
		"expression":    wrapped,
		"returnByValue": true,
		"awaitPromise":  opts.AwaitPromise,
	}

	var lastErr error
	var previous *connection.Connection
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				return "", err
			}
			e.logger.Debug("Retrying evaluation", "attempt", attempt, "lastError", lastErr)
		}

		c, err := e.connection(ctx, opts.AutoReconnect, previous)
		if err != nil {
			if !opts.AutoReconnect || ctx.Err() != nil {
				return "", err
			}
			lastErr = err
			continue
		}

		value, err := c.Call(ctx, cdp.MethodRuntimeEvaluate, params, e.opts.RequestTimeout)
		if err == nil {
			return value, nil
		}

		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, cdp.ErrRequestTimeout):
			return "", newError(errs.ErrEvaluationTimeout, fmt.Sprintf(
				"no reply within %s; the JS thread may be blocked or the expression never settled", e.opts.RequestTimeout,
			))
		case isContextLoss(err):
			e.logger.Info("Execution context lost, reconnecting", "connection", c.Key, "error", err)
			e.manager.ForceClose(c.Key, "execution context lost")
			previous = c
			lastErr = newError(errs.ErrContextLost, err.Error())
			if !opts.AutoReconnect {
				return "", lastErr
			}
		case errors.Is(err, cdp.ErrConnClosed):
			previous = c
			lastErr = notConnected(err.Error())
			if !opts.AutoReconnect {
				return "", lastErr
			}
		default:
			return "", newError(errs.ErrEvaluationFailed, err.Error())
		}
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", newError(errs.ErrRetriesExhausted, errs.ErrRetriesExhausted.Error())
}

// connection returns a live connection whose execution context is usable, connecting if allowed.
// previous is the connection that last failed, reconnected to before scanning other ports.
func (e *Engine) connection(
	ctx context.Context,
	autoReconnect bool,
	previous *connection.Connection,
) (*connection.Connection, error) {
	c, ok := e.manager.Active()
	if ok {
		h, tracked := e.contexts.Get(c.Key)
		if !tracked || !h.IsStale || !autoReconnect {
			return c, nil
		}
		e.logger.Info("Execution context is stale, reconnecting", "connection", c.Key, "reason", h.StaleReason)
		e.manager.ForceClose(c.Key, "stale execution context")
		previous = c
	}
	if !autoReconnect {
		return nil, notConnected("not connected to a React Native app; connect first or enable auto-reconnect")
	}

	connected := false
	if previous != nil {
		_, err := e.reconnect(ctx, previous.Port, previous.Target.ID, true)
		if err != nil {
			e.logger.Debug("Reconnect to previous target failed", "connection", previous.Key, "error", err)
		}
		connected = err == nil
	}
	if !connected {
		if _, err := e.AutoConnect(ctx); err != nil {
			return nil, err
		}
	}

	c, ok = e.manager.Active()
	if !ok {
		return nil, notConnected("connection dropped right after connecting")
	}
	return c, nil
}

// AutoConnect scans for packagers and connects to the preferred target of the first one that has any.
func (e *Engine) AutoConnect(ctx context.Context) (string, error) {
	results, err := e.Scan(ctx)
	if err != nil {
		return "", err
	}

	for _, r := range results {
		if r.Preferred == nil {
			continue
		}
		msg, err := e.manager.Connect(ctx, *r.Preferred, r.Port, connection.ConnectOptions{AutoReconnect: true})
		if err != nil {
			e.logger.Warn("Auto-connect failed", "port", r.Port, "target", r.Preferred.ID, "error", err)
			continue
		}
		return msg, nil
	}

	return "", newError(errs.ErrNoTargets, "found a packager but no debuggable target; is the app running?")
}

// Scan lists running packagers and their debuggable targets.
func (e *Engine) Scan(ctx context.Context) ([]ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DiscoveryTimeout)
	defer cancel()

	ports, err := e.discovery.ListCandidatePorts(ctx)
	if err != nil {
		return nil, newError(errs.ErrNoTargets, fmt.Sprintf("failed to scan for packagers: %v", err))
	}
	if len(ports) == 0 {
		return nil, newError(errs.ErrNoTargets, "no running Metro bundler found; start it with 'npx react-native start' or 'npx expo start'")
	}

	results := make([]ScanResult, 0, len(ports))
	for _, port := range ports {
		targets, err := e.discovery.FetchTargets(ctx, port)
		if err != nil {
			e.logger.Debug("Failed to list targets", "port", port, "error", err)
			continue
		}
		results = append(results, ScanResult{
			Port:      port,
			Targets:   targets,
			Preferred: e.discovery.SelectPreferred(targets),
		})
	}
	return results, nil
}

// ConnectTo connects to targetID on port, or to the port's preferred target when targetID is empty.
// A zero port falls back to AutoConnect.
func (e *Engine) ConnectTo(ctx context.Context, port int, targetID string) (string, error) {
	if port == 0 {
		return e.AutoConnect(ctx)
	}
	return e.reconnect(ctx, port, targetID, true)
}

// reconnect connects to port, preferring targetID over the port's preferred target.
func (e *Engine) reconnect(ctx context.Context, port int, targetID string, autoReconnect bool) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.DiscoveryTimeout)
	targets, err := e.discovery.FetchTargets(fetchCtx, port)
	cancel()
	if err != nil {
		return "", newError(errs.ErrNoTargets, fmt.Sprintf("failed to list targets on port %d: %v", port, err))
	}

	target := e.discovery.SelectPreferred(targets)
	if i := slices.IndexFunc(targets, func(t domain.TargetDescriptor) bool { return t.ID == targetID }); i >= 0 {
		target = &targets[i]
	}
	if target == nil {
		return "", newError(errs.ErrNoTargets, fmt.Sprintf("no debuggable target on port %d", port))
	}

	msg, err := e.manager.Connect(ctx, *target, port, connection.ConnectOptions{
		AutoReconnect:      autoReconnect,
		RearmAutoReconnect: !autoReconnect,
	})
	if err != nil {
		return "", notConnected(err.Error())
	}
	return msg, nil
}

// CheckHealth probes the active connection's execution context and records the outcome.
func (e *Engine) CheckHealth(ctx context.Context) (domain.ContextHealth, error) {
	c, ok := e.manager.Active()
	if !ok {
		return domain.ContextHealth{}, notConnected("no active connection to probe")
	}

	_, err := c.Call(ctx, cdp.MethodRuntimeEvaluate, map[string]any{
		"expression":    "1",
		"returnByValue": true,
	}, e.opts.ProbeTimeout)

	reason := ""
	if err != nil {
		reason = "health check failed: " + err.Error()
		e.logger.Debug("Health probe failed", "connection", c.Key, "error", err)
	}
	e.contexts.RecordProbe(c.Key, err == nil, reason, time.Now())

	h, _ := e.contexts.Get(c.Key)
	return h, nil
}

func isContextLoss(err error) bool {
	var remote *cdp.RemoteError
	if !errors.As(err, &remote) {
		return false
	}

	msg := strings.ToLower(remote.Message)
	return slices.ContainsFunc(contextLossPhrases, func(phrase string) bool {
		return strings.Contains(msg, phrase)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
