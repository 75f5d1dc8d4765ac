package engine

import (
	"context"
	"fmt"

	"github.com/rndebug/rndebug/internal/cdp"
	errs "github.com/rndebug/rndebug/internal/errors"
)

// Reload methods reported by reloadExpression.
const (
	ReloadFastRefresh = "fast-refresh"
	ReloadDevSettings = "dev-settings"
	reloadUnavailable = "unavailable"
)

const reloadExpression = `(function() {
  if (typeof __ReactRefresh !== 'undefined' && __ReactRefresh && typeof __ReactRefresh.performFullRefresh === 'function') {
    __ReactRefresh.performFullRefresh('rndebug');
    return 'fast-refresh';
  }
  if (typeof __DevSettings !== 'undefined' && __DevSettings && typeof __DevSettings.reload === 'function') {
    __DevSettings.reload();
    return 'dev-settings';
  }
  return 'unavailable';
})()`

// ReloadApp triggers a full JavaScript reload and reconnects to the reloaded runtime.
// The fresh connection does not auto-reconnect until it has outlived the stability window,
// so drops caused by the reload itself are not chased.
func (e *Engine) ReloadApp(ctx context.Context) (string, error) {
	c, err := e.connection(ctx, true, nil)
	if err != nil {
		return "", err
	}
	port, targetID := c.Port, c.Target.ID

	method, err := c.Call(ctx, cdp.MethodRuntimeEvaluate, map[string]any{
		"expression":    reloadExpression,
		"returnByValue": true,
	}, e.opts.RequestTimeout)
	if err != nil {
		return "", newError(errs.ErrEvaluationFailed, fmt.Sprintf("failed to trigger reload: %v", err))
	}
	if method == reloadUnavailable {
		return "", newError(errs.ErrReloadUnavailable,
			"neither fast refresh nor DevSettings is available; reload requires a development build")
	}

	e.logger.Info("Reload triggered", "method", method, "connection", c.Key)
	if err := sleep(ctx, e.opts.ReloadSettleDelay); err != nil {
		return "", err
	}

	closed := e.manager.CloseAllOnPort(port, "app reload")
	e.logger.Debug("Closed connections for reload", "port", port, "count", closed)

	if err := sleep(ctx, e.opts.ReloadCleanupDelay); err != nil {
		return "", err
	}

	msg, err := e.reconnect(ctx, port, targetID, false)
	if err != nil {
		return "", notConnected(fmt.Sprintf("app reloaded via %s but reconnecting failed: %v", method, err))
	}
	return fmt.Sprintf("App reloaded via %s. %s", method, msg), nil
}
