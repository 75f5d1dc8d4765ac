package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/cdptest"
	"github.com/rndebug/rndebug/internal/connection"
	"github.com/rndebug/rndebug/internal/discover"
	errs "github.com/rndebug/rndebug/internal/errors"
	"github.com/rndebug/rndebug/internal/health"
)

const eventually = 3 * time.Second

type fixture struct {
	rt       *cdptest.Runtime
	engine   *Engine
	manager  *connection.Manager
	pending  *cdp.Pending
	contexts *health.ContextTracker
}

func newFixture(t *testing.T, rtOpts []cdptest.Option, opts ...Option) fixture {
	t.Helper()

	rt := cdptest.New(rtOpts...)
	t.Cleanup(rt.Close)

	logger := hclog.NewNullLogger()
	pending := cdp.NewPending()
	contexts := health.NewContextTracker()

	router, err := cdp.NewRouter(logger, pending, buffer.NewLogBuffer(100), buffer.NewNetworkBuffer(100), contexts)
	require.NoError(t, err)

	disc, err := discover.NewClient(logger, discover.WithHost(rt.Host()), discover.WithPorts(rt.Port()))
	require.NoError(t, err)

	manager, err := connection.NewManager(connection.Dependencies{
		Logger:    logger,
		Dialer:    cdp.WebSocketDialer{},
		Router:    router,
		Pending:   pending,
		Ledger:    health.NewLedger(0),
		Contexts:  contexts,
		Discovery: disc,
	}, connection.WithBackoffSchedule([]time.Duration{time.Hour}))
	require.NoError(t, err)
	t.Cleanup(manager.Shutdown)

	opts = append([]Option{WithRetryDelay(10 * time.Millisecond), WithReloadDelays(10*time.Millisecond, 10*time.Millisecond)}, opts...)
	e, err := NewEngine(Dependencies{
		Logger:    logger,
		Manager:   manager,
		Discovery: disc,
		Contexts:  contexts,
	}, opts...)
	require.NoError(t, err)

	return fixture{rt: rt, engine: e, manager: manager, pending: pending, contexts: contexts}
}

func (f fixture) connect(t *testing.T) *connection.Connection {
	t.Helper()

	_, err := f.engine.AutoConnect(context.Background())
	require.NoError(t, err)
	c, ok := f.manager.Active()
	require.True(t, ok)
	require.Eventually(t, func() bool {
		h, ok := f.contexts.Get(c.Key)
		return ok && h.ContextID != nil
	}, eventually, 5*time.Millisecond)
	return c
}

func TestNewEngine_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Dependencies{})
	require.EqualError(t, err, "invalid dependencies: logger cannot be nil")

	var manager *connection.Manager
	_, err = NewEngine(Dependencies{Logger: hclog.NewNullLogger(), Manager: manager})
	require.EqualError(t, err, "invalid dependencies: connection manager cannot be nil")

	_, err = NewOptions(WithRequestTimeout(0))
	require.Error(t, err)
	_, err = NewOptions(WithMaxRetries(-1))
	require.Error(t, err)
	_, err = NewOptions(WithReloadDelays(-1, 0))
	require.Error(t, err)
}

func TestEngine_EvaluateAutoConnects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	got, err := f.engine.Evaluate(context.Background(), "1 + 1", f.engine.EvalDefaults())
	require.NoError(t, err)
	require.Equal(t, "2", got)
	require.Equal(t, 1, f.rt.Accepted())

	got, err = f.engine.Evaluate(context.Background(), "'hello ' + 'world'", f.engine.EvalDefaults())
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
	require.Equal(t, 1, f.rt.Accepted(), "second call reuses the connection")

	got, err = f.engine.Evaluate(context.Background(), "({name: 'app', tags: ['a', 'b']})", f.engine.EvalDefaults())
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"app","tags":["a","b"]}`, got)
}

func TestEngine_EvaluateAwaitsPromise(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	opts := f.engine.EvalDefaults()
	opts.AwaitPromise = true
	got, err := f.engine.Evaluate(context.Background(), "Promise.resolve(41).then(v => v + 1)", opts)
	require.NoError(t, err)
	require.Equal(t, "42", got)
}

func TestEngine_AsyncRejectedBeforeDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, err := f.engine.Evaluate(context.Background(), "async () => { await fetch('/api') }", f.engine.EvalDefaults())
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Contains(t, err.Error(), ".then(")

	require.Zero(t, f.pending.Len())
	require.Zero(t, f.rt.Accepted())
	require.Empty(t, f.rt.Evaluations())
}

func TestEngine_ExceptionTextSurfacedVerbatim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.rt.SetEvaluateHandler(func(string) (cdptest.Reply, bool) {
		return cdptest.Reply{Result: map[string]any{
			"result":           map[string]any{"type": "object"},
			"exceptionDetails": map[string]any{"text": "X"},
		}}, true
	})

	_, err := f.engine.Evaluate(context.Background(), "doSomething()", f.engine.EvalDefaults())
	require.ErrorIs(t, err, errs.ErrEvaluationFailed)
	require.EqualError(t, err, "X")
	require.Len(t, f.rt.Evaluations(), 1, "protocol failures are not retried")

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, errs.ErrEvaluationFailed, engineErr.Kind)
}

func TestEngine_ThrownError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, err := f.engine.Evaluate(context.Background(), "(() => { throw new Error('boom') })()", f.engine.EvalDefaults())
	require.ErrorIs(t, err, errs.ErrEvaluationFailed)
	require.Contains(t, err.Error(), "boom")
}

func TestEngine_ContextLossReconnectsAndRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.connect(t)

	var calls atomic.Int32
	f.rt.SetEvaluateHandler(func(string) (cdptest.Reply, bool) {
		if calls.Add(1) == 1 {
			return cdptest.ErrorReply(-32000, "Cannot find context with specified id"), true
		}
		return cdptest.Reply{}, false
	})

	got, err := f.engine.Evaluate(context.Background(), "1 + 2", f.engine.EvalDefaults())
	require.NoError(t, err)
	require.Equal(t, "3", got)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, 2, f.rt.Accepted(), "the stale transport is replaced")
}

func TestEngine_ContextLossWithoutAutoReconnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.connect(t)
	f.rt.SetEvaluateHandler(func(string) (cdptest.Reply, bool) {
		return cdptest.ErrorReply(-32000, "Execution context was destroyed."), true
	})

	opts := f.engine.EvalDefaults()
	opts.AutoReconnect = false
	_, err := f.engine.Evaluate(context.Background(), "1", opts)
	require.ErrorIs(t, err, errs.ErrContextLost)

	_, ok := f.manager.Active()
	require.False(t, ok)
}

func TestEngine_PersistentContextLossExhaustsRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.rt.SetEvaluateHandler(func(string) (cdptest.Reply, bool) {
		return cdptest.ErrorReply(-32000, "Inspected target navigated or closed"), true
	})

	opts := f.engine.EvalDefaults()
	opts.MaxRetries = 2
	_, err := f.engine.Evaluate(context.Background(), "1", opts)
	require.ErrorIs(t, err, errs.ErrContextLost)
	require.Contains(t, err.Error(), "Inspected target navigated or closed")
	require.Len(t, f.rt.Evaluations(), 3)
}

func TestEngine_StaleContextReconnectsFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.connect(t)

	f.rt.Emit(cdp.MethodExecutionContextsCleared, map[string]any{})
	require.Eventually(t, func() bool {
		h, _ := f.contexts.Get(c.Key)
		return h.IsStale
	}, eventually, 5*time.Millisecond)

	got, err := f.engine.Evaluate(context.Background(), "'fresh'", f.engine.EvalDefaults())
	require.NoError(t, err)
	require.Equal(t, "fresh", got)
	require.Equal(t, 2, f.rt.Accepted())
}

func TestEngine_Timeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, WithRequestTimeout(50*time.Millisecond))
	f.connect(t)
	f.rt.SetSilent(true)

	_, err := f.engine.Evaluate(context.Background(), "while (true) {}", f.engine.EvalDefaults())
	require.ErrorIs(t, err, errs.ErrEvaluationTimeout)
	require.Zero(t, f.pending.Len())
	require.Len(t, f.rt.Evaluations(), 1, "timeouts are not retried")
}

func TestEngine_NotConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	opts := f.engine.EvalDefaults()
	opts.AutoReconnect = false
	_, err := f.engine.Evaluate(context.Background(), "1", opts)
	require.ErrorIs(t, err, errs.ErrNotConnected)
	require.Zero(t, f.rt.Accepted())
}

func TestEngine_NoPackagerReturnsLastError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []cdptest.Option{cdptest.WithoutPackager()})

	_, err := f.engine.Evaluate(context.Background(), "1", f.engine.EvalDefaults())
	require.ErrorIs(t, err, errs.ErrNoTargets)
	require.Contains(t, err.Error(), "no running Metro bundler")
}

func TestEngine_ScanAndConnectTo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []cdptest.Option{cdptest.WithTargets(
		cdptest.Target{ID: "worklet", Title: "React Native Experimental (Reanimated)"},
		cdptest.Target{ID: "main", Title: "Hermes React Native"},
	)})

	results, err := f.engine.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, f.rt.Port(), results[0].Port)
	require.Len(t, results[0].Targets, 2)
	require.NotNil(t, results[0].Preferred)
	require.Equal(t, "main", results[0].Preferred.ID)

	msg, err := f.engine.ConnectTo(context.Background(), f.rt.Port(), "worklet")
	require.NoError(t, err)
	require.Contains(t, msg, "Connected to")

	c, ok := f.manager.Active()
	require.True(t, ok)
	require.Equal(t, "worklet", c.Target.ID)
	require.True(t, c.AutoReconnect())
}

func TestEngine_ReloadApp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		install func(*cdptest.Runtime)
		method  string
	}{
		{name: "fast refresh preferred", install: func(r *cdptest.Runtime) { r.InstallFastRefresh(); r.InstallDevSettings() }, method: ReloadFastRefresh},
		{name: "dev settings fallback", install: (*cdptest.Runtime).InstallDevSettings, method: ReloadDevSettings},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			tc.install(f.rt)

			msg, err := f.engine.ReloadApp(context.Background())
			require.NoError(t, err)
			require.Contains(t, msg, "App reloaded via "+tc.method)
			require.Equal(t, 1, f.rt.Reloads())
			require.Equal(t, 2, f.rt.Accepted(), "auto-connect then one fresh connect")

			c, ok := f.manager.Active()
			require.True(t, ok)
			require.False(t, c.AutoReconnect())
			require.Len(t, f.manager.Connections(), 1)
		})
	}
}

func TestEngine_ReloadUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, err := f.engine.ReloadApp(context.Background())
	require.ErrorIs(t, err, errs.ErrReloadUnavailable)
	require.Equal(t, 0, f.rt.Reloads())
	require.Equal(t, 1, f.rt.Accepted())
}

func TestEngine_CheckHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, WithProbeTimeout(50*time.Millisecond))

	_, err := f.engine.CheckHealth(context.Background())
	require.ErrorIs(t, err, errs.ErrNotConnected)

	c := f.connect(t)
	h, err := f.engine.CheckHealth(context.Background())
	require.NoError(t, err)
	require.Equal(t, c.Key, h.Key)
	require.True(t, h.LastHealthCheckSucceeded)
	require.False(t, h.IsStale)
	require.NotNil(t, h.LastHealthCheckAt)

	f.rt.SetSilent(true)
	h, err = f.engine.CheckHealth(context.Background())
	require.NoError(t, err)
	require.False(t, h.LastHealthCheckSucceeded)
	require.True(t, h.IsStale)
	require.Contains(t, h.StaleReason, "health check failed")
}

var (
	_ ContextTracker    = (*health.ContextTracker)(nil)
	_ ConnectionManager = (*connection.Manager)(nil)
	_ Discoverer        = (*discover.Client)(nil)
)
