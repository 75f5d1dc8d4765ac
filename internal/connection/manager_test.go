package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/cdptest"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/health"
)

const eventually = 2 * time.Second

var testTarget = domain.TargetDescriptor{
	ID:           "page1",
	Title:        "Hermes React Native",
	TransportURL: "ws://127.0.0.1:8081/inspector/debug?page=page1",
	DisplayName:  "Pixel_7",
}

var testKey = domain.ConnectionKey{Port: 8081, TargetID: "page1"}

type harness struct {
	manager   *Manager
	dialer    cdp.Dialer
	discovery *fakeDiscovery
	ledger    *health.Ledger
	contexts  *health.ContextTracker
	pending   *cdp.Pending
	logs      *buffer.LogBuffer
}

func newHarness(t *testing.T, dialer cdp.Dialer, opts ...Option) harness {
	t.Helper()

	return newHarnessWithDevices(t, dialer, fakeDevices{}, opts...)
}

func newHarnessWithDevices(t *testing.T, dialer cdp.Dialer, devices DeviceResolver, opts ...Option) harness {
	t.Helper()

	h := harness{
		dialer:    dialer,
		discovery: &fakeDiscovery{targets: []domain.TargetDescriptor{testTarget}},
		ledger:    health.NewLedger(0),
		contexts:  health.NewContextTracker(),
		pending:   cdp.NewPending(),
		logs:      buffer.NewLogBuffer(1000),
	}

	router, err := cdp.NewRouter(hclog.NewNullLogger(), h.pending, h.logs, buffer.NewNetworkBuffer(100), h.contexts)
	require.NoError(t, err)

	m, err := NewManager(Dependencies{
		Logger:    hclog.NewNullLogger(),
		Dialer:    dialer,
		Router:    router,
		Pending:   h.pending,
		Ledger:    h.ledger,
		Contexts:  h.contexts,
		Discovery: h.discovery,
		Devices:   devices,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	h.manager = m
	return h
}

func (h harness) status(t *testing.T, key domain.ConnectionKey) domain.ConnectionHealth {
	t.Helper()

	s, err := h.ledger.Status(key)
	require.NoError(t, err)
	return s
}

func TestDependencies_Validate(t *testing.T) {
	t.Parallel()

	var nilDialer *fakeDialer
	_, err := NewManager(Dependencies{Logger: hclog.NewNullLogger(), Dialer: nilDialer})
	require.ErrorContains(t, err, "dialer cannot be nil")

	_, err = NewManager(Dependencies{})
	require.ErrorContains(t, err, "logger cannot be nil")
}

func TestOptions(t *testing.T) {
	t.Parallel()

	opts, err := NewOptions()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, opts.ConnectTimeout)
	require.Equal(t, 8, opts.MaxReconnectAttempts)
	require.Equal(t, health.DefaultBackoffSchedule(), opts.BackoffSchedule)

	_, err = NewOptions(WithConnectTimeout(0))
	require.Error(t, err)
	_, err = NewOptions(WithBackoffSchedule(nil))
	require.EqualError(t, err, "backoff schedule cannot be empty")
	_, err = NewOptions(WithBackoffSchedule([]time.Duration{0, -time.Second}))
	require.Error(t, err)
	_, err = NewOptions(WithMaxReconnectAttempts(-1))
	require.Error(t, err)
	require.Equal(t, time.Second, opts.EnableTimeout)
	_, err = NewOptions(WithEnableTimeout(0))
	require.EqualError(t, err, "enable timeout must be positive, got 0s")
}

func TestManager_Connect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d)

	msg, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)
	require.Contains(t, msg, "Connected to Hermes React Native")

	s := h.status(t, testKey)
	require.Equal(t, domain.ConnectionStatusConnected, s.Status)
	require.NotNil(t, s.LastConnectedAt)

	ctxHealth, ok := h.contexts.Get(testKey)
	require.True(t, ok)
	require.False(t, ctxHealth.IsStale)

	c, ok := h.manager.Active()
	require.True(t, ok)
	require.Equal(t, testKey, c.Key)
	require.Eventually(t, func() bool { return c.Device() == "serial-for-Pixel_7" }, eventually, 5*time.Millisecond)
	require.True(t, c.AutoReconnect())
	require.Equal(t, cdp.EnableMethods, d.conn(0).methods())

	meta, ok := h.manager.registry.Metadata(testKey)
	require.True(t, ok)
	require.Equal(t, testTarget, meta.Target)

	msg, err = h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
	require.NoError(t, err)
	require.Contains(t, msg, "Already connected")
	require.Equal(t, 1, d.dialCount())
}

func TestManager_ConcurrentConnectsDialOnce(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{delay: 50 * time.Millisecond}
	h := newHarness(t, d)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, d.dialCount())
	require.Len(t, h.manager.Connections(), 1)
}

func TestManager_ConnectTimeout(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{block: true}
	h := newHarness(t, d, WithConnectTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.ErrorIs(t, err, ErrConnectTimeout)
	require.Less(t, time.Since(start), time.Second)

	s := h.status(t, testKey)
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Status)
	require.Contains(t, s.LastError, "connect timed out")
	require.False(t, h.manager.ReconnectPending(testKey), "handshake failures do not schedule reconnection")
	require.Empty(t, h.manager.Connections())
}

func TestManager_CallAndCloseFailsPending(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d)
	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
	require.NoError(t, err)
	c, _ := h.manager.Active()
	fc := d.conn(0)

	// A reply routed through the read loop resolves the call.
	done := make(chan struct{})
	var value string
	var callErr error
	go func() {
		defer close(done)
		value, callErr = c.Call(context.Background(), cdp.MethodRuntimeEvaluate, map[string]any{"expression": "1+1"}, time.Minute)
	}()
	require.Eventually(t, func() bool { return len(fc.methods()) == len(cdp.EnableMethods)+1 }, eventually, 5*time.Millisecond)
	fc.inbound <- []byte(fmt.Sprintf(`{"id":%d,"result":{"result":{"type":"number","value":2}}}`, fc.lastID()))
	<-done
	require.NoError(t, callErr)
	require.Equal(t, "2", value)

	// Closing the transport fails outstanding calls instead of waiting for their timeout.
	done = make(chan struct{})
	go func() {
		defer close(done)
		_, callErr = c.Call(context.Background(), cdp.MethodRuntimeEvaluate, nil, time.Minute)
	}()
	require.Eventually(t, func() bool { return h.pending.Len() == 1 }, eventually, 5*time.Millisecond)
	require.NoError(t, fc.CloseNow())
	<-done
	require.ErrorIs(t, callErr, cdp.ErrConnClosed)
	require.Zero(t, h.pending.Len())

	_, err = c.Call(context.Background(), cdp.MethodRuntimeEvaluate, nil, time.Minute)
	require.ErrorIs(t, err, cdp.ErrConnClosed)
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0}))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	require.NoError(t, d.conn(0).CloseNow())
	require.Eventually(t, func() bool { return d.connCount() == 2 }, eventually, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.status(t, testKey).Status == domain.ConnectionStatusConnected
	}, eventually, 5*time.Millisecond)

	s := h.status(t, testKey)
	require.Equal(t, uint(1), s.ReconnectionAttempts, "short-lived connections keep their attempt count")
	require.Len(t, s.Gaps, 1)
	require.NotNil(t, s.Gaps[0].ClosedAt)
}

func TestManager_UnstableReconnectsEscalateBackoff(t *testing.T) {
	t.Parallel()

	schedule := []time.Duration{0, 0, 0, time.Hour}
	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule(schedule))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	// Three drops, each followed by an immediate reconnection.
	for i := range 3 {
		require.NoError(t, d.conn(i).CloseNow())
		require.Eventually(t, func() bool { return d.connCount() == i+2 }, eventually, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return h.status(t, testKey).Status == domain.ConnectionStatusConnected
		}, eventually, 5*time.Millisecond)
	}

	// The fourth drop uses the fourth delay rather than restarting the schedule.
	require.NoError(t, d.conn(3).CloseNow())
	require.Eventually(t, func() bool { return h.manager.ReconnectPending(testKey) }, eventually, 5*time.Millisecond)

	s := h.status(t, testKey)
	require.Equal(t, domain.ConnectionStatusReconnecting, s.Status)
	require.Equal(t, uint(4), s.ReconnectionAttempts)
	require.NotNil(t, s.NextReconnectDelay)
	require.Equal(t, schedule[3], *s.NextReconnectDelay)
}

func TestManager_StableConnectionResetsAttempts(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0, time.Hour}), WithStabilityWindow(0))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, d.conn(i).CloseNow())
		require.Eventually(t, func() bool { return d.connCount() == i+2 }, eventually, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return h.status(t, testKey).Status == domain.ConnectionStatusConnected
	}, eventually, 5*time.Millisecond)
	require.Equal(t, uint(1), h.status(t, testKey).ReconnectionAttempts)
}

func TestManager_GivesUpAtMaxAttempts(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0}), WithMaxReconnectAttempts(2))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	d.setErr(errors.New("connection refused"))
	require.NoError(t, d.conn(0).CloseNow())

	require.Eventually(t, func() bool { return h.status(t, testKey).Exhausted }, eventually, 5*time.Millisecond)
	s := h.status(t, testKey)
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Status)
	require.Equal(t, uint(2), s.ReconnectionAttempts)
	require.Equal(t, 3, d.dialCount())
	require.False(t, h.manager.ReconnectPending(testKey))
}

func TestManager_ReconnectFallsBackToPreferredTarget(t *testing.T) {
	t.Parallel()

	schedule := []time.Duration{0, time.Hour}
	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule(schedule))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	rotated := testTarget
	rotated.ID = "page2"
	h.discovery.set(rotated)

	require.NoError(t, d.conn(0).CloseNow())
	newKey := domain.ConnectionKey{Port: 8081, TargetID: "page2"}
	require.Eventually(t, func() bool {
		c, ok := h.manager.Get(newKey)
		return ok && c.IsOpen()
	}, eventually, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.status(t, testKey).Status == domain.ConnectionStatusSuperseded
	}, eventually, 5*time.Millisecond)

	old := h.status(t, testKey)
	require.Equal(t, "superseded by 8081-page2", old.LastError)
	require.Empty(t, old.Gaps)

	s := h.status(t, newKey)
	require.Equal(t, domain.ConnectionStatusConnected, s.Status)
	require.Equal(t, uint(1), s.ReconnectionAttempts, "attempts carry over to the rotated target")
	require.Len(t, s.Gaps, 1)
	require.NotNil(t, s.Gaps[0].ClosedAt)
	require.NotEmpty(t, h.ledger.GapWarnings(time.Now(), health.DefaultGapWarningWindow))

	// An unstable drop of the rotated connection continues the schedule.
	require.NoError(t, d.conn(1).CloseNow())
	require.Eventually(t, func() bool { return h.manager.ReconnectPending(newKey) }, eventually, 5*time.Millisecond)

	s = h.status(t, newKey)
	require.Equal(t, uint(2), s.ReconnectionAttempts)
	require.NotNil(t, s.NextReconnectDelay)
	require.Equal(t, schedule[1], *s.NextReconnectDelay)
}

type slowDevices struct {
	delay time.Duration
}

func (s slowDevices) ResolveDevice(ctx context.Context, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "slow-serial", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestManager_ConnectDoesNotWaitForDeviceLookup(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarnessWithDevices(t, d, slowDevices{delay: 500 * time.Millisecond}, WithConnectTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 250*time.Millisecond)

	start = time.Now()
	msg, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
	require.NoError(t, err)
	require.Contains(t, msg, "Already connected")
	require.Less(t, time.Since(start), 250*time.Millisecond)
	require.Equal(t, 1, d.dialCount())

	c, ok := h.manager.Get(testKey)
	require.True(t, ok)
	require.Empty(t, c.Device())
	require.Eventually(t, func() bool { return c.Device() == "slow-serial" }, eventually, 5*time.Millisecond)
}

func TestManager_RearmAutoReconnectAfterStabilityWindow(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0}), WithStabilityWindow(50*time.Millisecond))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{RearmAutoReconnect: true})
	require.NoError(t, err)

	c, ok := h.manager.Get(testKey)
	require.True(t, ok)
	require.False(t, c.AutoReconnect())
	require.Eventually(t, c.AutoReconnect, eventually, 5*time.Millisecond)

	require.NoError(t, d.conn(0).CloseNow())
	require.Eventually(t, func() bool { return d.connCount() == 2 }, eventually, 5*time.Millisecond)
}

func TestManager_ForceCloseDoesNotReconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0}))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	require.True(t, h.manager.ForceClose(testKey, "context lost"))
	require.False(t, h.manager.ForceClose(testKey, "again"))

	s := h.status(t, testKey)
	require.Equal(t, domain.ConnectionStatusDisconnected, s.Status)
	ctxHealth, _ := h.contexts.Get(testKey)
	require.True(t, ctxHealth.IsStale)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, d.dialCount())
	_, ok := h.manager.Active()
	require.False(t, ok)
}

func TestManager_CloseAllOnPortCancelsTimers(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{time.Hour}))

	other := testTarget
	other.ID = "page2"
	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)
	_, err = h.manager.Connect(context.Background(), other, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)
	_, err = h.manager.Connect(context.Background(), testTarget, 8082, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	require.NoError(t, d.conn(0).CloseNow())
	require.Eventually(t, func() bool { return h.manager.ReconnectPending(testKey) }, eventually, 5*time.Millisecond)

	require.Equal(t, 1, h.manager.CloseAllOnPort(8081, "reload"))
	require.False(t, h.manager.ReconnectPending(testKey))

	conns := h.manager.Connections()
	require.Len(t, conns, 1)
	require.Equal(t, 8082, conns[0].Port)
}

func TestManager_ManualConnectCancelsTimer(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{time.Hour}))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)
	require.NoError(t, d.conn(0).CloseNow())
	require.Eventually(t, func() bool { return h.manager.ReconnectPending(testKey) }, eventually, 5*time.Millisecond)

	_, err = h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)
	require.False(t, h.manager.ReconnectPending(testKey))
	require.Equal(t, domain.ConnectionStatusConnected, h.status(t, testKey).Status)
}

func TestManager_ConsoleEventsEndToEnd(t *testing.T) {
	t.Parallel()

	rt := cdptest.New()
	t.Cleanup(rt.Close)

	h := newHarness(t, cdp.WebSocketDialer{})
	target := rt.Target()

	_, err := h.manager.Connect(context.Background(), target, rt.Port(), ConnectOptions{})
	require.NoError(t, err)
	require.True(t, rt.WaitForConnections(1, eventually))

	key := domain.ConnectionKey{Port: rt.Port(), TargetID: target.ID}
	require.Eventually(t, func() bool {
		c, ok := h.contexts.Get(key)
		return ok && c.ContextID != nil
	}, eventually, 5*time.Millisecond, "Runtime.enable produces an execution context")

	for i := 1; i <= 1200; i++ {
		rt.EmitConsole("log", fmt.Sprintf("event #%d", i))
	}

	require.Eventually(t, func() bool {
		entries := h.logs.Query(buffer.LogQuery{Limit: 1})
		return len(entries) == 1 && entries[0].Message == "event #1200"
	}, 5*time.Second, 10*time.Millisecond)

	entries := h.logs.Query(buffer.LogQuery{})
	require.Len(t, entries, 1000)
	require.Equal(t, "event #201", entries[0].Message)
}

func TestManager_ShutdownStopsEverything(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	h := newHarness(t, d, WithBackoffSchedule([]time.Duration{0}))

	_, err := h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{AutoReconnect: true})
	require.NoError(t, err)

	h.manager.Shutdown()
	require.Empty(t, h.manager.Connections())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, d.dialCount())

	_, err = h.manager.Connect(context.Background(), testTarget, 8081, ConnectOptions{})
	require.ErrorContains(t, err, "shut down")
}
