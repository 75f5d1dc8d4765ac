// Package connection owns the live inspector transports: it enforces one
// connection per key, routes inbound frames and reconnects dropped targets
// with escalating backoff.
package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/health"
)

// ErrConnectTimeout is returned when the handshake does not finish within the connect timeout.
var ErrConnectTimeout = errors.New("connect timed out")

// ConnectOptions tune a single Connect call.
type ConnectOptions struct {
	// IsReconnection marks calls made by the reconnection scheduler.
	IsReconnection bool

	// AutoReconnect enables scheduled reconnection when the resulting transport drops.
	AutoReconnect bool

	// RearmAutoReconnect turns AutoReconnect on once the connection has outlived the stability window.
	RearmAutoReconnect bool

	// Supersedes is the key this connection replaces after the target id rotated.
	Supersedes *domain.ConnectionKey
}

// handshake is the shared outcome of one flight through the per-key lock.
// setup is nil when the key was already connected.
type handshake struct {
	conn  *Connection
	msg   string
	setup *sync.Once
}

// Manager owns every live connection.
type Manager struct {
	logger    hclog.Logger
	registry  *Registry
	dialer    cdp.Dialer
	router    *cdp.Router
	pending   *cdp.Pending
	ledger    *health.Ledger
	contexts  *health.ContextTracker
	discovery Discoverer
	devices   DeviceResolver
	opts      Options

	handshakes singleflight.Group
	ctx        context.Context
	cancel     context.CancelFunc
	shutdown   atomic.Bool
}

// NewManager creates a Manager.
func NewManager(deps Dependencies, opt ...Option) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:    deps.Logger.Named("connection"),
		registry:  NewRegistry(),
		dialer:    deps.Dialer,
		router:    deps.Router,
		pending:   deps.Pending,
		ledger:    deps.Ledger,
		contexts:  deps.Contexts,
		discovery: deps.Discovery,
		devices:   deps.Devices,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Connect establishes a transport to target on port unless an open one already exists for the key.
// The per-key lock covers only the dial and registration; domain enabling runs after it under
// its own write timeout and device lookup runs in the background.
func (m *Manager) Connect(
	ctx context.Context,
	target domain.TargetDescriptor,
	port int,
	opts ConnectOptions,
) (string, error) {
	if m.shutdown.Load() {
		return "", fmt.Errorf("connection manager is shut down")
	}

	key := domain.ConnectionKey{Port: port, TargetID: target.ID}
	m.registry.CancelTimer(key)

	v, err, shared := m.handshakes.Do(key.String(), func() (any, error) {
		return m.open(ctx, key, target, opts)
	})
	if shared {
		m.logger.Debug("Joined in-flight handshake", "connection", key)
	}
	if err != nil {
		return "", err
	}

	hs := v.(*handshake)
	if hs.setup != nil {
		hs.setup.Do(func() { m.prepare(hs.conn) })
	}
	return hs.msg, nil
}

// open dials and registers the transport for key. It runs under the per-key lock.
func (m *Manager) open(
	ctx context.Context,
	key domain.ConnectionKey,
	target domain.TargetDescriptor,
	opts ConnectOptions,
) (*handshake, error) {
	if existing, ok := m.registry.Get(key); ok {
		if existing.IsOpen() {
			if opts.Supersedes != nil {
				m.ledger.Supersede(*opts.Supersedes, key, time.Now())
			}
			return &handshake{conn: existing, msg: fmt.Sprintf("Already connected to %s", existing)}, nil
		}
		m.registry.RemoveIfCurrent(key, existing.ID)
	}

	logger := m.logger.With("connection", key, "url", target.TransportURL)
	m.ledger.MarkConnecting(key)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, target.TransportURL)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrConnectTimeout, m.opts.ConnectTimeout, err)
		}
		m.ledger.MarkFailed(key, err.Error())
		logger.Warn("Handshake failed", "reconnection", opts.IsReconnection, "error", err)
		return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
	}

	readCtx, readCancel := context.WithCancel(m.ctx)
	now := time.Now()
	c := &Connection{
		ID:          uuid.NewString(),
		Key:         key,
		Target:      target,
		Port:        key.Port,
		ConnectedAt: now,
		conn:        conn,
		pending:     m.pending,
		cancel:      readCancel,
	}
	c.autoReconnect.Store(opts.AutoReconnect)

	m.registry.Add(c)
	m.registry.SaveMetadata(key, domain.ConnectionMetadata{
		Port:         key.Port,
		Target:       target,
		TransportURL: target.TransportURL,
		SavedAt:      now,
	})
	m.ledger.MarkConnected(key, now)
	if opts.Supersedes != nil {
		m.ledger.Supersede(*opts.Supersedes, key, now)
	}
	m.contexts.Reset(key)

	go m.readLoop(readCtx, c)

	if opts.RearmAutoReconnect && !opts.AutoReconnect {
		time.AfterFunc(m.opts.StabilityWindow, func() {
			if c.IsOpen() && !m.shutdown.Load() {
				c.autoReconnect.Store(true)
				logger.Debug("Auto-reconnect enabled after stable connection")
			}
		})
	}

	logger.Info("Connected", "reconnection", opts.IsReconnection, "autoReconnect", opts.AutoReconnect)
	return &handshake{conn: c, msg: fmt.Sprintf("Connected to %s", c), setup: &sync.Once{}}, nil
}

// prepare enables the protocol domains on a freshly opened transport and starts device lookup.
func (m *Manager) prepare(c *Connection) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.EnableTimeout)
	defer cancel()

	for _, method := range cdp.EnableMethods {
		if err := c.Notify(ctx, method, nil); err != nil {
			m.logger.Warn("Failed to enable protocol domain", "connection", c.Key, "method", method, "error", err)
		}
	}

	if c.Target.DisplayName != "" && m.devices != nil {
		go m.resolveDevice(c)
	}
}

func (m *Manager) resolveDevice(c *Connection) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.DeviceResolveTimeout)
	defer cancel()

	device, err := m.devices.ResolveDevice(ctx, c.Target.DisplayName)
	if err != nil {
		m.logger.Debug("Device lookup failed", "connection", c.Key, "name", c.Target.DisplayName, "error", err)
		return
	}
	c.setDevice(device)
}

// readLoop routes frames in arrival order until the transport fails.
func (m *Manager) readLoop(ctx context.Context, c *Connection) {
	for {
		data, err := c.conn.Read(ctx)
		if err != nil {
			m.closeConnection(c, describeClose(err), false)
			return
		}
		m.router.Route(c.Key, data)
	}
}

// closeConnection tears c down once. Only the connection currently registered for the key
// updates health and may schedule a reconnection.
func (m *Manager) closeConnection(c *Connection, reason string, intentional bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.cancel()
	_ = c.conn.CloseNow()
	m.pending.FailOwner(c.ID, fmt.Errorf("%w: %s", cdp.ErrConnClosed, reason))

	if !m.registry.RemoveIfCurrent(c.Key, c.ID) {
		m.logger.Debug("Ignoring close of replaced connection", "connection", c.Key, "id", c.ID)
		return
	}

	now := time.Now()
	m.ledger.MarkDisconnected(c.Key, now, reason, now.Sub(c.ConnectedAt), m.opts.StabilityWindow)
	m.contexts.MarkStale(c.Key, "transport closed: "+reason)
	m.logger.Info("Disconnected", "connection", c.Key, "reason", reason, "intentional", intentional)

	if intentional || !c.AutoReconnect() || m.shutdown.Load() {
		return
	}
	m.scheduleReconnect(c.Key)
}

func (m *Manager) scheduleReconnect(key domain.ConnectionKey) {
	delay, ok := m.ledger.NextReconnect(key, m.opts.BackoffSchedule, m.opts.MaxReconnectAttempts)
	if !ok {
		m.logger.Warn("Giving up on reconnection", "connection", key, "maxAttempts", m.opts.MaxReconnectAttempts)
		return
	}

	m.logger.Info("Scheduling reconnection", "connection", key, "delay", delay)
	m.registry.Schedule(key, delay, func() {
		m.reconnect(key)
	})
}

func (m *Manager) reconnect(key domain.ConnectionKey) {
	if m.shutdown.Load() {
		return
	}

	meta, ok := m.registry.Metadata(key)
	if !ok {
		m.logger.Warn("No metadata for reconnection", "connection", key)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.DiscoveryTimeout+m.opts.ConnectTimeout)
	defer cancel()

	fetchCtx, fetchCancel := context.WithTimeout(ctx, m.opts.DiscoveryTimeout)
	targets, err := m.discovery.FetchTargets(fetchCtx, meta.Port)
	fetchCancel()
	if err != nil || len(targets) == 0 {
		m.logger.Debug("Reconnection found no targets", "connection", key, "error", err)
		m.ledger.MarkFailed(key, "no targets available on port")
		m.scheduleReconnect(key)
		return
	}

	target := m.pickTarget(targets, meta.Target.ID)
	if target == nil {
		m.ledger.MarkFailed(key, "no suitable target on port")
		m.scheduleReconnect(key)
		return
	}

	opts := ConnectOptions{IsReconnection: true, AutoReconnect: true}
	if target.ID != key.TargetID {
		opts.Supersedes = &key
	}
	if _, err := m.Connect(ctx, *target, meta.Port, opts); err != nil {
		m.scheduleReconnect(key)
		return
	}

	if opts.Supersedes != nil {
		m.logger.Info("Reconnected to a different target", "previous", key, "target", target.ID)
	}
}

func (m *Manager) pickTarget(targets []domain.TargetDescriptor, previousID string) *domain.TargetDescriptor {
	if i := slices.IndexFunc(targets, func(t domain.TargetDescriptor) bool { return t.ID == previousID }); i >= 0 {
		return &targets[i]
	}
	return m.discovery.SelectPreferred(targets)
}

// Active returns the most recently connected open connection.
func (m *Manager) Active() (*Connection, bool) {
	var active *Connection
	for _, c := range m.registry.List() {
		if !c.IsOpen() {
			continue
		}
		if active == nil || c.ConnectedAt.After(active.ConnectedAt) {
			active = c
		}
	}
	return active, active != nil
}

// Connections returns every registered connection ordered by key.
func (m *Manager) Connections() []*Connection {
	return m.registry.List()
}

// Get returns the connection for key.
func (m *Manager) Get(key domain.ConnectionKey) (*Connection, bool) {
	return m.registry.Get(key)
}

// ForceClose tears down the connection for key without scheduling a reconnection.
func (m *Manager) ForceClose(key domain.ConnectionKey, reason string) bool {
	m.registry.CancelTimer(key)

	c, ok := m.registry.Get(key)
	if !ok {
		return false
	}
	m.closeConnection(c, reason, true)
	return true
}

// CloseAllOnPort cancels pending reconnections on port, then closes its connections.
func (m *Manager) CloseAllOnPort(port int, reason string) int {
	m.registry.CancelTimersOnPort(port)

	n := 0
	for _, c := range m.registry.List() {
		if c.Port != port {
			continue
		}
		m.closeConnection(c, reason, true)
		n++
	}
	return n
}

// CancelReconnect stops a pending reconnection for key.
func (m *Manager) CancelReconnect(key domain.ConnectionKey) bool {
	return m.registry.CancelTimer(key)
}

// ReconnectPending reports whether a reconnection is armed for key.
func (m *Manager) ReconnectPending(key domain.ConnectionKey) bool {
	return m.registry.HasTimer(key)
}

// Shutdown stops reconnection and closes every connection.
func (m *Manager) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}

	m.registry.CancelAllTimers()
	for _, c := range m.registry.List() {
		m.closeConnection(c, "shutdown", true)
	}
	m.cancel()
}

func describeClose(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "read cancelled"
	case err != nil:
		return err.Error()
	default:
		return "transport closed"
	}
}
