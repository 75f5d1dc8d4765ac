package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/domain"
)

// Connection is one live transport to an inspector target.
type Connection struct {
	// ID distinguishes this transport from earlier or later ones on the same key.
	ID          string
	Key         domain.ConnectionKey
	Target      domain.TargetDescriptor
	Port        int
	ConnectedAt time.Time

	autoReconnect atomic.Bool
	conn          cdp.Conn
	pending       *cdp.Pending
	cancel        context.CancelFunc
	closed        atomic.Bool

	mu     sync.RWMutex
	device string
}

// Device returns the resolved device handle, if any.
func (c *Connection) Device() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.device
}

func (c *Connection) setDevice(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.device = device
}

// IsOpen reports whether the transport is still usable.
func (c *Connection) IsOpen() bool {
	return !c.closed.Load()
}

// AutoReconnect reports whether a dropped transport is reconnected automatically.
func (c *Connection) AutoReconnect() bool {
	return c.autoReconnect.Load()
}

// Notify sends a request whose reply is ignored.
func (c *Connection) Notify(ctx context.Context, method string, params any) error {
	if !c.IsOpen() {
		return fmt.Errorf("%w: %s", cdp.ErrConnClosed, c.Key)
	}

	data, err := cdp.EncodeRequest(c.pending.NextID(), method, params)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, data)
}

// Call sends a request and waits for its correlated reply for at most timeout.
func (c *Connection) Call(ctx context.Context, method string, params any, timeout time.Duration) (string, error) {
	if !c.IsOpen() {
		return "", fmt.Errorf("%w: %s", cdp.ErrConnClosed, c.Key)
	}

	id, replies := c.pending.Register(c.ID, method, timeout)
	data, err := cdp.EncodeRequest(id, method, params)
	if err != nil {
		c.pending.Cancel(id)
		return "", err
	}
	if err := c.conn.Write(ctx, data); err != nil {
		c.pending.Cancel(id)
		return "", err
	}

	select {
	case reply := <-replies:
		return reply.Value, reply.Err
	case <-ctx.Done():
		c.pending.Cancel(id)
		return "", ctx.Err()
	}
}

func (c *Connection) String() string {
	name := c.Target.Title
	if name == "" {
		name = c.Target.ID
	}
	return fmt.Sprintf("%s (port %d, target %s)", name, c.Port, c.Target.ID)
}
