package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound frame. Evaluate results and
// network events routinely exceed the transport's 32KiB default.
const DefaultReadLimit int64 = 16 << 20

// ErrConnClosed is returned for operations on a transport that is no longer open.
var ErrConnClosed = errors.New("connection closed")

// Conn is a message-oriented transport to one inspector target.
// It abstracts the WebSocket so tests can substitute in-memory transports.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, p []byte) error

	// CloseNow tears the transport down without a close handshake.
	CloseNow() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials inspector targets over WebSocket.
type WebSocketDialer struct {
	ReadLimit int64
}

// Dial opens a WebSocket to url. The handshake is bound to ctx.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)

	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, p, err := w.c.Read(ctx)
		if err != nil {
			return nil, translateErr(err)
		}
		if typ == websocket.MessageText {
			return p, nil
		}
	}
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	if err := w.c.Write(ctx, websocket.MessageText, p); err != nil {
		return translateErr(err)
	}
	return nil
}

func (w *wsConn) CloseNow() error {
	return w.c.CloseNow()
}

func translateErr(err error) error {
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Errorf("%w: status %d", ErrConnClosed, status)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnClosed, err)
}
