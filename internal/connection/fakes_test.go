package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/domain"
)

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []cdp.Request
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closed:
		return nil, cdp.ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-f.inbound:
		return data, nil
	}
}

func (f *fakeConn) Write(_ context.Context, p []byte) error {
	select {
	case <-f.closed:
		return cdp.ErrConnClosed
	default:
	}

	var req cdp.Request
	_ = json.Unmarshal(p, &req)
	f.mu.Lock()
	f.written = append(f.written, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) CloseNow() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.written))
	for i, r := range f.written {
		out[i] = r.Method
	}
	return out
}

func (f *fakeConn) lastID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.written) == 0 {
		return 0
	}
	return f.written[len(f.written)-1].ID
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	err   error
	delay time.Duration
	block bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (cdp.Conn, error) {
	d.mu.Lock()
	d.dials++
	err, delay, block := d.err, d.delay, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeDiscovery struct {
	mu      sync.Mutex
	targets []domain.TargetDescriptor
	err     error
}

func (f *fakeDiscovery) FetchTargets(context.Context, int) ([]domain.TargetDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TargetDescriptor(nil), f.targets...), f.err
}

func (f *fakeDiscovery) SelectPreferred(targets []domain.TargetDescriptor) *domain.TargetDescriptor {
	if len(targets) == 0 {
		return nil
	}
	return &targets[0]
}

func (f *fakeDiscovery) set(targets ...domain.TargetDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = targets
}

type fakeDevices struct{}

func (fakeDevices) ResolveDevice(_ context.Context, name string) (string, error) {
	return "serial-for-" + name, nil
}
