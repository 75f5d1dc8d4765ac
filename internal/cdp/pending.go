package cdp

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRequestTimeout is returned when no reply arrives before a request's deadline.
var ErrRequestTimeout = errors.New("request timed out")

// RemoteError is a failure reported by the remote runtime: a protocol error or a thrown exception.
type RemoteError struct {
	Message   string
	Code      int
	Exception bool
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Reply is the outcome of one correlated request.
type Reply struct {
	Value string
	Err   error
}

type waiter struct {
	owner  string
	method string
	ch     chan Reply
	timer  *time.Timer
}

// Pending correlates outbound requests with their replies.
// Every registered request is resolved exactly once: by a reply, a timeout, or its owner closing.
type Pending struct {
	mu      sync.Mutex
	nextID  int64
	waiters map[int64]*waiter
}

// NewPending creates an empty pending-request table.
func NewPending() *Pending {
	return &Pending{
		waiters: make(map[int64]*waiter),
	}
}

// NextID returns a fresh, process-wide message id.
func (p *Pending) NextID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	return p.nextID
}

// Register allocates an id and waits for its reply for at most timeout.
// owner groups requests so they can be failed together when a transport closes.
func (p *Pending) Register(owner string, method string, timeout time.Duration) (int64, <-chan Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	w := &waiter{
		owner:  owner,
		method: method,
		ch:     make(chan Reply, 1),
	}
	p.waiters[id] = w
	w.timer = time.AfterFunc(timeout, func() {
		p.Resolve(id, Reply{Err: fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)})
	})

	return id, w.ch
}

// Resolve delivers reply to the request with the given id.
// It returns false when the id is unknown or was already resolved.
func (p *Pending) Resolve(id int64, reply Reply) bool {
	p.mu.Lock()
	w, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	w.timer.Stop()
	w.ch <- reply
	return true
}

// Cancel drops the request without delivering a reply.
func (p *Pending) Cancel(id int64) bool {
	p.mu.Lock()
	w, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if ok {
		w.timer.Stop()
	}
	return ok
}

// FailOwner resolves every request registered by owner with err.
func (p *Pending) FailOwner(owner string, err error) int {
	p.mu.Lock()
	var failed []*waiter
	for id, w := range p.waiters {
		if w.owner == owner {
			delete(p.waiters, id)
			failed = append(failed, w)
		}
	}
	p.mu.Unlock()

	for _, w := range failed {
		w.timer.Stop()
		w.ch <- Reply{Err: fmt.Errorf("%s: %w", w.method, err)}
	}
	return len(failed)
}

// Len returns the number of unresolved requests.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.waiters)
}
