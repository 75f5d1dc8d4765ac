package connection

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rndebug/rndebug/internal/domain"
)

// Registry holds live connections, their reconnection metadata and pending reconnection timers.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu          sync.RWMutex
	connections map[domain.ConnectionKey]*Connection
	metadata    map[domain.ConnectionKey]domain.ConnectionMetadata
	timers      map[domain.ConnectionKey]*scheduled
}

type scheduled struct {
	timer *time.Timer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[domain.ConnectionKey]*Connection),
		metadata:    make(map[domain.ConnectionKey]domain.ConnectionMetadata),
		timers:      make(map[domain.ConnectionKey]*scheduled),
	}
}

// Add registers c under its key, replacing any previous entry.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[c.Key] = c
}

// Get returns the connection for key.
func (r *Registry) Get(key domain.ConnectionKey) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[key]
	return c, ok
}

// List returns every registered connection ordered by key.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// RemoveIfCurrent removes the entry for key only if it is still the connection with the given id.
// Late close notifications from replaced transports therefore leave the newer connection alone.
func (r *Registry) RemoveIfCurrent(key domain.ConnectionKey, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[key]
	if !ok || c.ID != id {
		return false
	}
	delete(r.connections, key)
	return true
}

// SaveMetadata stores the reconnection snapshot for key.
func (r *Registry) SaveMetadata(key domain.ConnectionKey, meta domain.ConnectionMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metadata[key] = meta
}

// Metadata returns the reconnection snapshot for key.
func (r *Registry) Metadata(key domain.ConnectionKey) (domain.ConnectionMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.metadata[key]
	return m, ok
}

// Schedule arms fn to run after delay for key, replacing any timer already armed for it.
// fn only runs if the timer is still the armed one when it fires.
func (r *Registry) Schedule(key domain.ConnectionKey, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[key]; ok {
		old.timer.Stop()
	}

	s := &scheduled{}
	s.timer = time.AfterFunc(delay, func() {
		if r.take(key, s) {
			fn()
		}
	})
	r.timers[key] = s
}

// CancelTimer stops and forgets the timer armed for key.
func (r *Registry) CancelTimer(key domain.ConnectionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.timers[key]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(r.timers, key)
	return true
}

// HasTimer reports whether a reconnection is armed for key.
func (r *Registry) HasTimer(key domain.ConnectionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.timers[key]
	return ok
}

// CancelTimersOnPort stops every timer armed for keys on port.
func (r *Registry) CancelTimersOnPort(port int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, s := range r.timers {
		if key.Port == port {
			s.timer.Stop()
			delete(r.timers, key)
			n++
		}
	}
	return n
}

// CancelAllTimers stops every armed timer.
func (r *Registry) CancelAllTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.timers {
		s.timer.Stop()
		delete(r.timers, key)
	}
}

func (r *Registry) take(key domain.ConnectionKey, s *scheduled) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timers[key] != s {
		return false
	}
	delete(r.timers, key)
	return true
}
