package health

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rndebug/rndebug/internal/domain"
)

// ContextTracker records whether each connection's execution context can still run code.
type ContextTracker struct {
	mu      sync.RWMutex
	entries map[domain.ConnectionKey]domain.ContextHealth
}

// NewContextTracker creates an empty tracker.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{
		entries: make(map[domain.ConnectionKey]domain.ContextHealth),
	}
}

// Reset clears the context id and staleness for a fresh transport.
func (t *ContextTracker) Reset(key domain.ConnectionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = domain.ContextHealth{Key: key}
}

// MarkHealthy records a newly created execution context.
func (t *ContextTracker) MarkHealthy(key domain.ConnectionKey, contextID int64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entries[key]
	h.Key = key
	h.ContextID = &contextID
	h.IsStale = false
	h.StaleReason = ""
	h.LastHealthCheckAt = &at
	h.LastHealthCheckSucceeded = true
	t.entries[key] = h
}

// MarkStale records that the current execution context is gone.
func (t *ContextTracker) MarkStale(key domain.ConnectionKey, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entries[key]
	h.Key = key
	h.IsStale = true
	h.StaleReason = reason
	t.entries[key] = h
}

// RecordProbe stores the outcome of a liveness probe. A failed probe marks the context stale.
func (t *ContextTracker) RecordProbe(key domain.ConnectionKey, ok bool, reason string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entries[key]
	h.Key = key
	h.LastHealthCheckAt = &at
	h.LastHealthCheckSucceeded = ok
	if ok {
		h.IsStale = false
		h.StaleReason = ""
	} else {
		h.IsStale = true
		h.StaleReason = reason
	}
	t.entries[key] = h
}

// Get returns the context health for key.
func (t *ContextTracker) Get(key domain.ConnectionKey) (domain.ContextHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.entries[key]
	return h, ok
}

// List returns every tracked context, ordered by key.
func (t *ContextTracker) List() []domain.ContextHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.ContextHealth, 0, len(t.entries))
	for _, h := range t.entries {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b domain.ContextHealth) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}
