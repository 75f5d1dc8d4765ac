// Package health tracks transport and execution-context health per connection key.
package health

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/errors"
)

const (
	// DefaultMaxGaps is how many connectivity gaps are kept per key.
	DefaultMaxGaps = 10

	// DefaultGapWarningWindow is how long after it closed a gap is still reported as a warning.
	DefaultGapWarningWindow = 5 * time.Minute
)

// DefaultBackoffSchedule returns the reconnection delays indexed by attempt number.
// Attempts past the end reuse the last delay.
func DefaultBackoffSchedule() []time.Duration {
	return []time.Duration{
		0,
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
}

// Ledger records the transport history of every connection key ever seen.
type Ledger struct {
	mu      sync.RWMutex
	entries map[domain.ConnectionKey]*domain.ConnectionHealth
	maxGaps int
}

// NewLedger creates an empty ledger keeping at most maxGaps gaps per key.
// A non-positive maxGaps selects DefaultMaxGaps.
func NewLedger(maxGaps int) *Ledger {
	if maxGaps <= 0 {
		maxGaps = DefaultMaxGaps
	}
	return &Ledger{
		entries: make(map[domain.ConnectionKey]*domain.ConnectionHealth),
		maxGaps: maxGaps,
	}
}

// Status returns the health for a single key.
func (l *Ledger) Status(key domain.ConnectionKey) (domain.ConnectionHealth, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if h, ok := l.entries[key]; ok {
		return clone(h), nil
	}

	return domain.ConnectionHealth{}, fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, key)
}

// List returns a copy of every health record, ordered by key.
func (l *Ledger) List() []domain.ConnectionHealth {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.ConnectionHealth, 0, len(l.entries))
	for _, h := range l.entries {
		out = append(out, clone(h))
	}
	slices.SortFunc(out, func(a, b domain.ConnectionHealth) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// MarkConnecting records the start of a handshake.
func (l *Ledger) MarkConnecting(key domain.ConnectionKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.entry(key)
	h.Status = domain.ConnectionStatusConnecting
	h.NextReconnectDelay = nil
}

// MarkConnected records an open transport and closes any open gap.
func (l *Ledger) MarkConnected(key domain.ConnectionKey, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.entry(key)
	h.Status = domain.ConnectionStatusConnected
	h.LastConnectedAt = &at
	h.Exhausted = false
	h.LastError = ""
	h.NextReconnectDelay = nil

	if n := len(h.Gaps); n > 0 && h.Gaps[n-1].ClosedAt == nil {
		h.Gaps[n-1].ClosedAt = &at
	}
}

// MarkDisconnected records a transport close.
// The attempt count is reset only when the closed connection lived at least stabilityWindow.
func (l *Ledger) MarkDisconnected(
	key domain.ConnectionKey,
	at time.Time,
	reason string,
	lifetime time.Duration,
	stabilityWindow time.Duration,
) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.entry(key)
	if lifetime >= stabilityWindow {
		h.ReconnectionAttempts = 0
	}
	h.Status = domain.ConnectionStatusDisconnected
	h.LastDisconnectedAt = &at
	h.LastError = reason

	if n := len(h.Gaps); n == 0 || h.Gaps[n-1].ClosedAt != nil {
		h.Gaps = append(h.Gaps, domain.Gap{OpenedAt: at, Reason: reason})
		if len(h.Gaps) > l.maxGaps {
			h.Gaps = slices.Clone(h.Gaps[len(h.Gaps)-l.maxGaps:])
		}
	}
}

// MarkFailed records a handshake that never reached the open state.
func (l *Ledger) MarkFailed(key domain.ConnectionKey, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.entry(key)
	h.Status = domain.ConnectionStatusDisconnected
	h.LastError = reason
}

// Supersede moves the history of from onto to after a reconnection landed on a different
// target id. The open gap on from is closed at at and, like the other gaps and the attempt
// count, carried over to to. from is left superseded and is no longer reported as down.
func (l *Ledger) Supersede(from, to domain.ConnectionKey, at time.Time) {
	if from == to {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.entries[from]
	if !ok {
		return
	}
	h := l.entry(to)

	if n := len(old.Gaps); n > 0 && old.Gaps[n-1].ClosedAt == nil {
		old.Gaps[n-1].ClosedAt = &at
	}
	if len(old.Gaps) > 0 {
		h.Gaps = append(h.Gaps, old.Gaps...)
		slices.SortStableFunc(h.Gaps, func(a, b domain.Gap) int {
			return a.OpenedAt.Compare(b.OpenedAt)
		})
		if len(h.Gaps) > l.maxGaps {
			h.Gaps = slices.Clone(h.Gaps[len(h.Gaps)-l.maxGaps:])
		}
	}
	h.ReconnectionAttempts = max(h.ReconnectionAttempts, old.ReconnectionAttempts)

	old.Gaps = nil
	old.ReconnectionAttempts = 0
	old.Status = domain.ConnectionStatusSuperseded
	old.NextReconnectDelay = nil
	old.Exhausted = false
	old.LastError = "superseded by " + to.String()
}

// NextReconnect consumes one reconnection attempt and returns the delay before it.
// It returns false, leaving the key permanently disconnected, once maxAttempts is reached.
func (l *Ledger) NextReconnect(
	key domain.ConnectionKey,
	schedule []time.Duration,
	maxAttempts int,
) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.entry(key)
	if int(h.ReconnectionAttempts) >= maxAttempts {
		h.Status = domain.ConnectionStatusDisconnected
		h.Exhausted = true
		h.NextReconnectDelay = nil
		return 0, false
	}

	delay := BackoffDelay(schedule, h.ReconnectionAttempts)
	h.ReconnectionAttempts++
	h.Status = domain.ConnectionStatusReconnecting
	h.NextReconnectDelay = &delay
	return delay, true
}

// RecentGaps returns closed gaps whose close falls within the window ending at now.
func (l *Ledger) RecentGaps(now time.Time, window time.Duration) []domain.Gap {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Gap
	for _, h := range l.entries {
		for _, g := range h.Gaps {
			if g.ClosedAt != nil && now.Sub(*g.ClosedAt) <= window {
				out = append(out, g)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Gap) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return out
}

// GapWarnings renders RecentGaps as caller-facing warnings.
func (l *Ledger) GapWarnings(now time.Time, window time.Duration) []string {
	gaps := l.RecentGaps(now, window)
	if len(gaps) == 0 {
		return nil
	}

	out := make([]string, 0, len(gaps))
	for _, g := range gaps {
		msg := fmt.Sprintf(
			"connection was down for %s (reconnected %s ago); events from that period may be missing",
			g.Duration(now).Round(time.Millisecond),
			now.Sub(*g.ClosedAt).Round(time.Second),
		)
		if g.Reason != "" {
			msg += ": " + g.Reason
		}
		out = append(out, msg)
	}
	return out
}

// BackoffDelay returns the delay for the given attempt, clamped to the last schedule entry.
func BackoffDelay(schedule []time.Duration, attempt uint) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if int(attempt) >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

// entry returns the record for key, creating it on first use. Callers hold l.mu.
func (l *Ledger) entry(key domain.ConnectionKey) *domain.ConnectionHealth {
	h, ok := l.entries[key]
	if !ok {
		h = &domain.ConnectionHealth{Key: key, Status: domain.ConnectionStatusDisconnected}
		l.entries[key] = h
	}
	return h
}

func clone(h *domain.ConnectionHealth) domain.ConnectionHealth {
	c := *h
	c.Gaps = slices.Clone(h.Gaps)
	return c
}
