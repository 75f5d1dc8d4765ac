// Package buffer holds the bounded, insertion-ordered event stores that back
// every read surface of the daemon.
package buffer

import "sync"

// Ring is a fixed-capacity FIFO buffer. Once full, each Add evicts the oldest entry.
// Iteration is always oldest to newest.
type Ring[T any] struct {
	mu         sync.RWMutex
	entries    []T
	capacity   int
	head       int // index of the oldest entry once the ring is full
	totalAdded int64
}

// NewRing creates a ring holding at most capacity entries.
// Capacities below one are raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Add appends entry and returns the entry it evicted, if any.
func (r *Ring[T]) Add(entry T) (evicted T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalAdded++
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
		return evicted, false
	}

	evicted = r.entries[r.head]
	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
	return evicted, true
}

// All returns a copy of every entry, oldest first.
func (r *Ring[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastLocked(len(r.entries))
}

// Last returns a copy of the newest n entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastLocked(n)
}

func (r *Ring[T]) lastLocked(n int) []T {
	size := len(r.entries)
	if n > size {
		n = size
	}
	if n <= 0 {
		return []T{}
	}

	out := make([]T, 0, n)
	start := size - n
	for i := start; i < size; i++ {
		out = append(out, r.entries[(r.head+i)%size])
	}
	return out
}

// Len returns the number of entries currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Cap returns the maximum number of entries.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// TotalAdded returns how many entries were ever added, including evicted ones.
func (r *Ring[T]) TotalAdded() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.totalAdded
}

// Clear drops every entry and returns how many were dropped.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make([]T, 0, r.capacity)
	r.head = 0
	return n
}
