package buffer

import (
	"net/url"
	"strconv"
	"sync"

	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/filter"
)

// DefaultNetworkCapacity is the number of network records retained when no capacity is configured.
const DefaultNetworkCapacity = 500

const (
	networkFilterMethod = "method"
	networkFilterStatus = "status"
	networkFilterURL    = "url"
)

// NetworkQuery narrows a network read. Zero values disable each filter.
type NetworkQuery struct {
	// Method is a comma-separated list of HTTP methods.
	Method string

	// Status is a comma-separated list of status codes or classes ("404", "4xx", "pending", "failed").
	Status string

	// URL is a case-insensitive substring of the request URL.
	URL string

	// StartAfter returns only records after the last one whose URL contains it.
	StartAfter string

	// Limit bounds the result to the newest matching records.
	Limit int
}

// NetworkStats aggregates the network buffer.
type NetworkStats struct {
	Total         int
	Completed     int
	Pending       int
	Failed        int
	ByMethod      map[string]int
	ByStatusClass map[string]int
	ByHost        map[string]int
}

// NetworkSummary is the total, status-class counts and the newest records.
type NetworkSummary struct {
	Total         int
	ByStatusClass map[string]int
	Recent        []domain.NetworkRecord
}

// NetworkBuffer stores network records and indexes them by protocol request id.
// Records are updated in place until they complete.
type NetworkBuffer struct {
	mu      sync.Mutex
	ring    *Ring[*domain.NetworkRecord]
	index   map[string]*domain.NetworkRecord
	matcher *filter.Matcher[domain.NetworkRecord]
}

// NewNetworkBuffer creates a network buffer. A non-positive capacity selects DefaultNetworkCapacity.
func NewNetworkBuffer(capacity int) *NetworkBuffer {
	if capacity <= 0 {
		capacity = DefaultNetworkCapacity
	}

	m, _ := filter.NewMatcher(
		filter.WithMatcher(networkFilterMethod, filter.HasAny(func(r domain.NetworkRecord) []string {
			return []string{r.Method}
		})),
		filter.WithMatcher(networkFilterStatus, filter.HasAny(func(r domain.NetworkRecord) []string {
			values := []string{r.StatusClass()}
			if r.Status != nil {
				values = append(values, strconv.Itoa(*r.Status))
			}
			return values
		})),
		filter.WithMatcher(networkFilterURL, filter.Partial(func(r domain.NetworkRecord) string {
			return r.URL
		})),
	)

	return &NetworkBuffer{
		ring:    NewRing[*domain.NetworkRecord](capacity),
		index:   make(map[string]*domain.NetworkRecord),
		matcher: m,
	}
}

// Add stores a new record. A record already tracked under the same id that has not
// completed (a redirect hop) is replaced in place.
func (b *NetworkBuffer) Add(rec domain.NetworkRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.index[rec.RequestID]; ok && !existing.Completed {
		*existing = rec
		return
	}

	stored := &rec
	b.index[rec.RequestID] = stored
	if evicted, ok := b.ring.Add(stored); ok {
		if current, tracked := b.index[evicted.RequestID]; tracked && current == evicted {
			delete(b.index, evicted.RequestID)
		}
	}
}

// Update applies fn to the record with the given id.
// It returns false when the id is unknown or the record has already completed.
func (b *NetworkBuffer) Update(requestID string, fn func(*domain.NetworkRecord)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.index[requestID]
	if !ok || rec.Completed {
		return false
	}
	fn(rec)
	return true
}

// Get returns a copy of the record with the given id.
func (b *NetworkBuffer) Get(requestID string) (domain.NetworkRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.index[requestID]
	if !ok {
		return domain.NetworkRecord{}, false
	}
	return *rec, true
}

// Query returns matching records in insertion order.
func (b *NetworkBuffer) Query(q NetworkQuery) []domain.NetworkRecord {
	records := startAfter(b.snapshot(), q.StartAfter, func(r domain.NetworkRecord) string {
		return r.URL
	})

	filters := map[string]string{
		networkFilterMethod: q.Method,
		networkFilterStatus: q.Status,
		networkFilterURL:    q.URL,
	}

	out := make([]domain.NetworkRecord, 0, len(records))
	for _, r := range records {
		if b.matcher.Match(r, filters) {
			out = append(out, r)
		}
	}

	return newest(out, q.Limit)
}

// Summarize returns the total, the per status-class counts and the newest recent records.
func (b *NetworkBuffer) Summarize(recent int) NetworkSummary {
	if recent <= 0 {
		recent = DefaultSummaryRecent
	}

	records := b.snapshot()
	byClass := make(map[string]int)
	for _, r := range records {
		byClass[r.StatusClass()]++
	}

	return NetworkSummary{
		Total:         len(records),
		ByStatusClass: byClass,
		Recent:        newest(records, recent),
	}
}

// Stats aggregates counts by method, status class and host.
func (b *NetworkBuffer) Stats() NetworkStats {
	records := b.snapshot()
	stats := NetworkStats{
		Total:         len(records),
		ByMethod:      make(map[string]int),
		ByStatusClass: make(map[string]int),
		ByHost:        make(map[string]int),
	}

	for _, r := range records {
		switch {
		case r.Error != "":
			stats.Failed++
		case r.Completed:
			stats.Completed++
		default:
			stats.Pending++
		}
		stats.ByMethod[r.Method]++
		stats.ByStatusClass[r.StatusClass()]++
		stats.ByHost[hostOf(r.URL)]++
	}

	return stats
}

// Len returns the number of records held.
func (b *NetworkBuffer) Len() int {
	return b.ring.Len()
}

// Cap returns the configured capacity.
func (b *NetworkBuffer) Cap() int {
	return b.ring.Cap()
}

// Clear drops every record and returns how many were dropped.
func (b *NetworkBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.index)
	return b.ring.Clear()
}

// snapshot copies the records so callers never observe in-place updates.
func (b *NetworkBuffer) snapshot() []domain.NetworkRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	ptrs := b.ring.All()
	out := make([]domain.NetworkRecord, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
