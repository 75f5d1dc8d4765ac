package buffer

import (
	"fmt"
	"strings"

	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/filter"
)

const (
	// DefaultLogCapacity is the number of log entries retained when no capacity is configured.
	DefaultLogCapacity = 1000

	// DefaultSummaryRecent is the number of newest entries included in a summary.
	DefaultSummaryRecent = 10
)

const (
	logFilterLevel = "level"
	logFilterText  = "text"
)

// LogQuery narrows a log read. Zero values disable each filter.
type LogQuery struct {
	// Level is a comma-separated list of canonical levels.
	Level string

	// Text is a case-insensitive substring of the message.
	Text string

	// StartAfter returns only entries after the last one whose message contains it.
	StartAfter string

	// Limit bounds the result to the newest matching entries.
	Limit int
}

// LogSummary is an aggregate view of the log buffer.
type LogSummary struct {
	Total   int
	ByLevel map[domain.LogLevel]int
	Recent  []domain.LogEntry
}

// LogBuffer stores console and structured log entries.
type LogBuffer struct {
	ring    *Ring[domain.LogEntry]
	matcher *filter.Matcher[domain.LogEntry]
}

// NewLogBuffer creates a log buffer. A non-positive capacity selects DefaultLogCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}

	// The matcher options are static so construction cannot fail.
	m, _ := filter.NewMatcher(
		filter.WithMatcher(logFilterLevel, filter.HasAny(func(e domain.LogEntry) []string {
			return []string{string(e.Level)}
		})),
		filter.WithMatcher(logFilterText, filter.Partial(func(e domain.LogEntry) string {
			return e.Message
		})),
	)

	return &LogBuffer{
		ring:    NewRing[domain.LogEntry](capacity),
		matcher: m,
	}
}

// Add appends entry, evicting the oldest entry when the buffer is full.
func (b *LogBuffer) Add(entry domain.LogEntry) {
	b.ring.Add(entry)
}

// Query returns matching entries in insertion order.
func (b *LogBuffer) Query(q LogQuery) []domain.LogEntry {
	entries := startAfter(b.ring.All(), q.StartAfter, func(e domain.LogEntry) string {
		return e.Message
	})

	filters := map[string]string{
		logFilterLevel: q.Level,
		logFilterText:  q.Text,
	}

	out := make([]domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		if b.matcher.Match(e, filters) {
			out = append(out, e)
		}
	}

	return newest(out, q.Limit)
}

// Summarize returns the total, the per-level counts and the newest recent entries.
func (b *LogBuffer) Summarize(recent int) LogSummary {
	if recent <= 0 {
		recent = DefaultSummaryRecent
	}

	entries := b.ring.All()
	byLevel := make(map[domain.LogLevel]int)
	for _, e := range entries {
		byLevel[e.Level]++
	}

	return LogSummary{
		Total:   len(entries),
		ByLevel: byLevel,
		Recent:  newest(entries, recent),
	}
}

// Len returns the number of entries held.
func (b *LogBuffer) Len() int {
	return b.ring.Len()
}

// Cap returns the configured capacity.
func (b *LogBuffer) Cap() int {
	return b.ring.Cap()
}

// Clear drops every entry and returns how many were dropped.
func (b *LogBuffer) Clear() int {
	return b.ring.Clear()
}

// startAfter returns the entries following the last one whose text contains marker.
// When marker is empty or never seen, entries is returned unchanged.
func startAfter[T any](entries []T, marker string, text func(T) string) []T {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return entries
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if strings.Contains(text(entries[i]), marker) {
			return entries[i+1:]
		}
	}
	return entries
}

// newest returns the last limit entries. A non-positive limit returns all of them.
func newest[T any](entries []T, limit int) []T {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

// ValidateLevels checks that every level in a comma-separated level filter is canonical.
// An empty filter is valid.
func ValidateLevels(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}

	available := make([]string, 0, len(domain.LogLevels()))
	for _, l := range domain.LogLevels() {
		available = append(available, string(l))
	}

	var requested []string
	for _, l := range strings.Split(level, ",") {
		if l = strings.TrimSpace(l); l != "" {
			requested = append(requested, l)
		}
	}

	if _, err := filter.MatchRequestedSlice(requested, available); err != nil {
		return fmt.Errorf("invalid level filter %q (valid: %s): %w", level, strings.Join(available, ", "), err)
	}
	return nil
}
