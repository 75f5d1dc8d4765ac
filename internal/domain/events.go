package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	LogLevelLog   LogLevel = "log"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// LogLevel is the canonical level stored for console and structured log entries.
type LogLevel string

// LogLevels returns every canonical level, in severity order.
func LogLevels() []LogLevel {
	return []LogLevel{LogLevelDebug, LogLevelLog, LogLevelInfo, LogLevelWarn, LogLevelError}
}

// LogEntry is one captured console or structured log line.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Source    string
	RawArgs   []json.RawMessage
}

// NetworkTiming holds protocol timestamps (seconds) and the derived duration.
type NetworkTiming struct {
	RequestTime  float64
	ResponseTime *float64
	DurationMs   *int64
}

// NetworkRecord is a captured request. It is updated in place until Completed is set.
type NetworkRecord struct {
	RequestID       string
	Timestamp       time.Time
	Method          string
	URL             string
	RequestHeaders  map[string]string
	RequestBody     *string
	Status          *int
	StatusText      string
	ResponseHeaders map[string]string
	MimeType        string
	ContentLength   *int64
	Timing          NetworkTiming
	Completed       bool
	Error           string
}

// StatusClass buckets a record as "failed", "pending" or "<n>xx".
func (r NetworkRecord) StatusClass() string {
	switch {
	case r.Error != "":
		return "failed"
	case r.Status == nil:
		return "pending"
	default:
		return fmt.Sprintf("%dxx", *r.Status/100)
	}
}
