package cdp

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rndebug/rndebug/internal/domain"
)

// RemoteObject mirrors Runtime.RemoteObject.
type RemoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
	Preview             *ObjectPreview  `json:"preview,omitempty"`
}

type ObjectPreview struct {
	Type       string            `json:"type"`
	Properties []PropertyPreview `json:"properties"`
	Overflow   bool              `json:"overflow"`
}

type PropertyPreview struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ExceptionDetails mirrors Runtime.ExceptionDetails.
type ExceptionDetails struct {
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

// Message returns the exception description, falling back to the text.
func (e *ExceptionDetails) Message() string {
	if e.Exception != nil && e.Exception.Description != "" {
		return e.Exception.Description
	}
	if e.Text != "" {
		return e.Text
	}
	return "uncaught exception"
}

// EvaluateResult is the result member of a Runtime.evaluate reply.
type EvaluateResult struct {
	Result           *RemoteObject     `json:"result,omitempty"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

func (o *RemoteObject) hasValue() bool {
	return len(o.Value) > 0
}

// FormatValue renders an evaluation result for a caller.
// Strings are returned raw, other primitives stringified, objects as indented JSON.
func FormatValue(o *RemoteObject) string {
	if o == nil {
		return "undefined"
	}
	if o.UnserializableValue != "" {
		return o.UnserializableValue
	}
	if o.hasValue() {
		return renderJSON(o.Value, true)
	}
	if o.Type == "undefined" || o.Description == "" {
		return "undefined"
	}
	return o.Description
}

// FormatArg renders one console argument.
func FormatArg(o RemoteObject) string {
	switch {
	case o.UnserializableValue != "":
		return o.UnserializableValue
	case o.hasValue() && o.Type != "object":
		return renderJSON(o.Value, false)
	case o.Type == "undefined":
		return "undefined"
	case o.Description != "":
		return o.Description
	case o.Preview != nil && len(o.Preview.Properties) > 0:
		parts := make([]string, 0, len(o.Preview.Properties))
		for _, p := range o.Preview.Properties {
			parts = append(parts, p.Name+": "+p.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case o.hasValue():
		return renderJSON(o.Value, false)
	default:
		return "[object]"
	}
}

// FormatArgs renders console arguments joined by spaces.
func FormatArgs(args []json.RawMessage) string {
	parts := make([]string, 0, len(args))
	for _, raw := range args {
		var o RemoteObject
		if err := json.Unmarshal(raw, &o); err != nil {
			parts = append(parts, string(raw))
			continue
		}
		parts = append(parts, FormatArg(o))
	}
	return strings.Join(parts, " ")
}

func renderJSON(raw json.RawMessage, indent bool) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case bool, float64:
		return string(bytes.TrimSpace(raw))
	}

	if indent {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err == nil {
			return buf.String()
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// ConsoleLevel maps a console API call type to a canonical level.
func ConsoleLevel(kind string) domain.LogLevel {
	switch kind {
	case "warning", "warn":
		return domain.LogLevelWarn
	case "error", "assert":
		return domain.LogLevelError
	case "info":
		return domain.LogLevelInfo
	case "debug":
		return domain.LogLevelDebug
	default:
		return domain.LogLevelLog
	}
}

// LogEntryLevel maps a Log.entryAdded level to a canonical level.
func LogEntryLevel(level string) domain.LogLevel {
	switch level {
	case "verbose", "debug":
		return domain.LogLevelDebug
	case "warning", "warn":
		return domain.LogLevelWarn
	case "error":
		return domain.LogLevelError
	case "info":
		return domain.LogLevelInfo
	default:
		return domain.LogLevelLog
	}
}
