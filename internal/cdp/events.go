package cdp

import (
	"encoding/json"
	"fmt"
)

// Protocol methods the router understands.
const (
	MethodConsoleAPICalled          = "Runtime.consoleAPICalled"
	MethodLogEntryAdded             = "Log.entryAdded"
	MethodRequestWillBeSent         = "Network.requestWillBeSent"
	MethodResponseReceived          = "Network.responseReceived"
	MethodLoadingFinished           = "Network.loadingFinished"
	MethodLoadingFailed             = "Network.loadingFailed"
	MethodExecutionContextCreated   = "Runtime.executionContextCreated"
	MethodExecutionContextDestroyed = "Runtime.executionContextDestroyed"
	MethodExecutionContextsCleared  = "Runtime.executionContextsCleared"
)

// Outbound methods.
const (
	MethodRuntimeEnable   = "Runtime.enable"
	MethodLogEnable       = "Log.enable"
	MethodNetworkEnable   = "Network.enable"
	MethodRuntimeEvaluate = "Runtime.evaluate"
)

// EnableMethods are sent on every fresh transport to start event capture.
var EnableMethods = []string{MethodRuntimeEnable, MethodLogEnable, MethodNetworkEnable}

// Event is one decoded protocol event.
type Event interface {
	EventMethod() string
}

// Headers is a protocol header object. Values are usually strings.
type Headers map[string]any

// Strings renders every header value as a string.
func (h Headers) Strings() map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

type ConsoleAPICalled struct {
	Type      string            `json:"type"`
	Args      []json.RawMessage `json:"args"`
	Timestamp float64           `json:"timestamp"`
}

type LogEntryAdded struct {
	Entry struct {
		Source    string  `json:"source"`
		Level     string  `json:"level"`
		Text      string  `json:"text"`
		Timestamp float64 `json:"timestamp"`
		URL       string  `json:"url,omitempty"`
	} `json:"entry"`
}

type RequestWillBeSent struct {
	RequestID string `json:"requestId"`
	Request   struct {
		URL      string  `json:"url"`
		Method   string  `json:"method"`
		Headers  Headers `json:"headers"`
		PostData *string `json:"postData,omitempty"`
	} `json:"request"`
	Timestamp float64 `json:"timestamp"`
	WallTime  float64 `json:"wallTime"`
}

type ResponseReceived struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	Response  struct {
		Status     int     `json:"status"`
		StatusText string  `json:"statusText"`
		Headers    Headers `json:"headers"`
		MimeType   string  `json:"mimeType"`
	} `json:"response"`
}

type LoadingFinished struct {
	RequestID         string   `json:"requestId"`
	Timestamp         float64  `json:"timestamp"`
	EncodedDataLength *float64 `json:"encodedDataLength,omitempty"`
}

type LoadingFailed struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	ErrorText string  `json:"errorText"`
	Canceled  bool    `json:"canceled"`
}

type ExecutionContextCreated struct {
	Context struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Origin string `json:"origin"`
	} `json:"context"`
}

type ExecutionContextDestroyed struct {
	ExecutionContextID int64 `json:"executionContextId"`
}

type ExecutionContextsCleared struct{}

// UnknownEvent is any event the router does not handle.
type UnknownEvent struct {
	Method string
}

func (ConsoleAPICalled) EventMethod() string          { return MethodConsoleAPICalled }
func (LogEntryAdded) EventMethod() string             { return MethodLogEntryAdded }
func (RequestWillBeSent) EventMethod() string         { return MethodRequestWillBeSent }
func (ResponseReceived) EventMethod() string          { return MethodResponseReceived }
func (LoadingFinished) EventMethod() string           { return MethodLoadingFinished }
func (LoadingFailed) EventMethod() string             { return MethodLoadingFailed }
func (ExecutionContextCreated) EventMethod() string   { return MethodExecutionContextCreated }
func (ExecutionContextDestroyed) EventMethod() string { return MethodExecutionContextDestroyed }
func (ExecutionContextsCleared) EventMethod() string  { return MethodExecutionContextsCleared }
func (e UnknownEvent) EventMethod() string            { return e.Method }

// DecodeEvent decodes params for the given method into its typed event.
// Methods outside the handled set decode to UnknownEvent without error.
func DecodeEvent(method string, params json.RawMessage) (Event, error) {
	switch method {
	case MethodConsoleAPICalled:
		return decode[ConsoleAPICalled](method, params)
	case MethodLogEntryAdded:
		return decode[LogEntryAdded](method, params)
	case MethodRequestWillBeSent:
		return decode[RequestWillBeSent](method, params)
	case MethodResponseReceived:
		return decode[ResponseReceived](method, params)
	case MethodLoadingFinished:
		return decode[LoadingFinished](method, params)
	case MethodLoadingFailed:
		return decode[LoadingFailed](method, params)
	case MethodExecutionContextCreated:
		return decode[ExecutionContextCreated](method, params)
	case MethodExecutionContextDestroyed:
		return decode[ExecutionContextDestroyed](method, params)
	case MethodExecutionContextsCleared:
		return ExecutionContextsCleared{}, nil
	default:
		return UnknownEvent{Method: method}, nil
	}
}

func decode[E Event](method string, params json.RawMessage) (Event, error) {
	var e E
	if len(params) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(params, &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	return e, nil
}
