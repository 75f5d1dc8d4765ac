// Package cdp speaks the subset of the Chrome DevTools Protocol used to
// debug React Native runtimes: framing, request correlation, event decoding
// and routing of inbound frames into the buffers and health trackers.
package cdp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Request is an outbound protocol frame.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// ProtocolError is the error member of a reply frame.
type ProtocolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Text composes a caller-facing message, preferring the message, then the code, then the data.
func (e *ProtocolError) Text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != 0:
		return "CDP error code " + strconv.Itoa(e.Code)
	case len(e.Data) > 0 && string(e.Data) != "null":
		var s string
		if err := json.Unmarshal(e.Data, &s); err == nil {
			return s
		}
		return string(e.Data)
	default:
		return "unknown protocol error"
	}
}

// Frame is any inbound frame: a reply when ID is set, otherwise an event.
type Frame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

// IsReply reports whether the frame answers an outbound request.
func (f Frame) IsReply() bool {
	return f.ID != nil
}

// ParseFrame decodes one inbound frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	if f.ID == nil && f.Method == "" {
		return Frame{}, fmt.Errorf("invalid frame: neither id nor method present")
	}
	return f, nil
}

// EncodeRequest encodes an outbound request frame.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return data, nil
}
