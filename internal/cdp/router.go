package cdp

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/domain"
)

// LogSink receives rendered log entries.
type LogSink interface {
	Add(entry domain.LogEntry)
}

// NetworkSink receives network records and in-place updates.
type NetworkSink interface {
	Add(rec domain.NetworkRecord)
	Update(requestID string, fn func(*domain.NetworkRecord)) bool
}

// ContextSink receives execution-context transitions.
type ContextSink interface {
	MarkHealthy(key domain.ConnectionKey, contextID int64, at time.Time)
	MarkStale(key domain.ConnectionKey, reason string)
}

// Router dispatches inbound frames: replies resolve pending requests, events feed the sinks.
type Router struct {
	logger   hclog.Logger
	pending  *Pending
	logs     LogSink
	network  NetworkSink
	contexts ContextSink
}

// NewRouter wires a router to its sinks.
func NewRouter(
	logger hclog.Logger,
	pending *Pending,
	logs LogSink,
	network NetworkSink,
	contexts ContextSink,
) (*Router, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if pending == nil {
		return nil, fmt.Errorf("pending requests cannot be nil")
	}
	if logs == nil || reflect.ValueOf(logs).IsNil() {
		return nil, fmt.Errorf("log sink cannot be nil")
	}
	if network == nil || reflect.ValueOf(network).IsNil() {
		return nil, fmt.Errorf("network sink cannot be nil")
	}
	if contexts == nil || reflect.ValueOf(contexts).IsNil() {
		return nil, fmt.Errorf("context sink cannot be nil")
	}

	return &Router{
		logger:   logger.Named("router"),
		pending:  pending,
		logs:     logs,
		network:  network,
		contexts: contexts,
	}, nil
}

// Route handles one inbound frame received on the connection identified by key.
func (r *Router) Route(key domain.ConnectionKey, data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		r.logger.Debug("Dropping malformed frame", "connection", key, "error", err)
		return
	}

	if f.IsReply() {
		if !r.pending.Resolve(*f.ID, ReplyFromFrame(f)) {
			r.logger.Trace("Reply for unknown or expired request", "connection", key, "id", *f.ID)
		}
		return
	}

	ev, err := DecodeEvent(f.Method, f.Params)
	if err != nil {
		r.logger.Debug("Dropping undecodable event", "connection", key, "method", f.Method, "error", err)
		return
	}
	r.dispatch(key, ev)
}

// ReplyFromFrame converts a reply frame into a Reply.
func ReplyFromFrame(f Frame) Reply {
	if f.Error != nil {
		return Reply{Err: &RemoteError{Message: f.Error.Text(), Code: f.Error.Code}}
	}
	if len(f.Result) == 0 {
		return Reply{Value: "undefined"}
	}

	var res EvaluateResult
	if err := json.Unmarshal(f.Result, &res); err != nil {
		return Reply{Err: &RemoteError{Message: fmt.Sprintf("malformed result: %v", err)}}
	}
	if res.ExceptionDetails != nil {
		return Reply{Err: &RemoteError{Message: res.ExceptionDetails.Message(), Exception: true}}
	}
	return Reply{Value: FormatValue(res.Result)}
}

func (r *Router) dispatch(key domain.ConnectionKey, ev Event) {
	switch e := ev.(type) {
	case ConsoleAPICalled:
		msg := FormatArgs(e.Args)
		if strings.TrimSpace(msg) == "" {
			return
		}
		kind := e.Type
		if kind == "" {
			kind = "log"
		}
		r.logs.Add(domain.LogEntry{
			Timestamp: epochMillis(e.Timestamp),
			Level:     ConsoleLevel(kind),
			Message:   msg,
			Source:    "console",
			RawArgs:   e.Args,
		})

	case LogEntryAdded:
		r.logs.Add(domain.LogEntry{
			Timestamp: epochMillis(e.Entry.Timestamp),
			Level:     LogEntryLevel(e.Entry.Level),
			Message:   e.Entry.Text,
			Source:    e.Entry.Source,
		})

	case RequestWillBeSent:
		rec := domain.NetworkRecord{
			RequestID:      e.RequestID,
			Timestamp:      epochSeconds(e.WallTime),
			Method:         e.Request.Method,
			URL:            e.Request.URL,
			RequestHeaders: e.Request.Headers.Strings(),
			RequestBody:    e.Request.PostData,
			Timing:         domain.NetworkTiming{RequestTime: e.Timestamp},
		}
		r.network.Add(rec)

	case ResponseReceived:
		r.network.Update(e.RequestID, func(rec *domain.NetworkRecord) {
			status := e.Response.Status
			responseTime := e.Timestamp
			rec.Status = &status
			rec.StatusText = e.Response.StatusText
			rec.ResponseHeaders = e.Response.Headers.Strings()
			rec.MimeType = e.Response.MimeType
			rec.Timing.ResponseTime = &responseTime
		})

	case LoadingFinished:
		r.network.Update(e.RequestID, func(rec *domain.NetworkRecord) {
			rec.Completed = true
			if e.EncodedDataLength != nil {
				n := int64(*e.EncodedDataLength)
				rec.ContentLength = &n
			}
			if rec.Timing.RequestTime > 0 && e.Timestamp > 0 {
				d := int64(math.Round((e.Timestamp - rec.Timing.RequestTime) * 1000))
				rec.Timing.DurationMs = &d
			}
		})

	case LoadingFailed:
		r.network.Update(e.RequestID, func(rec *domain.NetworkRecord) {
			rec.Completed = true
			switch {
			case e.Canceled:
				rec.Error = "Canceled"
			case e.ErrorText != "":
				rec.Error = e.ErrorText
			default:
				rec.Error = "Request failed"
			}
		})

	case ExecutionContextCreated:
		r.contexts.MarkHealthy(key, e.Context.ID, time.Now())

	case ExecutionContextDestroyed:
		r.contexts.MarkStale(key, fmt.Sprintf("execution context %d destroyed", e.ExecutionContextID))

	case ExecutionContextsCleared:
		r.contexts.MarkStale(key, "execution contexts cleared")

	default:
		r.logger.Trace("Ignoring event", "connection", key, "method", ev.EventMethod())
	}
}

// epochMillis converts a protocol timestamp in milliseconds, falling back to now.
func epochMillis(ms float64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(int64(ms))
}

// epochSeconds converts a protocol wall time in seconds, falling back to now.
func epochSeconds(s float64) time.Time {
	if s <= 0 {
		return time.Now()
	}
	return time.Unix(0, int64(s*float64(time.Second)))
}
