package cdp

import (
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/health"
)

var routerKey = domain.ConnectionKey{Port: 8081, TargetID: "page1"}

type routerFixture struct {
	router   *Router
	pending  *Pending
	logs     *buffer.LogBuffer
	network  *buffer.NetworkBuffer
	contexts *health.ContextTracker
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()

	f := routerFixture{
		pending:  NewPending(),
		logs:     buffer.NewLogBuffer(10),
		network:  buffer.NewNetworkBuffer(10),
		contexts: health.NewContextTracker(),
	}
	r, err := NewRouter(hclog.NewNullLogger(), f.pending, f.logs, f.network, f.contexts)
	require.NoError(t, err)
	f.router = r
	return f
}

func (f routerFixture) route(format string, args ...any) {
	f.router.Route(routerKey, []byte(fmt.Sprintf(format, args...)))
}

func TestNewRouter_Validation(t *testing.T) {
	t.Parallel()

	var nilLogs *buffer.LogBuffer
	_, err := NewRouter(hclog.NewNullLogger(), NewPending(), nilLogs, buffer.NewNetworkBuffer(1), health.NewContextTracker())
	require.EqualError(t, err, "log sink cannot be nil")

	_, err = NewRouter(nil, NewPending(), buffer.NewLogBuffer(1), buffer.NewNetworkBuffer(1), health.NewContextTracker())
	require.EqualError(t, err, "logger cannot be nil")
}

func TestRouter_Replies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  string
		want    string
		wantErr string
	}{
		{
			name:   "value",
			result: `"result":{"result":{"type":"number","value":2}}`,
			want:   "2",
		},
		{
			name:   "absent result",
			result: `"result":{}`,
			want:   "undefined",
		},
		{
			name:    "exception description",
			result:  `"result":{"result":{"type":"object"},"exceptionDetails":{"text":"Uncaught","exception":{"type":"object","description":"X"}}}`,
			wantErr: "X",
		},
		{
			name:    "exception text",
			result:  `"result":{"exceptionDetails":{"text":"SyntaxError: unexpected token"}}`,
			wantErr: "SyntaxError: unexpected token",
		},
		{
			name:    "protocol error",
			result:  `"error":{"code":-32000,"message":"Cannot find context with specified id"}`,
			wantErr: "Cannot find context with specified id",
		},
		{
			name:    "protocol error code only",
			result:  `"error":{"code":-32601}`,
			wantErr: "CDP error code -32601",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newRouterFixture(t)
			id, ch := f.pending.Register("c", MethodRuntimeEvaluate, time.Minute)
			f.route(`{"id":%d,%s}`, id, tc.result)

			reply := <-ch
			require.Zero(t, f.pending.Len())
			if tc.wantErr != "" {
				require.EqualError(t, reply.Err, tc.wantErr)
				var remote *RemoteError
				require.ErrorAs(t, reply.Err, &remote)
				return
			}
			require.NoError(t, reply.Err)
			require.Equal(t, tc.want, reply.Value)
		})
	}
}

func TestRouter_UnknownReplyAndEventsIgnored(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.route(`{"id":999,"result":{}}`)
	f.route(`{"method":"Debugger.scriptParsed","params":{"scriptId":"1"}}`)
	f.route(`not json`)
	f.route(`{"method":"Runtime.consoleAPICalled","params":{"args":"wrong"}}`)

	require.Zero(t, f.logs.Len())
	require.Zero(t, f.network.Len())
}

func TestRouter_Console(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.route(`{"method":"Runtime.consoleAPICalled","params":{"type":"warning","timestamp":1700000000000,"args":[{"type":"string","value":"low memory"},{"type":"number","value":12}]}}`)
	f.route(`{"method":"Runtime.consoleAPICalled","params":{"args":[{"type":"string","value":"no type"}]}}`)
	f.route(`{"method":"Runtime.consoleAPICalled","params":{"type":"log","args":[{"type":"string","value":"   "}]}}`)
	f.route(`{"method":"Log.entryAdded","params":{"entry":{"source":"javascript","level":"verbose","text":"bridge ready","timestamp":1700000000500}}}`)

	entries := f.logs.Query(buffer.LogQuery{})
	require.Len(t, entries, 3, "blank console messages are dropped")

	require.Equal(t, domain.LogLevelWarn, entries[0].Level)
	require.Equal(t, "low memory 12", entries[0].Message)
	require.Len(t, entries[0].RawArgs, 2)
	require.Equal(t, time.UnixMilli(1700000000000), entries[0].Timestamp)

	require.Equal(t, domain.LogLevelLog, entries[1].Level)

	require.Equal(t, domain.LogLevelDebug, entries[2].Level)
	require.Equal(t, "bridge ready", entries[2].Message)
	require.Equal(t, "javascript", entries[2].Source)
}

func TestRouter_NetworkLifecycle(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.route(`{"method":"Network.requestWillBeSent","params":{"requestId":"r1","timestamp":100.0,"wallTime":1700000000,"request":{"url":"https://api.example.com/users","method":"POST","headers":{"Content-Type":"application/json","X-Retry":2},"postData":"{}"}}}`)

	rec, ok := f.network.Get("r1")
	require.True(t, ok)
	require.False(t, rec.Completed)
	require.Equal(t, "POST", rec.Method)
	require.Equal(t, "2", rec.RequestHeaders["X-Retry"])
	require.Equal(t, "{}", *rec.RequestBody)

	f.route(`{"method":"Network.responseReceived","params":{"requestId":"r1","timestamp":100.1,"response":{"status":201,"statusText":"Created","headers":{"Content-Length":"10"},"mimeType":"application/json"}}}`)
	f.route(`{"method":"Network.loadingFinished","params":{"requestId":"r1","timestamp":100.25,"encodedDataLength":512}}`)

	rec, _ = f.network.Get("r1")
	require.True(t, rec.Completed)
	require.Equal(t, 201, *rec.Status)
	require.Equal(t, "Created", rec.StatusText)
	require.Equal(t, "application/json", rec.MimeType)
	require.Equal(t, int64(512), *rec.ContentLength)
	require.Equal(t, int64(250), *rec.Timing.DurationMs)

	// Events for completed or unknown requests are ignored.
	f.route(`{"method":"Network.loadingFailed","params":{"requestId":"r1","errorText":"late"}}`)
	f.route(`{"method":"Network.responseReceived","params":{"requestId":"nope","response":{"status":200}}}`)
	rec, _ = f.network.Get("r1")
	require.Empty(t, rec.Error)
	require.Equal(t, 1, f.network.Len())
}

func TestRouter_NetworkFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params string
		want   string
	}{
		{name: "canceled", params: `"canceled":true,"errorText":"net::ERR_ABORTED"`, want: "Canceled"},
		{name: "error text", params: `"errorText":"net::ERR_CONNECTION_REFUSED"`, want: "net::ERR_CONNECTION_REFUSED"},
		{name: "generic", params: `"errorText":""`, want: "Request failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newRouterFixture(t)
			f.route(`{"method":"Network.requestWillBeSent","params":{"requestId":"r1","timestamp":1,"request":{"url":"http://x","method":"GET"}}}`)
			f.route(`{"method":"Network.loadingFailed","params":{"requestId":"r1",%s}}`, tc.params)

			rec, ok := f.network.Get("r1")
			require.True(t, ok)
			require.True(t, rec.Completed)
			require.Equal(t, tc.want, rec.Error)
		})
	}
}

func TestRouter_ExecutionContexts(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.route(`{"method":"Runtime.executionContextCreated","params":{"context":{"id":5,"name":"main","origin":""}}}`)

	h, ok := f.contexts.Get(routerKey)
	require.True(t, ok)
	require.Equal(t, int64(5), *h.ContextID)
	require.False(t, h.IsStale)

	f.route(`{"method":"Runtime.executionContextDestroyed","params":{"executionContextId":5}}`)
	h, _ = f.contexts.Get(routerKey)
	require.True(t, h.IsStale)
	require.Contains(t, h.StaleReason, "5")

	f.route(`{"method":"Runtime.executionContextCreated","params":{"context":{"id":6}}}`)
	f.route(`{"method":"Runtime.executionContextsCleared","params":{}}`)
	h, _ = f.contexts.Get(routerKey)
	require.True(t, h.IsStale)
	require.Equal(t, int64(6), *h.ContextID)
}
