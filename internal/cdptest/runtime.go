// Package cdptest provides an in-process inspector proxy for tests. It serves
// the Metro discovery endpoints and a DevTools WebSocket backed by a real
// JavaScript engine, so the connection and evaluation paths run end to end.
package cdptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/gorilla/websocket"

	"github.com/rndebug/rndebug/internal/domain"
)

// Target is a debuggable page advertised on /json/list.
type Target struct {
	ID          string
	Title       string
	Description string
	DeviceName  string
}

// Reply is a canned answer to a request: either a result object or a protocol error.
type Reply struct {
	Result any
	Error  *ProtocolError
}

// ProtocolError is the error member of a reply.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EvaluateHandler may answer a Runtime.evaluate request instead of the JavaScript engine.
// Returning false falls through to the engine.
type EvaluateHandler func(expression string) (Reply, bool)

// Option configures a Runtime.
type Option func(*Runtime)

// WithTargets replaces the default single Hermes target.
func WithTargets(targets ...Target) Option {
	return func(r *Runtime) {
		r.targets = targets
	}
}

// WithoutPackager makes /status report a stopped packager.
func WithoutPackager() Option {
	return func(r *Runtime) {
		r.packagerDown = true
	}
}

// Runtime is a fake Metro inspector proxy with one JavaScript engine shared by every target.
type Runtime struct {
	server       *httptest.Server
	upgrader     websocket.Upgrader
	targets      []Target
	packagerDown bool

	mu          sync.Mutex
	vm          *goja.Runtime
	peers       map[*peer]struct{}
	contextID   int64
	methods     []string
	evaluations []string
	handler     EvaluateHandler
	silent      bool

	accepted atomic.Int64
	reloads  atomic.Int64
}

type peer struct {
	conn     *websocket.Conn
	targetID string
	wmu      sync.Mutex
}

func (p *peer) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// New starts a fake inspector proxy. Callers must Close it.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		targets: []Target{{
			ID:          "page1",
			Title:       "Hermes React Native",
			Description: "React Native Bridgeless [C++ connection]",
			DeviceName:  "sdk_gphone64_arm64",
		}},
		vm:    goja.New(),
		peers: make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/json/list", r.handleList)
	mux.HandleFunc("/json", r.handleList)
	mux.HandleFunc("/inspector/debug", r.handleDebug)
	r.server = httptest.NewServer(mux)

	return r
}

// Close disconnects every peer and stops the server.
func (r *Runtime) Close() {
	r.DropConnections()
	r.server.Close()
}

// URL is the proxy's HTTP base URL.
func (r *Runtime) URL() string {
	return r.server.URL
}

// Host is the proxy's listen host.
func (r *Runtime) Host() string {
	host, _, _ := net.SplitHostPort(r.server.Listener.Addr().String())
	return host
}

// Port is the proxy's listen port.
func (r *Runtime) Port() int {
	_, port, _ := net.SplitHostPort(r.server.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Descriptors returns the advertised targets as discovery would.
func (r *Runtime) Descriptors() []domain.TargetDescriptor {
	out := make([]domain.TargetDescriptor, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, domain.TargetDescriptor{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			TransportURL: r.transportURL(t.ID),
			DisplayName:  t.DeviceName,
		})
	}
	return out
}

// Target returns the first advertised target.
func (r *Runtime) Target() domain.TargetDescriptor {
	return r.Descriptors()[0]
}

// SetEvaluateHandler installs fn ahead of the JavaScript engine. A nil fn removes it.
// fn runs with the runtime locked and must not call back into it.
func (r *Runtime) SetEvaluateHandler(fn EvaluateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = fn
}

// SetSilent stops the runtime from answering evaluate requests.
func (r *Runtime) SetSilent(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.silent = silent
}

// InstallDevSettings exposes a __DevSettings.reload hook.
func (r *Runtime) InstallDevSettings() {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.vm.Set("__DevSettings", map[string]any{
		"reload": func() { r.reloads.Add(1) },
	})
}

// InstallFastRefresh exposes a __ReactRefresh.performFullRefresh hook.
func (r *Runtime) InstallFastRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.vm.Set("__ReactRefresh", map[string]any{
		"performFullRefresh": func(string) { r.reloads.Add(1) },
	})
}

// Reloads counts calls to either reload hook.
func (r *Runtime) Reloads() int {
	return int(r.reloads.Load())
}

// Accepted counts WebSocket upgrades served so far.
func (r *Runtime) Accepted() int {
	return int(r.accepted.Load())
}

// Connections counts currently connected peers.
func (r *Runtime) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.peers)
}

// Methods returns every request method received, in order.
func (r *Runtime) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.methods...)
}

// Evaluations returns every evaluated expression, in order.
func (r *Runtime) Evaluations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.evaluations...)
}

// Emit sends an event to every connected peer.
func (r *Runtime) Emit(method string, params any) {
	for _, p := range r.snapshotPeers() {
		_ = p.write(map[string]any{"method": method, "params": params})
	}
}

// EmitConsole emits a Runtime.consoleAPICalled event with primitive arguments.
func (r *Runtime) EmitConsole(kind string, args ...any) {
	objs := make([]map[string]any, 0, len(args))
	for _, a := range args {
		objs = append(objs, remoteObject(r.valueOf(a)))
	}
	r.Emit("Runtime.consoleAPICalled", map[string]any{
		"type":      kind,
		"args":      objs,
		"timestamp": float64(time.Now().UnixMilli()),
	})
}

// DropConnections closes every peer's transport without a close handshake.
func (r *Runtime) DropConnections() {
	for _, p := range r.snapshotPeers() {
		_ = p.conn.Close()
	}
}

// WaitForConnections polls until exactly n peers are connected or timeout elapses.
func (r *Runtime) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Connections() == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return r.Connections() == n
}

func (r *Runtime) snapshotPeers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Runtime) transportURL(id string) string {
	return fmt.Sprintf("ws://%s/inspector/debug?device=0&page=%s", r.server.Listener.Addr(), id)
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if r.packagerDown {
		http.Error(w, "packager-status:stopped", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("packager-status:running"))
}

func (r *Runtime) handleList(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		ID                   string `json:"id"`
		Title                string `json:"title"`
		Description          string `json:"description"`
		Type                 string `json:"type"`
		DeviceName           string `json:"deviceName,omitempty"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}

	list := make([]entry, 0, len(r.targets)+1)
	for _, t := range r.targets {
		list = append(list, entry{
			ID:                   t.ID,
			Title:                t.Title,
			Description:          t.Description,
			Type:                 "node",
			DeviceName:           t.DeviceName,
			WebSocketDebuggerURL: r.transportURL(t.ID),
		})
	}
	// Entries without a debugger URL are not debuggable and must be filtered by clients.
	list = append(list, entry{ID: "detached", Title: "React Native Experimental (Detached)"})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (r *Runtime) handleDebug(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.accepted.Add(1)

	p := &peer{conn: conn, targetID: req.URL.Query().Get("page")}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.handleRequest(p, data)
	}
}

type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (r *Runtime) handleRequest(p *peer, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	r.mu.Lock()
	r.methods = append(r.methods, req.Method)
	r.mu.Unlock()

	switch req.Method {
	case "Runtime.enable":
		r.reply(p, req.ID, Reply{Result: map[string]any{}})
		r.mu.Lock()
		r.contextID++
		id := r.contextID
		r.mu.Unlock()
		_ = p.write(map[string]any{
			"method": "Runtime.executionContextCreated",
			"params": map[string]any{"context": map[string]any{"id": id, "name": "main", "origin": ""}},
		})
	case "Log.enable", "Network.enable":
		r.reply(p, req.ID, Reply{Result: map[string]any{}})
	case "Runtime.evaluate":
		var params struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(req.Params, &params)
		reply, ok := r.evaluate(params.Expression)
		if ok {
			r.reply(p, req.ID, reply)
		}
	default:
		r.reply(p, req.ID, Reply{Error: &ProtocolError{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}})
	}
}

func (r *Runtime) reply(p *peer, id int64, reply Reply) {
	msg := map[string]any{"id": id}
	if reply.Error != nil {
		msg["error"] = reply.Error
	} else {
		msg["result"] = reply.Result
	}
	_ = p.write(msg)
}

func (r *Runtime) evaluate(expression string) (Reply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluations = append(r.evaluations, expression)
	if r.silent {
		return Reply{}, false
	}
	if r.handler != nil {
		if reply, ok := r.handler(expression); ok {
			return reply, true
		}
	}

	v, err := r.vm.RunString(expression)
	if err != nil {
		return ExceptionReply(describe(err)), true
	}

	if promise, ok := v.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			v = promise.Result()
		case goja.PromiseStateRejected:
			return ExceptionReply(promise.Result().String()), true
		}
	}
	return ValueReply(remoteObject(v)), true
}

func (r *Runtime) valueOf(v any) goja.Value {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.vm.ToValue(v)
}

// ValueReply wraps a remote object as an evaluate result.
func ValueReply(obj map[string]any) Reply {
	return Reply{Result: map[string]any{"result": obj}}
}

// ExceptionReply is an evaluate result carrying a thrown exception.
func ExceptionReply(description string) Reply {
	return Reply{Result: map[string]any{
		"result": map[string]any{"type": "object", "subtype": "error", "description": description},
		"exceptionDetails": map[string]any{
			"text":      "Uncaught",
			"exception": map[string]any{"type": "object", "subtype": "error", "description": description},
		},
	}}
}

// ErrorReply is a protocol-level error.
func ErrorReply(code int, message string) Reply {
	return Reply{Error: &ProtocolError{Code: code, Message: message}}
}

func describe(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value().String()
	}
	return err.Error()
}

func remoteObject(v goja.Value) map[string]any {
	if v == nil || goja.IsUndefined(v) {
		return map[string]any{"type": "undefined"}
	}
	if goja.IsNull(v) {
		return map[string]any{"type": "object", "subtype": "null", "value": nil}
	}
	if _, ok := goja.AssertFunction(v); ok {
		return map[string]any{"type": "function", "description": v.String()}
	}

	switch x := v.Export().(type) {
	case string:
		return map[string]any{"type": "string", "value": x}
	case bool:
		return map[string]any{"type": "boolean", "value": x}
	case int64:
		return map[string]any{"type": "number", "value": x}
	case float64:
		switch {
		case math.IsNaN(x):
			return map[string]any{"type": "number", "unserializableValue": "NaN"}
		case math.IsInf(x, 1):
			return map[string]any{"type": "number", "unserializableValue": "Infinity"}
		case math.IsInf(x, -1):
			return map[string]any{"type": "number", "unserializableValue": "-Infinity"}
		}
		return map[string]any{"type": "number", "value": x}
	default:
		return map[string]any{"type": "object", "value": x}
	}
}
