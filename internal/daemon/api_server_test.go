package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/buffer"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/errors"
	"github.com/rndebug/rndebug/internal/health"
)

func testAPIDependencies(t *testing.T) APIDependencies {
	t.Helper()

	return APIDependencies{
		Addr:        "127.0.0.1:0",
		Connections: health.NewLedger(0),
		Contexts:    health.NewContextTracker(),
		Logs:        buffer.NewLogBuffer(10),
		Network:     buffer.NewNetworkBuffer(10),
		Logger:      hclog.NewNullLogger(),
	}
}

func TestAPIDependencies_Validate(t *testing.T) {
	t.Parallel()

	var nilLedger *health.Ledger
	var nilLogs *buffer.LogBuffer

	tests := []struct {
		name   string
		mutate func(d *APIDependencies)
		err    string
	}{
		{"valid", func(*APIDependencies) {}, ""},
		{"bad address", func(d *APIDependencies) { d.Addr = "nope" }, "invalid API address 'nope'"},
		{"nil connections", func(d *APIDependencies) { d.Connections = nilLedger }, "connection health monitor cannot be nil"},
		{"nil contexts", func(d *APIDependencies) { d.Contexts = nil }, "context health monitor cannot be nil"},
		{"nil logs", func(d *APIDependencies) { d.Logs = nilLogs }, "log reader cannot be nil"},
		{"nil network", func(d *APIDependencies) { d.Network = nil }, "network reader cannot be nil"},
		{"nil logger", func(d *APIDependencies) { d.Logger = nil }, "logger cannot be nil"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := testAPIDependencies(t)
			tc.mutate(&deps)

			err := deps.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestNewAPIServer_AppliesDefaults(t *testing.T) {
	t.Parallel()

	deps := testAPIDependencies(t)

	server, err := NewAPIServer(deps)
	require.NoError(t, err)
	require.Equal(t, DefaultAPIShutdownTimeout(), server.shutdownTimeout)
	require.False(t, server.cors.Enabled)

	server, err = NewAPIServer(deps, nil, WithShutdownTimeout(3*time.Second), WithCORS([]string{"*"}))
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, server.shutdownTimeout)
	require.True(t, server.cors.Enabled)
}

func TestAPIServer_CORSOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		origins         []string
		credentials     bool
		wantOrigins     []string
		wantCredentials bool
	}{
		{
			name:            "explicit origins keep credentials",
			origins:         []string{"http://localhost:3000", "https://example.com"},
			credentials:     true,
			wantOrigins:     []string{"http://localhost:3000", "https://example.com"},
			wantCredentials: true,
		},
		{
			name:            "wildcard forces credentials off",
			origins:         []string{"http://localhost:3000", " * ", "https://example.com"},
			credentials:     true,
			wantOrigins:     []string{"*"},
			wantCredentials: false,
		},
		{
			name:        "origins are trimmed",
			origins:     []string{"  http://localhost:3000  ", "\thttps://example.com\n"},
			wantOrigins: []string{"http://localhost:3000", "https://example.com"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := &APIServer{
				logger: hclog.NewNullLogger(),
				cors: CORSConfig{
					Enabled:          true,
					AllowOrigins:     tc.origins,
					AllowMethods:     DefaultCORSAllowMethods(),
					AllowCredentials: tc.credentials,
					MaxAge:           time.Minute,
				},
			}

			opts := server.corsOptions()
			require.Equal(t, tc.wantOrigins, opts.AllowedOrigins)
			require.Equal(t, tc.wantCredentials, opts.AllowCredentials)
			require.Equal(t, 60, opts.MaxAge)
		})
	}
}

func TestAPIServer_Handler(t *testing.T) {
	t.Parallel()

	deps := testAPIDependencies(t)
	deps.Logs.(*buffer.LogBuffer).Add(domain.LogEntry{
		Timestamp: time.Now(),
		Level:     domain.LogLevelWarn,
		Message:   "slow render",
	})

	server, err := NewAPIServer(deps, WithCORS([]string{"http://localhost:3000"}))
	require.NoError(t, err)

	handler, prefix, err := server.Handler()
	require.NoError(t, err)
	require.Equal(t, "/api/v1", prefix)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"logs", "/api/v1/logs?level=warn", http.StatusOK},
		{"trailing slash stripped", "/api/v1/logs/", http.StatusOK},
		{"invalid level maps to bad request", "/api/v1/logs?level=verbose", http.StatusBadRequest},
		{"unknown network request maps to not found", "/api/v1/network/requests/missing", http.StatusNotFound},
		{"untracked connection maps to not found", "/api/v1/health/connections/8081/page1", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Get(ts.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tc.status, resp.StatusCode)
			if tc.status != http.StatusOK {
				var body struct {
					Detail string `json:"detail"`
				}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				require.NotEmpty(t, body.Detail)
			}
		})
	}

	t.Run("CORS preflight", func(t *testing.T) {
		t.Parallel()

		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/logs", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestMapError(t *testing.T) {
	t.Parallel()

	logger := hclog.NewNullLogger()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"ErrBadRequest maps to 400", errors.ErrBadRequest, 400},
		{"ErrValidation maps to 400", errors.ErrValidation, 400},
		{"ErrHealthNotTracked maps to 404", errors.ErrHealthNotTracked, 404},
		{"ErrNetworkRequestNotFound maps to 404", errors.ErrNetworkRequestNotFound, 404},
		{"ErrReloadUnavailable maps to 409", errors.ErrReloadUnavailable, 409},
		{"ErrNotConnected maps to 503", errors.ErrNotConnected, 503},
		{"ErrNoTargets maps to 503", errors.ErrNoTargets, 503},
		{"ErrContextLost maps to 503", errors.ErrContextLost, 503},
		{"ErrRetriesExhausted maps to 503", errors.ErrRetriesExhausted, 503},
		{"ErrEvaluationTimeout maps to 504", errors.ErrEvaluationTimeout, 504},
		{"ErrEvaluationFailed maps to 502", errors.ErrEvaluationFailed, 502},
		{"wrapped error keeps its mapping", fmt.Errorf("port 8081: %w", errors.ErrNotConnected), 503},
		{"Unknown error maps to 500", fmt.Errorf("unknown error"), 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expectedStatus, mapError(logger, tc.err).GetStatus())
		})
	}
}

func TestDomainErrorsAreMapped(t *testing.T) {
	t.Parallel()

	for _, err := range domainErrors {
		require.NotEqual(t, http.StatusInternalServerError, mapError(hclog.NewNullLogger(), err).GetStatus(), err.Error())
	}
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	handler := errorHandler(hclog.NewNullLogger())

	tests := []struct {
		name   string
		status int
		errs   []error
		want   int
	}{
		{"no errors keeps status", http.StatusTeapot, nil, http.StatusTeapot},
		{"handler error is mapped", http.StatusInternalServerError, []error{errors.ErrNoTargets}, http.StatusServiceUnavailable},
		{"request validation keeps status", http.StatusUnprocessableEntity, []error{fmt.Errorf("limit must be >= 1")}, http.StatusUnprocessableEntity},
		{"joined errors are mapped", http.StatusInternalServerError, []error{fmt.Errorf("x"), errors.ErrBadRequest}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, handler(nil, tc.status, "msg", tc.errs...).GetStatus())
		})
	}
}
