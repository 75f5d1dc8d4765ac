package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/errors"
	"github.com/rndebug/rndebug/internal/health"
)

func TestParseConnectionStatus_ValidCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    domain.ConnectionStatus
		expected ConnectionStatus
	}{
		{"connecting", domain.ConnectionStatusConnecting, ConnectionStatusConnecting},
		{"connected", domain.ConnectionStatusConnected, ConnectionStatusConnected},
		{"disconnected", domain.ConnectionStatusDisconnected, ConnectionStatusDisconnected},
		{"reconnecting", domain.ConnectionStatusReconnecting, ConnectionStatusReconnecting},
		{"superseded", domain.ConnectionStatusSuperseded, ConnectionStatusSuperseded},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseConnectionStatus(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestParseConnectionStatus_InvalidCase(t *testing.T) {
	t.Parallel()

	input := domain.ConnectionStatus("invalid-status")
	_, err := parseConnectionStatus(input)
	require.EqualError(t, err, fmt.Sprintf("unknown connection status: %s", input))
}

func TestDomainConnectionHealth_ToAPIType(t *testing.T) {
	t.Parallel()

	opened := time.Now().Add(-time.Minute)
	closed := opened.Add(1500 * time.Millisecond)
	delay := 2 * time.Second

	got, err := DomainConnectionHealth(domain.ConnectionHealth{
		Key:                  domain.ConnectionKey{Port: 8081, TargetID: "page1"},
		Status:               domain.ConnectionStatusReconnecting,
		ReconnectionAttempts: 3,
		NextReconnectDelay:   &delay,
		Gaps:                 []domain.Gap{{OpenedAt: opened, ClosedAt: &closed, Reason: "socket closed"}},
	}).ToAPIType()
	require.NoError(t, err)

	require.Equal(t, 8081, got.Port)
	require.Equal(t, "page1", got.TargetID)
	require.Equal(t, ConnectionStatusReconnecting, got.Status)
	require.Equal(t, uint(3), got.ReconnectionAttempts)
	require.NotNil(t, got.NextReconnectDelay)
	require.Equal(t, "2s", *got.NextReconnectDelay)
	require.Len(t, got.Gaps, 1)
	require.Equal(t, "1.5s", got.Gaps[0].Duration)
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	key := domain.ConnectionKey{Port: 8081, TargetID: "page1"}
	f.ledger.MarkConnected(key, time.Now())
	f.contexts.Reset(key)
	f.contexts.MarkHealthy(key, 3, time.Now())

	resp := f.api.Get("/api/v1/health/connections")
	require.Equal(t, http.StatusOK, resp.Code)
	conns := decode[struct {
		Connections []ConnectionHealth `json:"connections"`
	}](t, resp.Body.Bytes())
	require.Len(t, conns.Connections, 1)
	require.Equal(t, ConnectionStatusConnected, conns.Connections[0].Status)

	resp = f.api.Get("/api/v1/health/connections/8081/page1")
	require.Equal(t, http.StatusOK, resp.Code)
	one := decode[ConnectionHealth](t, resp.Body.Bytes())
	require.Equal(t, "page1", one.TargetID)

	resp = f.api.Get("/api/v1/health/contexts")
	require.Equal(t, http.StatusOK, resp.Code)
	ctxs := decode[struct {
		Contexts []ContextHealth `json:"contexts"`
	}](t, resp.Body.Bytes())
	require.Len(t, ctxs.Contexts, 1)
	require.NotNil(t, ctxs.Contexts[0].ContextID)
	require.Equal(t, int64(3), *ctxs.Contexts[0].ContextID)
	require.False(t, ctxs.Contexts[0].IsStale)
}

func TestHandleConnectionHealth_NotTracked(t *testing.T) {
	t.Parallel()

	_, err := handleConnectionHealth(health.NewLedger(0), domain.ConnectionKey{Port: 1, TargetID: "x"})
	require.ErrorIs(t, err, errors.ErrHealthNotTracked)
}
