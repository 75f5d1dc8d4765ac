package api

import (
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/health"
)

// APIVersion is the version used in the OpenAPI spec and URL paths.
const APIVersion = "v1"

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g., "/api/v1") under which the routes are created.
func RegisterRoutes(
	router huma.API,
	connections contracts.ConnectionHealthMonitor,
	contexts contracts.ContextHealthMonitor,
	logs contracts.LogReader,
	network contracts.NetworkReader,
) (string, error) {
	if router == nil || reflect.ValueOf(router).IsNil() {
		return "", fmt.Errorf("router cannot be nil")
	}
	if connections == nil || reflect.ValueOf(connections).IsNil() {
		return "", fmt.Errorf("connection health monitor cannot be nil")
	}
	if contexts == nil || reflect.ValueOf(contexts).IsNil() {
		return "", fmt.Errorf("context health monitor cannot be nil")
	}
	if logs == nil || reflect.ValueOf(logs).IsNil() {
		return "", fmt.Errorf("log reader cannot be nil")
	}
	if network == nil || reflect.ValueOf(network).IsNil() {
		return "", fmt.Errorf("network reader cannot be nil")
	}

	// Safe way to ensure /api/{version}.
	apiPathPrefix, err := url.JoinPath("/api", APIVersion)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	// Group all routes under the /api/{version} prefix.
	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterHealthRoutes(versionedGroup, connections, contexts, "/health")
	RegisterLogRoutes(versionedGroup, logs, connections)
	RegisterNetworkRoutes(versionedGroup, network, connections)

	return apiPathPrefix, nil
}

// gapWarnings describes connectivity gaps recent enough that buffered data may be incomplete.
func gapWarnings(connections contracts.ConnectionHealthMonitor) []string {
	return connections.GapWarnings(time.Now(), health.DefaultGapWarningWindow)
}
