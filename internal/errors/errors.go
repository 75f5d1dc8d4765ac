// Package errors defines domain-level errors used throughout the application.
// These errors represent business logic failures and are mapped to appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrHealthNotTracked indicates that no connection has ever been attempted for the requested key.
	// Recommended to map to HTTP 404 Not Found.
	ErrHealthNotTracked = errors.New("connection health is not being tracked")

	// ErrNetworkRequestNotFound indicates that the requested network record is not (or no longer) buffered.
	// Recommended to map to HTTP 404 Not Found.
	ErrNetworkRequestNotFound = errors.New("network request not found")

	// ErrNotConnected indicates that no live connection exists and none could be established.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrNotConnected = errors.New("not connected")

	// ErrNoTargets indicates that no inspector port or debuggable target could be found.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrNoTargets = errors.New("no debuggable targets found")

	// ErrValidation indicates that an expression was rejected before it was sent to the runtime.
	// The message always carries a remediation hint.
	// Recommended to map to HTTP 400 Bad Request.
	ErrValidation = errors.New("expression rejected")

	// ErrEvaluationTimeout indicates that the runtime did not reply to an evaluate request in time.
	// Recommended to map to HTTP 504 Gateway Timeout.
	ErrEvaluationTimeout = errors.New("evaluation timed out")

	// ErrEvaluationFailed indicates that the runtime reported a protocol error or a thrown exception.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrContextLost indicates that the execution context kept disappearing across retries.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrContextLost = errors.New("execution context lost")

	// ErrRetriesExhausted indicates that every retry failed without a more specific error.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrRetriesExhausted = errors.New("execution failed after retries")

	// ErrReloadUnavailable indicates that the app exposes no reload hook.
	// Recommended to map to HTTP 409 Conflict.
	ErrReloadUnavailable = errors.New("reload unavailable")
)
