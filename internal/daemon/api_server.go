package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/api"
	"github.com/rndebug/rndebug/internal/cmd"
	"github.com/rndebug/rndebug/internal/contracts"
	"github.com/rndebug/rndebug/internal/errors"
)

// APIServer serves the read-only debugging API.
// NewAPIServer should be used to create instances of APIServer.
type APIServer struct {
	logger          hclog.Logger
	connections     contracts.ConnectionHealthMonitor
	contexts        contracts.ContextHealthMonitor
	logs            contracts.LogReader
	network         contracts.NetworkReader
	addr            string
	cors            CORSConfig
	shutdownTimeout time.Duration
}

// NewAPIServer creates a new API server with the provided dependencies and options.
func NewAPIServer(deps APIDependencies, opt ...APIOption) (*APIServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for API server: %w", err)
	}

	apiOpts, err := NewAPIOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	return &APIServer{
		logger:          deps.Logger.Named("api"),
		connections:     deps.Connections,
		contexts:        deps.Contexts,
		logs:            deps.Logs,
		network:         deps.Network,
		addr:            deps.Addr,
		cors:            apiOpts.CORS,
		shutdownTimeout: apiOpts.ShutdownTimeout,
	}, nil
}

// Handler builds the HTTP handler with all routes registered.
func (a *APIServer) Handler() (http.Handler, string, error) {
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)

	if a.cors.Enabled {
		a.applyCORS(mux)
	}

	router := humachi.New(mux, huma.DefaultConfig("rndebug docs", cmd.Version()))

	// Configure the error handling wrapping.
	huma.NewErrorWithContext = errorHandler(a.logger)

	prefix, err := api.RegisterRoutes(router, a.connections, a.contexts, a.logs, a.network)
	if err != nil {
		return nil, "", err
	}

	return mux, prefix, nil
}

// Start starts the API server and blocks until the context is canceled or an error occurs.
func (a *APIServer) Start(ctx context.Context) error {
	handler, prefix, err := a.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("Starting API server", "address", a.addr, "prefix", prefix)
		if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down API server...")
		_ = srv.Shutdown(shutdownCtx)
		a.logger.Info("Shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// corsOptions converts the configured CORS settings into middleware options.
// A wildcard origin collapses the list to ["*"] and disables credentials.
func (a *APIServer) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins:   make([]string, 0, len(a.cors.AllowOrigins)),
		AllowedMethods:   a.cors.AllowMethods,
		AllowedHeaders:   a.cors.AllowedHeaders,
		AllowCredentials: a.cors.AllowCredentials,
		MaxAge:           int(a.cors.MaxAge.Seconds()),
	}

	for _, origin := range a.cors.AllowOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			opts.AllowedOrigins = []string{"*"}
			opts.AllowCredentials = false
			break
		}
		opts.AllowedOrigins = append(opts.AllowedOrigins, origin)
	}

	return opts
}

func (a *APIServer) applyCORS(mux *chi.Mux) {
	a.logger.Info("Enabling CORS", "origins", a.cors.AllowOrigins)
	mux.Use(cors.Handler(a.corsOptions()))
}

// mapError maps application domain errors to appropriate HTTP status codes.
//
// NOTE: Keep this function in sync with internal/errors/errors.go.
// Every error defined there should have an explicit case here otherwise it will default to 500.
func mapError(logger hclog.Logger, err error) huma.StatusError {
	switch {
	case stdErrors.Is(err, errors.ErrBadRequest),
		stdErrors.Is(err, errors.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	case stdErrors.Is(err, errors.ErrHealthNotTracked),
		stdErrors.Is(err, errors.ErrNetworkRequestNotFound):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrReloadUnavailable):
		return huma.Error409Conflict(err.Error())
	case stdErrors.Is(err, errors.ErrNotConnected),
		stdErrors.Is(err, errors.ErrNoTargets),
		stdErrors.Is(err, errors.ErrContextLost),
		stdErrors.Is(err, errors.ErrRetriesExhausted):
		return huma.Error503ServiceUnavailable(err.Error())
	case stdErrors.Is(err, errors.ErrEvaluationTimeout):
		return huma.Error504GatewayTimeout(err.Error())
	case stdErrors.Is(err, errors.ErrEvaluationFailed):
		logger.Warn("Evaluation failed", "error", err)
		return huma.Error502BadGateway("runtime error during evaluation", err)
	default:
		logger.Error("Unexpected error serving debugger API", "error", err)
		return huma.Error500InternalServerError("Internal server error", err)
	}
}

// domainErrors lists every sentinel handled explicitly by mapError.
var domainErrors = []error{
	errors.ErrBadRequest,
	errors.ErrValidation,
	errors.ErrHealthNotTracked,
	errors.ErrNetworkRequestNotFound,
	errors.ErrReloadUnavailable,
	errors.ErrNotConnected,
	errors.ErrNoTargets,
	errors.ErrContextLost,
	errors.ErrRetriesExhausted,
	errors.ErrEvaluationTimeout,
	errors.ErrEvaluationFailed,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if stdErrors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorHandler wraps error handling for the application when converting to API friendly errors.
// Request validation failures raised by huma keep their original status.
func errorHandler(logger hclog.Logger) func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
	return func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if len(errs) == 0 {
			return huma.NewError(status, msg)
		}

		err := errs[0]
		if len(errs) > 1 {
			err = stdErrors.Join(errs...)
		}

		if status < http.StatusInternalServerError && !isDomainError(err) {
			return huma.NewError(status, msg, errs...)
		}

		return mapError(logger, err)
	}
}
