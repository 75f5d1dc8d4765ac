package daemon

import (
	"fmt"
	"io"
	"time"
)

// Options contains optional configuration for the daemon.
// NewOptions should be used to create instances of Options.
type Options struct {
	// APIOptions contains functional options for the API server.
	APIOptions []APIOption

	// HealthCheckInterval specifies how often to probe the active execution context.
	HealthCheckInterval time.Duration

	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout time.Duration

	// AutoConnect discovers and connects to the preferred target on startup.
	AutoConnect bool

	// MCPIn and MCPOut carry the MCP stdio transport, both nil when disabled.
	MCPIn  io.Reader
	MCPOut io.Writer
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
// Starts with default values, then applies options in order with later options overriding earlier ones.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithAPIOptions configures API server options.
// Replaces all previous API configuration including CORS settings.
func WithAPIOptions(apiOpts ...APIOption) Option {
	return func(o *Options) error {
		o.APIOptions = apiOpts
		return nil
	}
}

// WithHealthCheckInterval configures how often to probe the execution context.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("health check interval must be positive, got %v", interval)
		}
		o.HealthCheckInterval = interval
		return nil
	}
}

// WithHealthCheckTimeout configures the maximum time to wait for a probe.
func WithHealthCheckTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("health check timeout must be positive, got %v", timeout)
		}
		o.HealthCheckTimeout = timeout
		return nil
	}
}

// WithAutoConnect toggles connecting to the preferred target on startup.
func WithAutoConnect(enabled bool) Option {
	return func(o *Options) error {
		o.AutoConnect = enabled
		return nil
	}
}

// WithMCPStdio serves MCP tools over the given streams.
func WithMCPStdio(in io.Reader, out io.Writer) Option {
	return func(o *Options) error {
		if in == nil || out == nil {
			return fmt.Errorf("MCP stdio requires both input and output streams")
		}
		o.MCPIn = in
		o.MCPOut = out
		return nil
	}
}

// DefaultHealthCheckInterval is the default interval for health checks.
func DefaultHealthCheckInterval() time.Duration {
	return 10 * time.Second
}

// DefaultHealthCheckTimeout is the default timeout for health check responses.
func DefaultHealthCheckTimeout() time.Duration {
	return 3 * time.Second
}

func defaultOptions() Options {
	return Options{
		HealthCheckInterval: DefaultHealthCheckInterval(),
		HealthCheckTimeout:  DefaultHealthCheckTimeout(),
		AutoConnect:         true,
	}
}
