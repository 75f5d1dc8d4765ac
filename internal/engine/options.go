package engine

import (
	"fmt"
	"time"
)

// Options contains optional configuration for the Engine.
// NewOptions should be used to create instances of Options.
type Options struct {
	// RequestTimeout bounds the wait for a Runtime.evaluate reply.
	RequestTimeout time.Duration

	// MaxRetries is the default number of retries after a recoverable failure.
	MaxRetries int

	// RetryDelay is the default pause between retries.
	RetryDelay time.Duration

	// ProbeTimeout bounds the health probe evaluation.
	ProbeTimeout time.Duration

	// DiscoveryTimeout bounds port scanning and target listing during auto-connect.
	DiscoveryTimeout time.Duration

	// ReloadSettleDelay is how long to wait after triggering a reload before tearing connections down.
	ReloadSettleDelay time.Duration

	// ReloadCleanupDelay is how long to wait after tearing connections down before reconnecting.
	ReloadCleanupDelay time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
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

// WithRequestTimeout configures the evaluate reply timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", timeout)
		}
		o.RequestTimeout = timeout
		return nil
	}
}

// WithMaxRetries configures the default retry count.
func WithMaxRetries(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("max retries cannot be negative, got %d", n)
		}
		o.MaxRetries = n
		return nil
	}
}

// WithRetryDelay configures the default pause between retries.
func WithRetryDelay(delay time.Duration) Option {
	return func(o *Options) error {
		if delay < 0 {
			return fmt.Errorf("retry delay cannot be negative, got %v", delay)
		}
		o.RetryDelay = delay
		return nil
	}
}

// WithProbeTimeout configures the health probe timeout.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("probe timeout must be positive, got %v", timeout)
		}
		o.ProbeTimeout = timeout
		return nil
	}
}

// WithDiscoveryTimeout configures how long auto-connect may spend discovering targets.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("discovery timeout must be positive, got %v", timeout)
		}
		o.DiscoveryTimeout = timeout
		return nil
	}
}

// WithReloadDelays configures the pauses around tearing connections down during a reload.
func WithReloadDelays(settle time.Duration, cleanup time.Duration) Option {
	return func(o *Options) error {
		if settle < 0 || cleanup < 0 {
			return fmt.Errorf("reload delays cannot be negative, got %v and %v", settle, cleanup)
		}
		o.ReloadSettleDelay = settle
		o.ReloadCleanupDelay = cleanup
		return nil
	}
}

// DefaultRequestTimeout is the default evaluate reply timeout.
func DefaultRequestTimeout() time.Duration {
	return 10 * time.Second
}

// DefaultMaxRetries is the default retry count.
func DefaultMaxRetries() int {
	return 2
}

// DefaultRetryDelay is the default pause between retries.
func DefaultRetryDelay() time.Duration {
	return time.Second
}

// DefaultReloadSettleDelay is how long a reload waits before dropping connections.
func DefaultReloadSettleDelay() time.Duration {
	return 2 * time.Second
}

// DefaultReloadCleanupDelay is how long a reload waits before reconnecting.
func DefaultReloadCleanupDelay() time.Duration {
	return 500 * time.Millisecond
}

func defaultOptions() Options {
	return Options{
		RequestTimeout:     DefaultRequestTimeout(),
		MaxRetries:         DefaultMaxRetries(),
		RetryDelay:         DefaultRetryDelay(),
		ProbeTimeout:       3 * time.Second,
		DiscoveryTimeout:   5 * time.Second,
		ReloadSettleDelay:  DefaultReloadSettleDelay(),
		ReloadCleanupDelay: DefaultReloadCleanupDelay(),
	}
}
