package connection

import (
	"fmt"
	"slices"
	"time"

	"github.com/rndebug/rndebug/internal/health"
)

// Options contains optional configuration for the Manager.
// NewOptions should be used to create instances of Options.
type Options struct {
	// ConnectTimeout bounds the transport handshake.
	ConnectTimeout time.Duration

	// StabilityWindow is how long a connection must stay up before its reconnection attempts reset.
	StabilityWindow time.Duration

	// MaxReconnectAttempts caps consecutive reconnection attempts for a key.
	MaxReconnectAttempts int

	// BackoffSchedule holds the reconnection delays indexed by attempt.
	BackoffSchedule []time.Duration

	// EnableTimeout bounds the protocol domain enable writes sent once a transport opens.
	EnableTimeout time.Duration

	// DeviceResolveTimeout bounds the best-effort device lookup after connecting.
	DeviceResolveTimeout time.Duration

	// DiscoveryTimeout bounds target re-discovery during reconnection.
	DiscoveryTimeout time.Duration
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

// WithConnectTimeout configures the handshake timeout.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		o.ConnectTimeout = timeout
		return nil
	}
}

// WithStabilityWindow configures how long a connection must live to reset its attempt count.
func WithStabilityWindow(window time.Duration) Option {
	return func(o *Options) error {
		if window < 0 {
			return fmt.Errorf("stability window cannot be negative, got %v", window)
		}
		o.StabilityWindow = window
		return nil
	}
}

// WithMaxReconnectAttempts caps reconnection attempts. Zero disables reconnection.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("max reconnect attempts cannot be negative, got %d", n)
		}
		o.MaxReconnectAttempts = n
		return nil
	}
}

// WithBackoffSchedule replaces the reconnection delays.
func WithBackoffSchedule(schedule []time.Duration) Option {
	return func(o *Options) error {
		if len(schedule) == 0 {
			return fmt.Errorf("backoff schedule cannot be empty")
		}
		for i, d := range schedule {
			if d < 0 {
				return fmt.Errorf("backoff delay %d cannot be negative, got %v", i, d)
			}
		}
		o.BackoffSchedule = slices.Clone(schedule)
		return nil
	}
}

// WithEnableTimeout configures how long enabling protocol domains may take after connecting.
func WithEnableTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("enable timeout must be positive, got %v", timeout)
		}
		o.EnableTimeout = timeout
		return nil
	}
}

// WithDeviceResolveTimeout configures how long device lookup may take.
func WithDeviceResolveTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("device resolve timeout must be positive, got %v", timeout)
		}
		o.DeviceResolveTimeout = timeout
		return nil
	}
}

// WithDiscoveryTimeout configures how long target re-discovery may take.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("discovery timeout must be positive, got %v", timeout)
		}
		o.DiscoveryTimeout = timeout
		return nil
	}
}

// DefaultConnectTimeout is the default handshake timeout.
func DefaultConnectTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultStabilityWindow is the default minimum lifetime for a connection to count as stable.
func DefaultStabilityWindow() time.Duration {
	return 10 * time.Second
}

// DefaultMaxReconnectAttempts is the default reconnection cap.
func DefaultMaxReconnectAttempts() int {
	return 8
}

func defaultOptions() Options {
	return Options{
		ConnectTimeout:       DefaultConnectTimeout(),
		StabilityWindow:      DefaultStabilityWindow(),
		MaxReconnectAttempts: DefaultMaxReconnectAttempts(),
		BackoffSchedule:      health.DefaultBackoffSchedule(),
		EnableTimeout:        time.Second,
		DeviceResolveTimeout: 3 * time.Second,
		DiscoveryTimeout:     3 * time.Second,
	}
}
