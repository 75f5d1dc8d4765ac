package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Duration is a custom time.Duration type that provides improved marshaling.
type Duration time.Duration

// APIConfigSection contains API server configuration settings.
type APIConfigSection struct {
	// Address to bind the API server (e.g., "127.0.0.1:8090").
	Addr *string `toml:"addr,omitempty" yaml:"addr,omitempty"`

	// ShutdownTimeout bounds graceful API server shutdown.
	ShutdownTimeout *Duration `toml:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`

	// Nested CORS configuration for cross-origin requests.
	CORS *CORSConfigSection `toml:"cors,omitempty" yaml:"cors,omitempty"`
}

// CORSConfigSection contains Cross-Origin Resource Sharing (CORS) configuration.
type CORSConfigSection struct {
	Enable      *bool     `toml:"enable,omitempty"            yaml:"enable,omitempty"`
	Origins     []string  `toml:"allow_origins,omitempty"     yaml:"allow_origins,omitempty"`
	Credentials *bool     `toml:"allow_credentials,omitempty" yaml:"allow_credentials,omitempty"`
	MaxAge      *Duration `toml:"max_age,omitempty"           yaml:"max_age,omitempty"`
}

// ConnectionConfigSection tunes the connection manager.
type ConnectionConfigSection struct {
	ConnectTimeout       *Duration  `toml:"connect_timeout,omitempty"        yaml:"connect_timeout,omitempty"`
	StabilityWindow      *Duration  `toml:"stability_window,omitempty"       yaml:"stability_window,omitempty"`
	MaxReconnectAttempts *int       `toml:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty"`
	Backoff              []Duration `toml:"backoff,omitempty"                yaml:"backoff,omitempty"`
	HealthCheckInterval  *Duration  `toml:"health_check_interval,omitempty"  yaml:"health_check_interval,omitempty"`
}

// BuffersConfigSection sets ring buffer capacities.
type BuffersConfigSection struct {
	Logs    *int `toml:"logs,omitempty"    yaml:"logs,omitempty"`
	Network *int `toml:"network,omitempty" yaml:"network,omitempty"`
}

// DiscoveryConfigSection controls where packagers are probed.
type DiscoveryConfigSection struct {
	Host    *string   `toml:"host,omitempty"    yaml:"host,omitempty"`
	Ports   []int     `toml:"ports,omitempty"   yaml:"ports,omitempty"`
	Timeout *Duration `toml:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ADBPath is the adb binary used to resolve device serials.
	ADBPath *string `toml:"adb_path,omitempty" yaml:"adb_path,omitempty"`
}

// ExecutionConfigSection tunes expression evaluation and reloads.
type ExecutionConfigSection struct {
	RequestTimeout *Duration `toml:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	MaxRetries     *int      `toml:"max_retries,omitempty"     yaml:"max_retries,omitempty"`
	RetryDelay     *Duration `toml:"retry_delay,omitempty"     yaml:"retry_delay,omitempty"`
	ReloadSettle   *Duration `toml:"reload_settle,omitempty"   yaml:"reload_settle,omitempty"`
	ReloadCleanup  *Duration `toml:"reload_cleanup,omitempty"  yaml:"reload_cleanup,omitempty"`
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// String returns a human-readable string representation of the duration.
func (d *Duration) String() string {
	if d == nil {
		return ""
	}
	return time.Duration(*d).String()
}

// Validate checks the API section.
func (a *APIConfigSection) Validate() error {
	if a == nil {
		return nil
	}
	if a.Addr != nil && !isValidAddr(*a.Addr) {
		return NewErrInvalidValue("api.addr", *a.Addr)
	}
	if err := positive("api.shutdown_timeout", a.ShutdownTimeout); err != nil {
		return err
	}
	return a.CORS.Validate()
}

// Validate checks the CORS section.
func (c *CORSConfigSection) Validate() error {
	if c == nil {
		return nil
	}
	if c.EnableOrDefault(false) && len(c.Origins) == 0 {
		return fmt.Errorf("%w: 'api.cors.allow_origins' is required when CORS is enabled", ErrInvalidValue)
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return NewErrInvalidValue("api.cors.max_age", c.MaxAge.String())
	}
	return nil
}

// EnableOrDefault returns the CORS enable setting, falling back to defaultEnable if not set.
func (c *CORSConfigSection) EnableOrDefault(defaultEnable bool) bool {
	if c == nil || c.Enable == nil {
		return defaultEnable
	}
	return *c.Enable
}

// Validate checks the connection section.
func (c *ConnectionConfigSection) Validate() error {
	if c == nil {
		return nil
	}
	for key, d := range map[string]*Duration{
		"connection.connect_timeout":       c.ConnectTimeout,
		"connection.health_check_interval": c.HealthCheckInterval,
	} {
		if err := positive(key, d); err != nil {
			return err
		}
	}
	if c.StabilityWindow != nil && *c.StabilityWindow < 0 {
		return NewErrInvalidValue("connection.stability_window", c.StabilityWindow.String())
	}
	if c.MaxReconnectAttempts != nil && *c.MaxReconnectAttempts < 1 {
		return NewErrInvalidValue("connection.max_reconnect_attempts", strconv.Itoa(*c.MaxReconnectAttempts))
	}
	for _, d := range c.Backoff {
		if d < 0 {
			return NewErrInvalidValue("connection.backoff", d.String())
		}
	}
	return nil
}

// Validate checks the buffers section.
func (b *BuffersConfigSection) Validate() error {
	if b == nil {
		return nil
	}
	if b.Logs != nil && *b.Logs < 1 {
		return NewErrInvalidValue("buffers.logs", strconv.Itoa(*b.Logs))
	}
	if b.Network != nil && *b.Network < 1 {
		return NewErrInvalidValue("buffers.network", strconv.Itoa(*b.Network))
	}
	return nil
}

// Validate checks the discovery section.
func (d *DiscoveryConfigSection) Validate() error {
	if d == nil {
		return nil
	}
	if d.Host != nil && strings.TrimSpace(*d.Host) == "" {
		return NewErrInvalidValue("discovery.host", *d.Host)
	}
	for _, p := range d.Ports {
		if p < 1 || p > 65535 {
			return NewErrInvalidValue("discovery.ports", strconv.Itoa(p))
		}
	}
	return positive("discovery.timeout", d.Timeout)
}

// Validate checks the execution section.
func (e *ExecutionConfigSection) Validate() error {
	if e == nil {
		return nil
	}
	if err := positive("execution.request_timeout", e.RequestTimeout); err != nil {
		return err
	}
	if e.MaxRetries != nil && *e.MaxRetries < 0 {
		return NewErrInvalidValue("execution.max_retries", strconv.Itoa(*e.MaxRetries))
	}
	for key, d := range map[string]*Duration{
		"execution.retry_delay":    e.RetryDelay,
		"execution.reload_settle":  e.ReloadSettle,
		"execution.reload_cleanup": e.ReloadCleanup,
	} {
		if d != nil && *d < 0 {
			return NewErrInvalidValue(key, d.String())
		}
	}
	return nil
}

func positive(key string, d *Duration) error {
	if d != nil && *d <= 0 {
		return NewErrInvalidValue(key, d.String())
	}
	return nil
}

// isValidAddr reports whether addr is a "host:port" string with a usable port.
func isValidAddr(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := strconv.Atoi(port); err == nil {
		return true
	}
	_, err = net.LookupPort("tcp", port)
	return err == nil
}
