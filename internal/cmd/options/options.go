package options

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/debugger"
)

type CmdOption func(*CmdOptions) error

// CmdOptions holds the collaborators commands build on, replaceable in tests.
type CmdOptions struct {
	ConfigLoader      config.Loader
	ConfigInitializer config.Initializer

	// Overrides are passed through when a command builds a debugger.
	Overrides debugger.Overrides

	// HTTPClient is used by commands that query a running daemon.
	HTTPClient *http.Client
}

func defaultOptions() CmdOptions {
	configLoader := &config.DefaultLoader{}
	return CmdOptions{
		ConfigLoader:      configLoader,
		ConfigInitializer: configLoader,
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
	}
}

func NewOptions(opt ...CmdOption) (CmdOptions, error) {
	opts := defaultOptions()

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return CmdOptions{}, err
		}
	}
	return opts, nil
}

func WithConfigLoader(l config.Loader) CmdOption {
	return func(o *CmdOptions) error {
		if l == nil {
			return fmt.Errorf("config loader cannot be nil")
		}
		o.ConfigLoader = l
		return nil
	}
}

func WithConfigInitializer(i config.Initializer) CmdOption {
	return func(o *CmdOptions) error {
		if i == nil {
			return fmt.Errorf("config initializer cannot be nil")
		}
		o.ConfigInitializer = i
		return nil
	}
}

// WithDebuggerOverrides replaces the dialer or device resolver used by commands that connect to an app.
func WithDebuggerOverrides(overrides debugger.Overrides) CmdOption {
	return func(o *CmdOptions) error {
		o.Overrides = overrides
		return nil
	}
}

func WithHTTPClient(c *http.Client) CmdOption {
	return func(o *CmdOptions) error {
		if c == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.HTTPClient = c
		return nil
	}
}
