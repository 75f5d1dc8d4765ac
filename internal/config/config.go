// Package config loads the .rndebug.toml project file.
// Every key is optional; unset keys fall back to the defaults of the component they configure.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rndebug/rndebug/internal/files"
	"github.com/rndebug/rndebug/internal/perms"
)

var _ Provider = (*DefaultLoader)(nil)

type Loader interface {
	Load(path string) (*Config, error)
}

type Initializer interface {
	Init(path string) error
}

type Provider interface {
	Initializer
	Loader
}

type DefaultLoader struct{}

// Config represents the .rndebug.toml file structure.
type Config struct {
	API        *APIConfigSection        `toml:"api,omitempty"        yaml:"api,omitempty"`
	Connection *ConnectionConfigSection `toml:"connection,omitempty" yaml:"connection,omitempty"`
	Buffers    *BuffersConfigSection    `toml:"buffers,omitempty"    yaml:"buffers,omitempty"`
	Discovery  *DiscoveryConfigSection  `toml:"discovery,omitempty"  yaml:"discovery,omitempty"`
	Execution  *ExecutionConfigSection  `toml:"execution,omitempty"  yaml:"execution,omitempty"`
}

// template is written by Init. Every value is commented out so defaults apply until edited.
const template = `# rndebug configuration.
# Uncomment a key to override its default.

[api]
# addr = "127.0.0.1:8090"
# shutdown_timeout = "5s"

[api.cors]
# enable = false
# allow_origins = ["http://localhost:3000"]

[connection]
# connect_timeout = "5s"
# stability_window = "10s"
# max_reconnect_attempts = 8
# backoff = ["0s", "500ms", "1s", "2s", "4s", "8s"]
# health_check_interval = "10s"

[buffers]
# logs = 1000
# network = 500

[discovery]
# host = "localhost"
# ports = [8081, 8082, 19000, 19001, 19002]
# timeout = "2s"
# adb_path = "adb"

[execution]
# request_timeout = "10s"
# max_retries = 2
# retry_delay = "1s"
# reload_settle = "2s"
# reload_cleanup = "500ms"
`

// Init creates the base skeleton configuration file.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := files.EnsureParentDir(path); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(template), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Load decodes and validates the config file at path.
func (d *DefaultLoader) Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found, run: 'rndebug init'", ErrConfigLoadFailed)
		}
		return nil, fmt.Errorf("%w: failed to stat config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrConfigLoadFailed, path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate existing config (%s): %w", ErrConfigLoadFailed, path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns an empty config otherwise.
func LoadOrDefault(loader Loader, path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}
	return loader.Load(path)
}

// Validate orchestrates validation of every section.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.API,
		c.Connection,
		c.Buffers,
		c.Discovery,
		c.Execution,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
