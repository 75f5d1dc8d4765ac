package cmd

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/debugger"
	"github.com/rndebug/rndebug/internal/flags"
)

// newDebugger builds a short-lived debugger for one-shot commands from the config file, when present.
func newDebugger(logger hclog.Logger, loader config.Loader, overrides debugger.Overrides) (*debugger.Debugger, error) {
	cfg, err := config.LoadOrDefault(loader, flags.ConfigFile)
	if err != nil {
		return nil, err
	}

	d, err := debugger.New(logger.Named("debugger"), cfg, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to create debugger: %w", err)
	}

	return d, nil
}
