package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rndebug/rndebug/internal/cmd"
	cmdopts "github.com/rndebug/rndebug/internal/cmd/options"
	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/daemon"
	"github.com/rndebug/rndebug/internal/debugger"
	"github.com/rndebug/rndebug/internal/flags"
	"github.com/rndebug/rndebug/internal/tools"
)

const (
	flagAddr               = "addr"
	flagMCP                = "mcp"
	flagNoAutoConnect      = "no-auto-connect"
	flagCORSEnable         = "cors-enable"
	flagCORSOrigin         = "cors-allow-origin"
	flagCORSCredentials    = "cors-allow-credentials"
	flagCORSMaxAge         = "cors-max-age"
	flagTimeoutAPIShutdown = "timeout-api-shutdown"
	flagTimeoutHealthCheck = "timeout-health-check"
	flagIntervalHealth     = "interval-health-check"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	config    daemonFlagConfig
	cfgLoader config.Loader
	overrides debugger.Overrides
}

// daemonFlagConfig holds flag values. Durations stay strings until the options are built.
type daemonFlagConfig struct {
	api           apiFlagConfig
	mcp           bool
	noAutoConnect bool
	cors          corsFlagConfig
	timeout       timeoutFlagConfig
	interval      intervalFlagConfig
}

type apiFlagConfig struct {
	addr string
}

type corsFlagConfig struct {
	enable      bool
	origins     []string
	credentials bool
	maxAge      string
}

type timeoutFlagConfig struct {
	apiShutdown string
	healthCheck string
}

type intervalFlagConfig struct {
	healthCheck string
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
		overrides: opts.Overrides,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--mcp] [--addr]",
		Short: "Launches an rndebug daemon instance",
		Long: "Launches an rndebug daemon instance, which connects to a running app, buffers its logs and " +
			"network traffic, and serves them over a local HTTP API and, with --mcp, over MCP on stdio",
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	fs := cobraCommand.Flags()
	fs.StringVar(&c.config.api.addr, flagAddr, daemon.DefaultAPIAddr(), "Address for the HTTP API to bind")
	fs.BoolVar(&c.config.mcp, flagMCP, false, "Serve MCP tools on stdin/stdout; the daemon exits when stdin closes")
	fs.BoolVar(&c.config.noAutoConnect, flagNoAutoConnect, false, "Do not connect to a discovered app on startup")

	fs.BoolVar(&c.config.cors.enable, flagCORSEnable, false, "Enable CORS for the HTTP API")
	fs.StringSliceVar(&c.config.cors.origins, flagCORSOrigin, nil, "Allowed CORS origin (repeatable)")
	fs.BoolVar(&c.config.cors.credentials, flagCORSCredentials, false, "Allow credentials in CORS requests")
	fs.StringVar(&c.config.cors.maxAge, flagCORSMaxAge, "", "How long browsers may cache CORS preflight responses")

	fs.StringVar(&c.config.timeout.apiShutdown, flagTimeoutAPIShutdown, "", "Graceful shutdown timeout for the HTTP API")
	fs.StringVar(&c.config.timeout.healthCheck, flagTimeoutHealthCheck, "", "Timeout for a single context health probe")
	fs.StringVar(&c.config.interval.healthCheck, flagIntervalHealth, "", "Interval between context health probes")

	return cobraCommand, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
func (c *DaemonCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger := c.Logger()

	cfg, warnings, err := c.loadConfigurationLayers(logger, cobraCmd)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn("Flag overrides config file", "detail", w)
	}

	apiOpts, err := c.buildAPIOptions()
	if err != nil {
		return err
	}

	daemonOpts, err := c.buildDaemonOptions(apiOpts)
	if err != nil {
		return err
	}

	dbg, err := debugger.New(logger.Named("debugger"), cfg, c.overrides)
	if err != nil {
		return fmt.Errorf("failed to create debugger: %w", err)
	}

	deps := daemon.Dependencies{
		APIAddr:     c.config.api.addr,
		Logger:      logger.Named("daemon"),
		Debugger:    dbg.Engine,
		Connections: dbg.Ledger,
		Contexts:    dbg.Contexts,
		Logs:        dbg.Logs,
		Network:     dbg.Network,
		Stopper:     dbg,
	}

	if c.config.mcp {
		deps.MCPServer, err = tools.NewServer(tools.Dependencies{
			Logger:      logger.Named("mcp"),
			Debugger:    dbg.Engine,
			Connections: dbg.Ledger,
			Contexts:    dbg.Contexts,
			Logs:        dbg.Logs,
			Network:     dbg.Network,
		}, cmd.Version())
		if err != nil {
			dbg.Shutdown()
			return err
		}
		daemonOpts = append(daemonOpts, daemon.WithMCPStdio(cobraCmd.InOrStdin(), cobraCmd.OutOrStdout()))
	}

	d, err := daemon.NewDaemon(deps, daemonOpts...)
	if err != nil {
		dbg.Shutdown()
		return fmt.Errorf("failed to create rndebug daemon instance: %w", err)
	}

	parent := cobraCmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		parent,
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	// Stdout carries MCP frames in --mcp mode.
	if !c.config.mcp {
		_, _ = fmt.Fprint(cobraCmd.ErrOrStderr(), c.banner())
	}

	logger.Info("Launching daemon", "addr", c.config.api.addr, "mcp", c.config.mcp)

	if err := d.StartAndManage(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exited with error", "error", err)
		return err
	}

	logger.Info("Daemon stopped")
	return nil
}

func (c *DaemonCmd) banner() string {
	addr := c.config.api.addr

	banner := fmt.Sprintf("rndebug daemon running.\n\n"+
		"  Local API:\thttp://%s/api/v1\n"+
		"  OpenAPI UI:\thttp://%s/docs\n"+
		"  Config file:\t%s\n",
		addr, addr, flags.ConfigFile)

	if flags.LogPath != "" {
		banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
	}

	return banner + "\nPress Ctrl+C to stop.\n\n"
}

// loadConfigurationLayers loads the config file and applies its values beneath any flags set explicitly.
// It returns a warning for every flag that overrides a different config value.
func (c *DaemonCmd) loadConfigurationLayers(logger hclog.Logger, cobraCmd *cobra.Command) (*config.Config, []string, error) {
	if c.cfgLoader == nil {
		return nil, nil, fmt.Errorf("config loader not configured")
	}

	cfg, err := config.LoadOrDefault(c.cfgLoader, flags.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("config data not present, cannot apply configuration layers")
	}

	var warnings []string
	if cfg.API != nil {
		warnings = append(warnings, c.loadConfigAPI(cfg.API, logger, cobraCmd)...)
		warnings = append(warnings, c.loadConfigCORS(cfg.API.CORS, logger, cobraCmd)...)
	}
	warnings = append(warnings, c.loadConfigInterval(cfg.Connection, logger, cobraCmd)...)

	return cfg, warnings, nil
}

func (c *DaemonCmd) loadConfigAPI(api *config.APIConfigSection, logger hclog.Logger, cobraCmd *cobra.Command) []string {
	if api == nil {
		return nil
	}

	fs := cobraCmd.Flags()
	var warnings []string

	if api.Addr != nil {
		warnings = appendIfSet(warnings, layer(fs, flagAddr, *api.Addr, &c.config.api.addr))
	}
	if api.ShutdownTimeout != nil {
		warnings = appendIfSet(warnings, layer(fs, flagTimeoutAPIShutdown, api.ShutdownTimeout.String(), &c.config.timeout.apiShutdown))
	}

	logger.Debug("Applied API config", "addr", c.config.api.addr)
	return warnings
}

func (c *DaemonCmd) loadConfigCORS(cors *config.CORSConfigSection, logger hclog.Logger, cobraCmd *cobra.Command) []string {
	if cors == nil {
		return nil
	}

	fs := cobraCmd.Flags()
	var warnings []string

	if cors.Enable != nil {
		warnings = appendIfSet(warnings, layer(fs, flagCORSEnable, *cors.Enable, &c.config.cors.enable))
	}
	if cors.Credentials != nil {
		warnings = appendIfSet(warnings, layer(fs, flagCORSCredentials, *cors.Credentials, &c.config.cors.credentials))
	}
	if cors.MaxAge != nil {
		warnings = appendIfSet(warnings, layer(fs, flagCORSMaxAge, cors.MaxAge.String(), &c.config.cors.maxAge))
	}
	if len(cors.Origins) > 0 {
		switch {
		case !fs.Changed(flagCORSOrigin):
			c.config.cors.origins = slices.Clone(cors.Origins)
		case !slices.Equal(cors.Origins, c.config.cors.origins):
			warnings = append(warnings, flagOverrideWarning(flagCORSOrigin, cors.Origins, c.config.cors.origins))
		}
	}

	logger.Debug("Applied CORS config", "enabled", c.config.cors.enable, "origins", c.config.cors.origins)
	return warnings
}

func (c *DaemonCmd) loadConfigInterval(
	conn *config.ConnectionConfigSection,
	logger hclog.Logger,
	cobraCmd *cobra.Command,
) []string {
	if conn == nil || conn.HealthCheckInterval == nil {
		return nil
	}

	w := layer(cobraCmd.Flags(), flagIntervalHealth, conn.HealthCheckInterval.String(), &c.config.interval.healthCheck)

	logger.Debug("Applied health check interval", "interval", c.config.interval.healthCheck)
	return appendIfSet(nil, w)
}

// buildAPIOptions converts flag values into API options.
func (c *DaemonCmd) buildAPIOptions() ([]daemon.APIOption, error) {
	var opts []daemon.APIOption

	if c.config.cors.enable {
		opts = append(opts, daemon.WithCORS(c.config.cors.origins))

		if c.config.cors.credentials {
			opts = append(opts, daemon.WithCORSAllowCredentials(true))
		}

		if c.config.cors.maxAge != "" {
			maxAge, err := time.ParseDuration(c.config.cors.maxAge)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", flagCORSMaxAge, err)
			}
			opts = append(opts, daemon.WithCORSMaxAge(maxAge))
		}
	}

	if c.config.timeout.apiShutdown != "" {
		timeout, err := time.ParseDuration(c.config.timeout.apiShutdown)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", flagTimeoutAPIShutdown, err)
		}
		opts = append(opts, daemon.WithShutdownTimeout(timeout))
	}

	return opts, nil
}

// buildDaemonOptions converts flag values into daemon options.
func (c *DaemonCmd) buildDaemonOptions(apiOpts []daemon.APIOption) ([]daemon.Option, error) {
	opts := []daemon.Option{
		daemon.WithAPIOptions(apiOpts...),
		daemon.WithAutoConnect(!c.config.noAutoConnect),
	}

	if c.config.timeout.healthCheck != "" {
		timeout, err := time.ParseDuration(c.config.timeout.healthCheck)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", flagTimeoutHealthCheck, err)
		}
		opts = append(opts, daemon.WithHealthCheckTimeout(timeout))
	}

	if c.config.interval.healthCheck != "" {
		interval, err := time.ParseDuration(c.config.interval.healthCheck)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", flagIntervalHealth, err)
		}
		opts = append(opts, daemon.WithHealthCheckInterval(interval))
	}

	return opts, nil
}

// layer stores configValue in current unless the flag was set explicitly.
// A non-empty return describes a flag overriding a different config value.
func layer[T comparable](fs *pflag.FlagSet, flagName string, configValue T, current *T) string {
	if !fs.Changed(flagName) {
		*current = configValue
		return ""
	}
	if *current == configValue {
		return ""
	}
	return flagOverrideWarning(flagName, configValue, *current)
}

func appendIfSet(warnings []string, w string) []string {
	if w == "" {
		return warnings
	}
	return append(warnings, w)
}

func flagOverrideWarning(flagName string, configValue any, flagValue any) string {
	return fmt.Sprintf("--%s: config=%s, flag=%s (using flag)", flagName, formatValue(configValue), formatValue(flagValue))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}
