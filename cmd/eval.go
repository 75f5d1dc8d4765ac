package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rndebug/rndebug/internal/cmd"
	cmdopts "github.com/rndebug/rndebug/internal/cmd/options"
	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/debugger"
	"github.com/rndebug/rndebug/internal/printer"
)

// EvalCmd connects to an app, evaluates one expression and disconnects.
type EvalCmd struct {
	*cmd.BaseCmd
	Port       int
	Target     string
	MaxRetries int
	Await      bool
	Format     cmd.OutputFormat
	cfgLoader  config.Loader
	overrides  debugger.Overrides
}

func NewEvalCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &EvalCmd{
		BaseCmd:   baseCmd,
		Format:    cmd.FormatText,
		cfgLoader: opts.ConfigLoader,
		overrides: opts.Overrides,
	}

	cobraCommand := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluates a JavaScript expression in the running app",
		Long: "Connects to the running app, evaluates the expression in its global scope and prints the result. " +
			"With --await a returned promise is awaited. Without --port the preferred target of the first packager found is used",
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().IntVar(&c.Port, "port", 0, "Packager port (discovered when omitted)")
	cobraCommand.Flags().StringVar(&c.Target, "target", "", "Target id on the packager (preferred target when omitted)")
	cobraCommand.Flags().BoolVar(&c.Await, "await", false, "Wait for a returned promise to settle")
	cobraCommand.Flags().IntVar(&c.MaxRetries, "max-retries", -1, "Retries after a lost context (configured default when negative)")
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", cmd.AllowedOutputFormats().String()),
	)

	return cobraCommand, nil
}

func (c *EvalCmd) run(cobraCmd *cobra.Command, args []string) error {
	handler, err := cmd.NewHandler[printer.EvalResult](cobraCmd.OutOrStdout(), c.Format, &printer.EvalPrinter{})
	if err != nil {
		return err
	}

	if c.Target != "" && c.Port == 0 {
		return handler.HandleError(fmt.Errorf("--target requires --port"))
	}

	expression := strings.Join(args, " ")
	logger := c.Logger()

	dbg, err := newDebugger(logger, c.cfgLoader, c.overrides)
	if err != nil {
		return handler.HandleError(err)
	}
	defer dbg.Shutdown()

	ctx := commandContext(cobraCmd)

	connected, err := dbg.Engine.ConnectTo(ctx, c.Port, c.Target)
	if err != nil {
		return handler.HandleError(err)
	}
	logger.Debug("Connected", "connection", connected)

	opts := dbg.Engine.EvalDefaults()
	opts.AwaitPromise = c.Await
	if c.MaxRetries >= 0 {
		opts.MaxRetries = c.MaxRetries
	}

	start := time.Now()
	result, err := dbg.Engine.Evaluate(ctx, expression, opts)
	if err != nil {
		return handler.HandleError(err)
	}
	logger.Debug("Evaluated expression", "duration", time.Since(start))

	return handler.HandleResult(printer.EvalResult{
		Expression: expression,
		Connection: connected,
		Result:     result,
	})
}
