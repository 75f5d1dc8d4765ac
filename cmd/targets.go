package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rndebug/rndebug/internal/cmd"
	cmdopts "github.com/rndebug/rndebug/internal/cmd/options"
	"github.com/rndebug/rndebug/internal/config"
	"github.com/rndebug/rndebug/internal/debugger"
	"github.com/rndebug/rndebug/internal/printer"
)

// TargetsCmd lists debuggable targets on the running packagers.
type TargetsCmd struct {
	*cmd.BaseCmd
	Format    cmd.OutputFormat
	cfgLoader config.Loader
	overrides debugger.Overrides
}

func NewTargetsCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &TargetsCmd{
		BaseCmd:   baseCmd,
		Format:    cmd.FormatText,
		cfgLoader: opts.ConfigLoader,
		overrides: opts.Overrides,
	}

	cobraCommand := &cobra.Command{
		Use:   "targets",
		Short: "Lists debuggable targets on running Metro packagers",
		Long: "Scans the configured packager ports and lists every debuggable target, " +
			"marking the one rndebug would connect to by default",
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", cmd.AllowedOutputFormats().String()),
	)

	return cobraCommand, nil
}

func (c *TargetsCmd) run(cobraCmd *cobra.Command, _ []string) error {
	p := &printer.TargetPrinter{}
	p.SetHeader(func(w io.Writer, _ int) {
		_, _ = fmt.Fprintln(w, "PORT\tID\tTITLE")
	})

	handler, err := cmd.NewHandler[printer.TargetResult](cobraCmd.OutOrStdout(), c.Format, p)
	if err != nil {
		return err
	}

	dbg, err := newDebugger(c.Logger(), c.cfgLoader, c.overrides)
	if err != nil {
		return handler.HandleError(err)
	}
	defer dbg.Shutdown()

	results, err := dbg.Engine.Scan(commandContext(cobraCmd))
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(printer.TargetResults(results)...)
}
