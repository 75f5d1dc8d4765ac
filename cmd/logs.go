package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rndebug/rndebug/internal/api"
	"github.com/rndebug/rndebug/internal/cmd"
	cmdopts "github.com/rndebug/rndebug/internal/cmd/options"
	"github.com/rndebug/rndebug/internal/daemon"
	"github.com/rndebug/rndebug/internal/printer"
)

// LogsCmd reads buffered log entries from a running daemon.
type LogsCmd struct {
	*cmd.BaseCmd
	Addr   string
	Level  string
	Text   string
	Since  string
	Limit  int
	Format cmd.OutputFormat

	httpClient *http.Client
}

func NewLogsCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &LogsCmd{
		BaseCmd:    baseCmd,
		Format:     cmd.FormatText,
		httpClient: opts.HTTPClient,
	}

	cobraCommand := &cobra.Command{
		Use:   "logs",
		Short: "Prints log entries buffered by a running daemon",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(&c.Addr, flagAddr, daemon.DefaultAPIAddr(), "Address of the running daemon")
	cobraCommand.Flags().StringVar(&c.Level, "level", "", "Comma-separated levels to include (log, info, warn, error, debug)")
	cobraCommand.Flags().StringVar(&c.Text, "text", "", "Case-insensitive message substring")
	cobraCommand.Flags().StringVar(&c.Since, "since", "", "Only entries after the last message containing this text")
	cobraCommand.Flags().IntVar(&c.Limit, "limit", 100, "Maximum number of newest entries")
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", cmd.AllowedOutputFormats().String()),
	)

	return cobraCommand, nil
}

func (c *LogsCmd) run(cobraCmd *cobra.Command, _ []string) error {
	p := &printer.LogEntryPrinter{}
	handler, err := cmd.NewHandler[api.LogEntry](cobraCmd.OutOrStdout(), c.Format, p)
	if err != nil {
		return err
	}

	client, err := newDaemonClient(c.httpClient, c.Addr)
	if err != nil {
		return handler.HandleError(err)
	}

	query := url.Values{}
	setIfNotEmpty(query, "level", c.Level)
	setIfNotEmpty(query, "text", c.Text)
	setIfNotEmpty(query, "since", c.Since)
	query.Set("limit", strconv.Itoa(c.Limit))

	var resp api.LogsResponse
	if err := client.get(commandContext(cobraCmd), "/logs", query, &resp.Body); err != nil {
		c.Logger().Debug("Failed to read logs", "error", err)
		return handler.HandleError(err)
	}

	p.SetHeader(func(w io.Writer, count int) {
		writeWarnings(w, resp.Body.Warnings)
		_, _ = fmt.Fprintf(w, "%d log entries (%d/%d buffered)\n", count, resp.Body.Buffered, resp.Body.Capacity)
	})

	return handler.HandleResults(resp.Body.Entries...)
}

func setIfNotEmpty(q url.Values, key string, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func writeWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		_, _ = fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}

func commandContext(cobraCmd *cobra.Command) context.Context {
	if ctx := cobraCmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
