package cmd

import (
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

// NetworkCmd reads buffered network records from a running daemon.
type NetworkCmd struct {
	*cmd.BaseCmd
	Addr   string
	Method string
	Status string
	URL    string
	Limit  int
	Format cmd.OutputFormat

	httpClient *http.Client
}

func NewNetworkCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &NetworkCmd{
		BaseCmd:    baseCmd,
		Format:     cmd.FormatText,
		httpClient: opts.HTTPClient,
	}

	cobraCommand := &cobra.Command{
		Use:   "network [request-id]",
		Short: "Prints network requests buffered by a running daemon",
		Long: "Prints network requests buffered by a running daemon. " +
			"With a request id, prints that single request including headers and body",
		Args: cobra.MaximumNArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(&c.Addr, flagAddr, daemon.DefaultAPIAddr(), "Address of the running daemon")
	cobraCommand.Flags().StringVar(&c.Method, "method", "", "Comma-separated HTTP methods")
	cobraCommand.Flags().StringVar(&c.Status, "status", "", "Comma-separated codes, classes (4xx), pending or failed")
	cobraCommand.Flags().StringVar(&c.URL, "url", "", "Case-insensitive URL substring")
	cobraCommand.Flags().IntVar(&c.Limit, "limit", 50, "Maximum number of newest records")
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", cmd.AllowedOutputFormats().String()),
	)

	return cobraCommand, nil
}

func (c *NetworkCmd) run(cobraCmd *cobra.Command, args []string) error {
	p := &printer.NetworkRecordPrinter{}
	handler, err := cmd.NewHandler[api.NetworkRecord](cobraCmd.OutOrStdout(), c.Format, p)
	if err != nil {
		return err
	}

	client, err := newDaemonClient(c.httpClient, c.Addr)
	if err != nil {
		return handler.HandleError(err)
	}

	ctx := commandContext(cobraCmd)

	if len(args) == 1 {
		var record api.NetworkRecord
		if err := client.get(ctx, "/network/requests/"+url.PathEscape(args[0]), nil, &record); err != nil {
			return handler.HandleError(err)
		}
		return handler.HandleResult(record)
	}

	query := url.Values{}
	setIfNotEmpty(query, "method", c.Method)
	setIfNotEmpty(query, "status", c.Status)
	setIfNotEmpty(query, "url", c.URL)
	query.Set("limit", strconv.Itoa(c.Limit))

	var resp api.NetworkResponse
	if err := client.get(ctx, "/network", query, &resp.Body); err != nil {
		c.Logger().Debug("Failed to read network records", "error", err)
		return handler.HandleError(err)
	}

	p.SetHeader(func(w io.Writer, count int) {
		writeWarnings(w, resp.Body.Warnings)
		_, _ = fmt.Fprintf(w, "%d requests (%d/%d buffered)\n", count, resp.Body.Buffered, resp.Body.Capacity)
	})

	return handler.HandleResults(resp.Body.Requests...)
}
