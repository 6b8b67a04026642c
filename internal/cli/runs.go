package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/appstatus/pkg/client"
)

func createRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Reconciliation runs stored on the server",
		Long: `Start and inspect reconciliation runs on an appstatus server.

The server keeps the network files and RPC endpoints; every check is
stored with its report so it can be listed later.`,
	}

	cmd.AddCommand(createRunsCheckCmd())
	cmd.AddCommand(createRunsListCmd())
	cmd.AddCommand(createRunsShowCmd())

	return cmd
}

func createRunsCheckCmd() *cobra.Command {
	var app string
	var jsonOutput bool
	var failOnDiff bool

	cmd := &cobra.Command{
		Use:   "check <network>",
		Short: "Reconcile a network on the server",
		Long: `Ask the server to reconcile a network and print the stored run.

Requires an API key when the server protects write routes.

EXAMPLES:
  appstatus runs check mainnet
  appstatus runs check dev --app 0x1234...abcd --fail-on-diff
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(getServer(), getAPIKey())
			return runRunsCheck(cmd.Context(), cmd.OutOrStdout(), c, client.CheckRequest{Network: args[0], App: app}, jsonOutput, failOnDiff)
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "app address (overrides the network file)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&failOnDiff, "fail-on-diff", false, "exit with status 2 when discrepancies are found")

	return cmd
}

func createRunsListCmd() *cobra.Command {
	var opts client.ListRunsOptions
	var clean, dirty bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Long: `List stored runs.

EXAMPLES:
  appstatus runs list --network mainnet
  appstatus runs list --dirty --limit 5
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clean && dirty {
				return fmt.Errorf("--clean and --dirty are mutually exclusive")
			}
			if clean || dirty {
				opts.Clean = &clean
			}
			c := client.New(getServer(), getAPIKey())
			return runRunsList(cmd.Context(), cmd.OutOrStdout(), c, opts, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&opts.Network, "network", "n", "", "filter by network")
	cmd.Flags().StringVar(&opts.App, "app", "", "filter by app address")
	cmd.Flags().BoolVar(&clean, "clean", false, "only runs without discrepancies")
	cmd.Flags().BoolVar(&dirty, "dirty", false, "only runs with discrepancies")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createRunsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(getServer(), getAPIKey())
			run, err := c.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runRunsCheck(ctx context.Context, out io.Writer, c *client.Client, req client.CheckRequest, jsonOutput, failOnDiff bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	run, err := c.Check(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(out, run); err != nil {
			return err
		}
	} else {
		printRun(out, run)
	}

	if failOnDiff && !run.Clean {
		return ErrDiscrepancies
	}
	return nil
}

func runRunsList(ctx context.Context, out io.Writer, c *client.Client, opts client.ListRunsOptions, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := c.ListRuns(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(out, resp)
	}

	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tAPP\tBLOCK\tDISCREPANCIES\tCREATED")
	for _, r := range resp.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Network, truncateAddress(r.App), r.BlockNumber, r.Discrepancies, r.CreatedAt)
	}
	w.Flush()

	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\nMore runs available: --cursor %s\n", resp.Pagination.NextCursor)
	}
	return nil
}

func printRun(out io.Writer, run *client.Run) {
	fmt.Fprintf(out, "Run:     %s\n", run.ID)
	fmt.Fprintf(out, "Network: %s\n", run.Network)
	fmt.Fprintf(out, "App:     %s\n", run.App)
	fmt.Fprintf(out, "Block:   %s\n", strconv.FormatUint(run.BlockNumber, 10))
	fmt.Fprintf(out, "Match:   %s\n", run.MatchMode)
	if run.CreatedAt != "" {
		fmt.Fprintf(out, "Created: %s\n", run.CreatedAt)
	}
	fmt.Fprintln(out)

	if run.Clean {
		fmt.Fprintln(out, "No discrepancies")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPECTED\tOBSERVED\tDESCRIPTION")
	for _, e := range run.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Expected, e.Observed, e.Description)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d discrepancies\n", len(run.Entries))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateAddress shortens an address for table output
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
