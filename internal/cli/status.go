package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/manifest"
	runsDomain "github.com/pendergraft/appstatus/internal/runs/domain"
	"github.com/pendergraft/appstatus/internal/status"
	"github.com/pendergraft/appstatus/internal/validation"
)

type statusOptions struct {
	network     string
	rpcURL      string
	dir         string
	from        string
	fromBlock   uint64
	match       string
	app         string
	concurrency int
	rps         float64
	timeout     time.Duration
	jsonOutput  bool
	failOnDiff  bool
	verbose     bool
}

// statusOutput is the --json document
type statusOutput struct {
	Network     string         `json:"network"`
	App         string         `json:"app"`
	BlockNumber uint64         `json:"blockNumber"`
	MatchMode   string         `json:"matchMode"`
	Clean       bool           `json:"clean"`
	Entries     *status.Report `json:"entries"`
}

func createStatusCmd() *cobra.Command {
	opts := statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare a network file with the ledger",
		Long: `Compare zos.<network>.json with the application deployed on chain.

The app version, provider, stdlib, registered implementations and created
proxies are read at a single block and every difference is listed. Values
not given as flags come from appstatus.toml, then ~/.appstatus/config.yaml.

EXAMPLES:
  # Check the dev network against a local node
  appstatus status --network dev --rpc http://localhost:8545

  # Fail a CI job when the network file is stale
  appstatus status --network mainnet --fail-on-diff

  # Machine-readable report
  appstatus status --network ropsten --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveStatusOptions(&opts); err != nil {
				return err
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.network, "network", "n", "", "network name (reads zos.<network>.json)")
	cmd.Flags().StringVar(&opts.rpcURL, "rpc", "", "RPC endpoint (default from config or APPSTATUS_RPC_URL)")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "directory holding the network file")
	cmd.Flags().StringVar(&opts.from, "from", "", "caller address for contract calls")
	cmd.Flags().Uint64Var(&opts.fromBlock, "from-block", 0, "first block scanned for events")
	cmd.Flags().StringVar(&opts.match, "match", "", "proxy matching mode: scan or sequential")
	cmd.Flags().StringVar(&opts.app, "app", "", "app address (overrides the network file)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel proxy lookups")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "maximum RPC requests per second (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&opts.failOnDiff, "fail-on-diff", false, "exit with status 2 when discrepancies are found")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log ledger reads to stderr")

	return cmd
}

// resolveStatusOptions fills unset options from the environment and config files.
func resolveStatusOptions(opts *statusOptions) error {
	project := loadProjectConfigSilent()
	if project == nil {
		project = &ProjectConfig{}
	}
	global := loadGlobalConfig()
	if global == nil {
		global = &GlobalConfig{}
	}

	opts.network = firstNonEmpty(opts.network, os.Getenv("APPSTATUS_NETWORK"), project.Network)
	if opts.network == "" {
		return fmt.Errorf("no network given (use --network or set network in appstatus.toml)")
	}
	if err := validation.ValidateNetworkName(opts.network); err != nil {
		return err
	}

	opts.rpcURL = firstNonEmpty(opts.rpcURL, os.Getenv("APPSTATUS_RPC_URL"), project.Networks[opts.network], global.Networks[opts.network])
	if opts.rpcURL == "" {
		return fmt.Errorf("no RPC endpoint for network %s (use --rpc or add it under [networks] in appstatus.toml)", opts.network)
	}

	opts.dir = firstNonEmpty(opts.dir, project.Dir, ".")
	opts.match = firstNonEmpty(opts.match, project.Match)
	opts.from = firstNonEmpty(opts.from, project.From)
	if opts.fromBlock == 0 {
		opts.fromBlock = project.FromBlock
	}
	if opts.concurrency == 0 {
		opts.concurrency = project.Concurrency
	}
	if opts.rps == 0 {
		opts.rps = project.RPS
	}

	if opts.from != "" {
		if err := validation.ValidateAddress(opts.from); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if opts.app != "" {
		if err := validation.ValidateAddress(opts.app); err != nil {
			return fmt.Errorf("--app: %w", err)
		}
	}
	return nil
}

func runStatus(ctx context.Context, out io.Writer, opts statusOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	nf, err := manifest.LoadNetwork(opts.dir, opts.network)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no network file %s in %s", manifest.FileName(opts.network), opts.dir)
		}
		return err
	}

	logger := cliLogger(opts.verbose)
	ledgerOpts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithFromBlock(opts.fromBlock),
	}
	if opts.from != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithFrom(common.HexToAddress(opts.from)))
	}
	if opts.rps > 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithRateLimit(opts.rps, max(1, int(opts.rps))))
	}

	dialer := runsDomain.NewRPCDialer(map[string]string{opts.network: opts.rpcURL}, ledgerOpts...)
	l, release, err := dialer.Open(ctx, opts.network)
	if err != nil {
		return err
	}
	defer release()

	return reconcile(ctx, out, nf, l, opts, logger)
}

// reconcile runs the comparator against l and prints the report.
func reconcile(ctx context.Context, out io.Writer, view manifest.View, l runsDomain.Ledger, opts statusOptions, logger *slog.Logger) error {
	mode, err := status.ParseMatchMode(opts.match)
	if err != nil {
		return err
	}

	compOpts := []status.Option{
		status.WithLogger(logger),
		status.WithMatchMode(mode),
	}
	if opts.concurrency > 0 {
		compOpts = append(compOpts, status.WithConcurrency(opts.concurrency))
	}
	app := view.AppAddress()
	if opts.app != "" {
		app = opts.app
		compOpts = append(compOpts, status.WithAppAddress(opts.app))
	}

	report, err := status.NewComparator(view, l, compOpts...).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconciling %s: %w", opts.network, err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(statusOutput{
			Network:     opts.network,
			App:         app,
			BlockNumber: l.Block(),
			MatchMode:   string(mode),
			Clean:       report.Empty(),
			Entries:     report,
		}); err != nil {
			return err
		}
	} else {
		printReport(out, opts.network, l.Block(), report.Entries())
	}

	if opts.failOnDiff && !report.Empty() {
		return ErrDiscrepancies
	}
	return nil
}

func printReport(out io.Writer, network string, block uint64, entries []status.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(out, "%s matches the ledger at block %d\n", manifest.FileName(network), block)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPECTED\tOBSERVED\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Expected, e.Observed, e.Description)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d discrepancies in %s at block %d\n", len(entries), manifest.FileName(network), block)
}

func cliLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
