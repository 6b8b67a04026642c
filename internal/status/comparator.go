// Package status reconciles a network file against the application state
// recorded on the ledger.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/appstatus/internal/digest"
	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/manifest"
	"github.com/pendergraft/appstatus/internal/observability/metrics"
)

// DefaultConcurrency bounds parallel proxy implementation lookups.
const DefaultConcurrency = 8

// ErrInvalidApp is returned when the app address is not a valid address.
var ErrInvalidApp = errors.New("invalid app address")

// Ledger is the ledger access needed by the comparator.
type Ledger interface {
	ResolveApp(ctx context.Context, address common.Address) (*ledger.App, error)
	ProxyImplementation(ctx context.Context, app *ledger.App, proxy common.Address) (common.Address, error)
	ImplementationChanges(ctx context.Context, directory common.Address) ([]ledger.ImplementationChanged, error)
	ProxiesCreated(ctx context.Context, factory common.Address) ([]ledger.ProxyCreated, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Comparator) {
		c.logger = logger
	}
}

// WithConcurrency bounds parallel proxy lookups. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(c *Comparator) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithMatchMode selects how on-chain proxies are matched to proxy records.
func WithMatchMode(mode MatchMode) Option {
	return func(c *Comparator) {
		c.mode = mode
	}
}

// WithAppAddress overrides the app address recorded in the network file.
func WithAppAddress(address string) Option {
	return func(c *Comparator) {
		c.appAddress = address
	}
}

// Comparator compares a network file with the ledger. Checks append to a
// shared report; Run executes all of them on a fresh one.
type Comparator struct {
	view        manifest.View
	ledger      Ledger
	handle      *ledger.Handle
	logger      *slog.Logger
	concurrency int
	mode        MatchMode
	appAddress  string

	report *Report
}

// NewComparator creates a comparator for view against l.
func NewComparator(view manifest.View, l Ledger, opts ...Option) *Comparator {
	c := &Comparator{
		view:        view,
		ledger:      l,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		mode:        MatchScan,
		appAddress:  view.AppAddress(),
		report:      NewReport(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handle = ledger.NewHandle(l, common.HexToAddress(c.appAddress))
	return c
}

// Report returns the report the checks append to.
func (c *Comparator) Report() *Report {
	return c.report
}

// Run executes the five checks in order on a fresh report. Any ledger or
// manifest failure aborts the run and no report is returned.
func (c *Comparator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	c.report = NewReport()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"version", c.CheckVersion},
		{"provider", c.CheckProvider},
		{"stdlib", c.CheckStdlib},
		{"implementations", c.CheckImplementations},
		{"proxies", c.CheckProxies},
	}
	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			return nil, fmt.Errorf("%s check: %w", check.name, err)
		}
	}

	c.logger.Info("reconciliation finished",
		"app", c.appAddress,
		"discrepancies", c.report.Len(),
		"duration", time.Since(start),
	)
	return c.report, nil
}

// CheckVersion compares the app version.
func (c *Comparator) CheckVersion(ctx context.Context) error {
	return c.check(ctx, "version", func(app *ledger.App) error {
		expected := c.view.Version()
		if app.Version != expected {
			c.report.Add(Text(expected), Text(app.Version), "App version does not match")
		}
		return nil
	})
}

// CheckProvider compares the provider directory address.
func (c *Comparator) CheckProvider(ctx context.Context) error {
	return c.check(ctx, "provider", func(app *ledger.App) error {
		expected := orNone(c.view.ProviderAddress())
		observed := None
		if app.Directory != (common.Address{}) {
			observed = app.Directory.Hex()
		}

		if expected != observed && !sameAddress(expected, app.Directory) {
			c.report.Add(Text(expected), Text(observed), "Provider address does not match")
		}
		return nil
	})
}

// CheckStdlib compares the stdlib address. An unset stdlib on either side is
// "none".
func (c *Comparator) CheckStdlib(ctx context.Context) error {
	return c.check(ctx, "stdlib", func(app *ledger.App) error {
		expected := orNone(c.view.StdlibAddress())
		observed := None
		if app.HasStdlib() {
			observed = app.CurrentStdlib().Hex()
		}

		var same bool
		switch {
		case expected == None || observed == None:
			same = expected == observed
		default:
			same = sameAddress(expected, app.CurrentStdlib())
		}
		if !same {
			c.report.Add(Text(expected), Text(observed), "Stdlib address does not match")
		}
		return nil
	})
}

// CheckImplementations compares the contracts registered in the provider
// directory with the contracts in the network file.
func (c *Comparator) CheckImplementations(ctx context.Context) error {
	return c.check(ctx, "implementations", func(app *ledger.App) error {
		impls, err := c.implementations(ctx, app)
		if err != nil {
			return err
		}

		found := make(map[string]bool, len(impls))
		for _, impl := range impls {
			found[impl.Alias] = true
			if !c.view.HasContract(impl.Alias) {
				c.report.Add(Text(None), Text(impl.Alias), "Contract does not match")
				continue
			}
			if err := c.checkImplementation(ctx, impl); err != nil {
				return err
			}
		}

		for _, alias := range c.view.ContractAliases() {
			if !found[alias] {
				c.report.Add(Text(alias), Text(None), "Contract does not match")
			}
		}
		return nil
	})
}

func (c *Comparator) checkImplementation(ctx context.Context, impl implementation) error {
	contract := c.view.Contract(impl.Alias)
	if !sameAddress(contract.Address, impl.Address) {
		c.report.Add(Text(contract.Address), Text(impl.Address.Hex()),
			fmt.Sprintf("Address for contract %s does not match", impl.Alias))
		return nil
	}

	constructorCode, err := digest.DecodeHex(contract.ConstructorCode)
	if err != nil {
		return fmt.Errorf("%w: contracts.%s.constructorCode: %v", manifest.ErrInvalid, impl.Alias, err)
	}
	code, err := c.ledger.CodeAt(ctx, impl.Address)
	if err != nil {
		return err
	}
	observed := digest.Digest(constructorCode, code)
	if !digest.Equal(contract.BytecodeHash, observed) {
		c.report.Add(Text(contract.BytecodeHash), Text(observed),
			fmt.Sprintf("Bytecode at %s for contract %s does not match", impl.Address.Hex(), impl.Alias))
	}
	return nil
}

// check resolves the app, runs fn and records how many entries it added.
func (c *Comparator) check(ctx context.Context, name string, fn func(app *ledger.App) error) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	before := c.report.Len()
	if err := fn(app); err != nil {
		return err
	}
	added := c.report.Len() - before
	metrics.Discrepancy(name, added)
	c.logger.Debug("check completed", "check", name, "discrepancies", added)
	return nil
}

func (c *Comparator) app(ctx context.Context) (*ledger.App, error) {
	if !common.IsHexAddress(c.appAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidApp, c.appAddress)
	}
	app, err := c.handle.App(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving app %s: %w", c.appAddress, err)
	}
	return app, nil
}

// sameAddress compares an address from the network file with an on-chain
// address. Malformed addresses never match.
func sameAddress(recorded string, onChain common.Address) bool {
	return common.IsHexAddress(recorded) && common.HexToAddress(recorded) == onChain
}

func orNone(s string) string {
	if s == "" {
		return None
	}
	return s
}
