package status

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/manifest"
)

// MatchMode selects how on-chain proxies of an alias are paired with the
// proxy records of that alias.
type MatchMode string

const (
	// MatchScan compares every on-chain proxy against each record not yet
	// matched, reporting each record it passes over.
	MatchScan MatchMode = "scan"
	// MatchSequential pairs the n-th on-chain proxy with the n-th record and
	// reports at most one discrepancy per proxy.
	MatchSequential MatchMode = "sequential"
)

// ParseMatchMode parses a match mode name. Empty means MatchScan.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchScan:
		return MatchScan, nil
	case MatchSequential:
		return MatchSequential, nil
	default:
		return "", fmt.Errorf("unknown match mode %q (want %s or %s)", s, MatchScan, MatchSequential)
	}
}

// onChainProxy is a created proxy whose alias was recovered through its
// implementation.
type onChainProxy struct {
	Alias          string
	Address        common.Address
	Implementation common.Address
}

// CheckProxies compares the proxies created by the app factory with the
// proxies in the network file.
func (c *Comparator) CheckProxies(ctx context.Context) error {
	return c.check(ctx, "proxies", func(app *ledger.App) error {
		proxies, err := c.proxies(ctx, app)
		if err != nil {
			return err
		}

		var aliases []string
		groups := make(map[string][]onChainProxy)
		for _, p := range proxies {
			if _, ok := groups[p.Alias]; !ok {
				aliases = append(aliases, p.Alias)
			}
			groups[p.Alias] = append(groups[p.Alias], p)
		}

		for _, alias := range aliases {
			if !c.view.HasProxy(alias) {
				for range groups[alias] {
					c.report.Add(Text(None), Text(alias), "Proxy does not match")
				}
				continue
			}
			records := c.view.Proxy(alias)
			switch c.mode {
			case MatchSequential:
				c.matchSequential(alias, groups[alias], records)
			default:
				c.matchScan(alias, groups[alias], records)
			}
		}

		for _, alias := range c.view.ProxyAliases() {
			if _, ok := groups[alias]; ok {
				continue
			}
			for _, record := range c.view.Proxy(alias) {
				c.reportUnmatched(alias, record)
			}
		}
		return nil
	})
}

// proxies resolves the live implementation of every created proxy and
// recovers its alias. Proxies whose implementation maps to no alias or to
// several aliases are reported and left out.
func (c *Comparator) proxies(ctx context.Context, app *ledger.App) ([]onChainProxy, error) {
	impls, err := c.implementations(ctx, app)
	if err != nil {
		return nil, err
	}
	created, err := c.ledger.ProxiesCreated(ctx, app.Factory)
	if err != nil {
		return nil, err
	}

	resolved := make([]common.Address, len(created))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, event := range created {
		g.Go(func() error {
			impl, err := c.ledger.ProxyImplementation(gctx, app, event.Proxy)
			if err != nil {
				return err
			}
			resolved[i] = impl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var proxies []onChainProxy
	for i, event := range created {
		impl := resolved[i]
		var matches []implementation
		for _, candidate := range impls {
			if candidate.Address == impl {
				matches = append(matches, candidate)
			}
		}

		switch len(matches) {
		case 1:
			proxies = append(proxies, onChainProxy{Alias: matches[0].Alias, Address: event.Proxy, Implementation: impl})
		case 0:
			c.report.Add(Count(1), Count(0),
				fmt.Sprintf("Proxy at %s is pointing to %s but given implementation is not registered in app", event.Proxy.Hex(), impl.Hex()))
		default:
			c.report.Add(Count(1), Count(len(matches)),
				fmt.Sprintf("The same implementation address %s was registered under many aliases", impl.Hex()))
		}
	}
	return proxies, nil
}

// matchScan walks the records not yet matched for each on-chain proxy in
// record order. Every record with another address is reported as it is
// passed; a record with the same address but another implementation is
// reported and the walk goes on; the first full match ends the walk.
// A proxy that finds no record left to compare against is reported as
// not matching. Records left unmatched are reported at the end.
func (c *Comparator) matchScan(alias string, proxies []onChainProxy, records []manifest.Proxy) {
	matched := make([]bool, len(records))
	for _, p := range proxies {
		found, compared := false, false
		for i, record := range records {
			if matched[i] {
				continue
			}
			compared = true
			if !sameAddress(record.Address, p.Address) {
				c.reportAddress(alias, record, p)
				continue
			}
			if sameAddress(record.Implementation, p.Implementation) {
				matched[i] = true
				found = true
				break
			}
			c.reportImplementation(alias, record, p)
		}
		if !found && !compared {
			c.report.Add(Text(None), Text(alias), "Proxy does not match")
		}
	}

	for i, record := range records {
		if !matched[i] {
			c.reportUnmatched(alias, record)
		}
	}
}

// matchSequential pairs each on-chain proxy with the next unconsumed record.
func (c *Comparator) matchSequential(alias string, proxies []onChainProxy, records []manifest.Proxy) {
	next := 0
	for _, p := range proxies {
		if next >= len(records) {
			c.report.Add(Text(None), Text(alias), "Proxy does not match")
			continue
		}
		record := records[next]
		next++

		switch {
		case !sameAddress(record.Address, p.Address):
			c.reportAddress(alias, record, p)
		case !sameAddress(record.Implementation, p.Implementation):
			c.reportImplementation(alias, record, p)
		}
	}

	for _, record := range records[next:] {
		c.reportUnmatched(alias, record)
	}
}

func (c *Comparator) reportAddress(alias string, record manifest.Proxy, p onChainProxy) {
	c.report.Add(Text(record.Address), Text(p.Address.Hex()),
		fmt.Sprintf("Proxy of %s at %s pointing to %s does not match", alias, record.Address, record.Implementation))
}

func (c *Comparator) reportImplementation(alias string, record manifest.Proxy, p onChainProxy) {
	c.report.Add(Text(record.Implementation), Text(p.Implementation.Hex()),
		fmt.Sprintf("Proxy of %s at %s points to %s, which does not match", alias, record.Address, p.Implementation.Hex()))
}

func (c *Comparator) reportUnmatched(alias string, record manifest.Proxy) {
	c.report.Add(Count(1), Count(0),
		fmt.Sprintf("Proxy of %s at %s pointing to %s does not match", alias, record.Address, record.Implementation))
}
