package status

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/appstatus/internal/ledger"
)

// implementation is the effective registration of one alias.
type implementation struct {
	Alias   string
	Address common.Address
}

// implementations rebuilds the directory's registrations from its event
// history. Only the last registration of each alias counts, and aliases whose
// last registration is the zero address are dropped. The result follows the
// position of each alias's last registration.
func (c *Comparator) implementations(ctx context.Context, app *ledger.App) ([]implementation, error) {
	changes, err := c.ledger.ImplementationChanges(ctx, app.Directory)
	if err != nil {
		return nil, err
	}
	return effectiveImplementations(changes), nil
}

func effectiveImplementations(changes []ledger.ImplementationChanged) []implementation {
	last := make(map[string]int, len(changes))
	for i, change := range changes {
		last[change.ContractName] = i
	}

	zero := common.HexToAddress(ledger.ZeroAddress)
	var impls []implementation
	for i, change := range changes {
		if last[change.ContractName] != i || change.Implementation == zero {
			continue
		}
		impls = append(impls, implementation{Alias: change.ContractName, Address: change.Implementation})
	}
	return impls
}
