package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pendergraft/appstatus/internal/observability/metrics"
)

// Position locates a log in emission order.
type Position struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
}

// Before reports whether p was emitted before o.
func (p Position) Before(o Position) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	if p.TxIndex != o.TxIndex {
		return p.TxIndex < o.TxIndex
	}
	return p.LogIndex < o.LogIndex
}

// ImplementationChanged is a decoded directory registration.
type ImplementationChanged struct {
	ContractName   string
	Implementation common.Address
	Position
}

// ProxyCreated is a decoded factory proxy creation.
type ProxyCreated struct {
	Proxy common.Address
	Position
}

// ImplementationChanges returns every ImplementationChanged event emitted by
// directory, oldest first.
func (c *Client) ImplementationChanges(ctx context.Context, directory common.Address) ([]ImplementationChanged, error) {
	event := directoryABI.Events[EventImplementationChanged]
	logs, err := c.filterLogs(ctx, directory, event)
	if err != nil {
		return nil, err
	}

	changes := make([]ImplementationChanged, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("%w: %s log at %s has %d topics", ErrDecode, event.Name, lg.TxHash.Hex(), len(lg.Topics))
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s log at %s: %v", ErrDecode, event.Name, lg.TxHash.Hex(), err)
		}
		name, ok := values[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s contractName is %T", ErrDecode, event.Name, values[0])
		}
		changes = append(changes, ImplementationChanged{
			ContractName:   name,
			Implementation: common.BytesToAddress(lg.Topics[1].Bytes()),
			Position:       positionOf(lg),
		})
	}
	return changes, nil
}

// ProxiesCreated returns every ProxyCreated event emitted by factory, oldest
// first.
func (c *Client) ProxiesCreated(ctx context.Context, factory common.Address) ([]ProxyCreated, error) {
	event := factoryABI.Events[EventProxyCreated]
	logs, err := c.filterLogs(ctx, factory, event)
	if err != nil {
		return nil, err
	}

	created := make([]ProxyCreated, 0, len(logs))
	for _, lg := range logs {
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s log at %s: %v", ErrDecode, event.Name, lg.TxHash.Hex(), err)
		}
		proxy, ok := values[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("%w: %s proxy is %T", ErrDecode, event.Name, values[0])
		}
		created = append(created, ProxyCreated{Proxy: proxy, Position: positionOf(lg)})
	}
	return created, nil
}

// filterLogs fetches the logs of one event kind, skipping removed logs and
// sorting by emission order.
func (c *Client) filterLogs(ctx context.Context, address common.Address, event abi.Event) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.fromBlock),
		ToBlock:   c.block,
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{event.ID}},
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	metrics.RPCCall("eth_getLogs", err)
	if err != nil {
		return nil, fmt.Errorf("fetching %s logs from %s: %w", event.Name, address.Hex(), err)
	}

	kept := make([]types.Log, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		kept = append(kept, lg)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return positionOf(kept[i]).Before(positionOf(kept[j]))
	})
	c.logger.Debug("fetched logs", "event", event.Name, "address", address.Hex(), "count", len(kept))
	return kept, nil
}

func positionOf(lg types.Log) Position {
	return Position{BlockNumber: lg.BlockNumber, TxIndex: lg.TxIndex, LogIndex: lg.Index}
}
