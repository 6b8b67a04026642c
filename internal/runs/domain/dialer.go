package domain

import (
	"context"
	"fmt"
	"sort"

	"github.com/pendergraft/appstatus/internal/ledger"
)

// RPCDialer opens JSON-RPC connections to configured networks.
type RPCDialer struct {
	networks map[string]string
	opts     []ledger.Option
}

// NewRPCDialer creates a dialer for the given network name to RPC URL map.
func NewRPCDialer(networks map[string]string, opts ...ledger.Option) *RPCDialer {
	return &RPCDialer{networks: networks, opts: opts}
}

// Networks returns the configured network names, sorted.
func (d *RPCDialer) Networks() []string {
	names := make([]string, 0, len(d.networks))
	for name := range d.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open dials the network and pins a client to its head block.
func (d *RPCDialer) Open(ctx context.Context, network string) (Ledger, func(), error) {
	url, ok := d.networks[network]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, network)
	}

	backend, err := ledger.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	client, err := ledger.NewClient(backend, d.opts...).Pin(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, fmt.Errorf("pinning %s: %w", network, err)
	}
	return client, backend.Close, nil
}
