// Package ledger reads application state and event history from an EVM chain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/pendergraft/appstatus/internal/observability/metrics"
)

// ZeroAddress is the unset address sentinel used by the ledger.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// ErrDecode is returned when a call result or log cannot be decoded.
var ErrDecode = errors.New("ledger: decode failed")

// Backend is the subset of an RPC client used by Client.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	return c, nil
}

// Option configures a Client.
type Option func(*Client)

// WithFrom sets the caller address used for contract calls.
func WithFrom(from common.Address) Option {
	return func(c *Client) {
		c.from = from
	}
}

// WithRateLimit caps RPC requests per second. Zero disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithFromBlock sets the first block scanned for events.
func WithFromBlock(block uint64) Option {
	return func(c *Client) {
		c.fromBlock = block
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client reads ledger state. A pinned client performs every read at one
// block height.
type Client struct {
	backend   Backend
	from      common.Address
	limiter   *rate.Limiter
	fromBlock uint64
	block     *big.Int
	logger    *slog.Logger
}

// NewClient creates a new ledger client.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pin returns a copy of the client bound to the current head block.
func (c *Client) Pin(ctx context.Context) (*Client, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	head, err := c.backend.BlockNumber(ctx)
	metrics.RPCCall("eth_blockNumber", err)
	if err != nil {
		return nil, fmt.Errorf("reading head block: %w", err)
	}
	pinned := *c
	pinned.block = new(big.Int).SetUint64(head)
	c.logger.Debug("pinned ledger snapshot", "block", head)
	return &pinned, nil
}

// Block returns the pinned height, or zero when the client reads latest state.
func (c *Client) Block() uint64 {
	if c.block == nil {
		return 0
	}
	return c.block.Uint64()
}

// Pinned reports whether the client is bound to a block height.
func (c *Client) Pinned() bool {
	return c.block != nil
}

// ResolveApp reads the application at address together with its provider
// directory, factory and stdlib.
func (c *Client) ResolveApp(ctx context.Context, address common.Address) (*App, error) {
	version, err := c.callString(ctx, appABI, address, "version")
	if err != nil {
		return nil, fmt.Errorf("reading app version: %w", err)
	}
	directory, err := c.callAddress(ctx, appABI, address, "getProvider")
	if err != nil {
		return nil, fmt.Errorf("reading app provider: %w", err)
	}
	factory, err := c.callAddress(ctx, appABI, address, "factory")
	if err != nil {
		return nil, fmt.Errorf("reading app factory: %w", err)
	}
	stdlib, err := c.callAddress(ctx, directoryABI, directory, "stdlib")
	if err != nil {
		return nil, fmt.Errorf("reading provider stdlib: %w", err)
	}

	return &App{
		Address:   address,
		Version:   version,
		Directory: directory,
		Factory:   factory,
		Stdlib:    stdlib,
		Block:     c.Block(),
	}, nil
}

// ProxyImplementation returns the implementation a proxy currently points to.
func (c *Client) ProxyImplementation(ctx context.Context, app *App, proxy common.Address) (common.Address, error) {
	impl, err := c.callAddress(ctx, appABI, app.Address, "getProxyImplementation", proxy)
	if err != nil {
		return common.Address{}, fmt.Errorf("reading implementation of proxy %s: %w", proxy.Hex(), err)
	}
	return impl, nil
}

// CodeAt returns the deployed code at account.
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	code, err := c.backend.CodeAt(ctx, account, c.block)
	metrics.RPCCall("eth_getCode", err)
	if err != nil {
		return nil, fmt.Errorf("reading code at %s: %w", account.Hex(), err)
	}
	return code, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: input}, c.block)
	metrics.RPCCall("eth_call", err)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}

	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrDecode, method, to.Hex(), err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrDecode, method, len(values))
	}
	return values, nil
}

func (c *Client) callString(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (string, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s returned %T", ErrDecode, method, values[0])
	}
	return s, nil
}

func (c *Client) callAddress(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Address, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s returned %T", ErrDecode, method, values[0])
	}
	return addr, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rpc budget: %w", err)
	}
	return nil
}
