package status

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/appstatus/internal/digest"
	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/manifest"
)

func addr(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(n)))
}

var (
	appAddress       = addr(0xa1)
	directoryAddress = addr(0xd1)
	factoryAddress   = addr(0xf1)
	stdlibAddress    = addr(0xb1)
)

// fakeView is an ordered in-memory manifest.View.
type fakeView struct {
	version   string
	app       string
	provider  string
	stdlib    string
	contracts map[string]manifest.Contract
	proxies   map[string][]manifest.Proxy

	contractOrder []string
	proxyOrder    []string
}

func newFakeView() *fakeView {
	return &fakeView{
		version:   "1.1.0",
		app:       appAddress.Hex(),
		provider:  directoryAddress.Hex(),
		contracts: make(map[string]manifest.Contract),
		proxies:   make(map[string][]manifest.Proxy),
	}
}

func (v *fakeView) addContract(alias string, c manifest.Contract) {
	v.contracts[alias] = c
	v.contractOrder = append(v.contractOrder, alias)
}

func (v *fakeView) addProxies(alias string, records ...manifest.Proxy) {
	if _, ok := v.proxies[alias]; !ok {
		v.proxyOrder = append(v.proxyOrder, alias)
	}
	v.proxies[alias] = append(v.proxies[alias], records...)
}

func (v *fakeView) Version() string         { return v.version }
func (v *fakeView) AppAddress() string      { return v.app }
func (v *fakeView) ProviderAddress() string { return v.provider }
func (v *fakeView) StdlibAddress() string   { return v.stdlib }

func (v *fakeView) HasContract(alias string) bool {
	_, ok := v.contracts[alias]
	return ok
}

func (v *fakeView) Contract(alias string) manifest.Contract {
	return v.contracts[alias]
}

func (v *fakeView) ContractAliases() []string {
	return append([]string(nil), v.contractOrder...)
}

func (v *fakeView) HasProxy(alias string) bool {
	_, ok := v.proxies[alias]
	return ok
}

func (v *fakeView) Proxy(alias string) []manifest.Proxy {
	return append([]manifest.Proxy(nil), v.proxies[alias]...)
}

func (v *fakeView) ProxyAliases() []string {
	return append([]string(nil), v.proxyOrder...)
}

// fakeLedger is a mock implementation of Ledger
type fakeLedger struct {
	mu sync.Mutex

	app     *ledger.App
	changes []ledger.ImplementationChanged
	created []ledger.ProxyCreated
	targets map[common.Address]common.Address
	code    map[common.Address][]byte

	resolveErr error
	proxyErr   error
	codeErr    error

	resolveCalls int
	resolvedFor  []common.Address
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		app: &ledger.App{
			Address:   appAddress,
			Version:   "1.1.0",
			Directory: directoryAddress,
			Factory:   factoryAddress,
		},
		targets: make(map[common.Address]common.Address),
		code:    make(map[common.Address][]byte),
	}
}

// register appends an ImplementationChanged event.
func (l *fakeLedger) register(alias string, impl common.Address) {
	l.changes = append(l.changes, ledger.ImplementationChanged{
		ContractName:   alias,
		Implementation: impl,
		Position:       ledger.Position{BlockNumber: uint64(len(l.changes) + 1)},
	})
}

// createProxy appends a ProxyCreated event for a proxy pointing to impl.
func (l *fakeLedger) createProxy(proxy, impl common.Address) {
	l.created = append(l.created, ledger.ProxyCreated{
		Proxy:    proxy,
		Position: ledger.Position{BlockNumber: uint64(len(l.created) + 1)},
	})
	l.targets[proxy] = impl
}

func (l *fakeLedger) ResolveApp(ctx context.Context, address common.Address) (*ledger.App, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolveCalls++
	l.resolvedFor = append(l.resolvedFor, address)
	if l.resolveErr != nil {
		return nil, l.resolveErr
	}
	app := *l.app
	app.Address = address
	return &app, nil
}

func (l *fakeLedger) ProxyImplementation(ctx context.Context, app *ledger.App, proxy common.Address) (common.Address, error) {
	if l.proxyErr != nil {
		return common.Address{}, l.proxyErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	impl, ok := l.targets[proxy]
	if !ok {
		return common.Address{}, errors.New("unknown proxy")
	}
	return impl, nil
}

func (l *fakeLedger) ImplementationChanges(ctx context.Context, directory common.Address) ([]ledger.ImplementationChanged, error) {
	if directory != l.app.Directory {
		return nil, nil
	}
	return append([]ledger.ImplementationChanged(nil), l.changes...), nil
}

func (l *fakeLedger) ProxiesCreated(ctx context.Context, factory common.Address) ([]ledger.ProxyCreated, error) {
	if factory != l.app.Factory {
		return nil, nil
	}
	return append([]ledger.ProxyCreated(nil), l.created...), nil
}

func (l *fakeLedger) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	if l.codeErr != nil {
		return nil, l.codeErr
	}
	return l.code[account], nil
}

// deploy registers alias at impl on the ledger with some code and records the
// matching contract in the view.
func deploy(v *fakeView, l *fakeLedger, alias string, impl common.Address) {
	code := []byte{0x60, 0x80, byte(len(l.code))}
	l.code[impl] = code
	l.register(alias, impl)
	v.addContract(alias, manifest.Contract{
		Address:         impl.Hex(),
		ConstructorCode: "0x6001",
		BytecodeHash:    digest.Digest([]byte{0x60, 0x01}, code),
	})
}

func record(proxy, impl common.Address) manifest.Proxy {
	return manifest.Proxy{Address: proxy.Hex(), Implementation: impl.Hex(), Version: "1.1.0"}
}
