package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// App is a resolved application snapshot.
type App struct {
	Address   common.Address
	Version   string
	Directory common.Address
	Factory   common.Address
	Stdlib    common.Address
	Block     uint64
}

// CurrentStdlib returns the stdlib address, which is zero when unset.
func (a *App) CurrentStdlib() common.Address {
	return a.Stdlib
}

// HasStdlib reports whether the app links a stdlib.
func (a *App) HasStdlib() bool {
	return a.Stdlib != (common.Address{})
}

// Resolver resolves an application by address.
type Resolver interface {
	ResolveApp(ctx context.Context, address common.Address) (*App, error)
}

// Handle memoizes the resolution of one application. Concurrent first
// callers share a single fetch; failures are not cached.
type Handle struct {
	resolver Resolver
	address  common.Address

	group singleflight.Group
	mu    sync.RWMutex
	app   *App
}

// NewHandle creates a handle for the app at address.
func NewHandle(resolver Resolver, address common.Address) *Handle {
	return &Handle{resolver: resolver, address: address}
}

// Address returns the app address this handle resolves.
func (h *Handle) Address() common.Address {
	return h.address
}

// App returns the resolved application, fetching it on first use.
func (h *Handle) App(ctx context.Context) (*App, error) {
	h.mu.RLock()
	app := h.app
	h.mu.RUnlock()
	if app != nil {
		return app, nil
	}

	v, err, _ := h.group.Do(h.address.Hex(), func() (interface{}, error) {
		h.mu.RLock()
		cached := h.app
		h.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		resolved, err := h.resolver.ResolveApp(ctx, h.address)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.app = resolved
		h.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*App), nil
}
