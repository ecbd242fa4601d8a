package wallet

import (
	"errors"
	"sync"

	"github.com/CedrosPay/cedros-go/internal/idgen"
)

// Pool owns the wallet adapters for one provider scope.
//
// Pools are intentionally NOT shared across scopes, even for identical tenant
// configurations: adapters carry per-session state that must not leak between
// concurrently mounted tenants or users. The manager cache shares managers;
// it never shares pools.
type Pool struct {
	id       string
	adapters []Adapter

	mu     sync.Mutex
	closed bool
}

// PoolOption configures pool construction.
type PoolOption func(*poolOptions)

type poolOptions struct {
	adapters []Adapter
}

// WithAdapters injects a custom adapter set instead of the defaults.
func WithAdapters(adapters ...Adapter) PoolOption {
	return func(o *poolOptions) { o.adapters = adapters }
}

// NewPool creates a pool with a unique ID and an eagerly constructed adapter
// set. The default set is one Solana and one EVM local-key adapter.
func NewPool(opts ...PoolOption) (*Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}

	adapters := o.adapters
	if adapters == nil {
		sol, err := NewSolanaAdapter()
		if err != nil {
			return nil, err
		}
		evm, err := NewEVMAdapter()
		if err != nil {
			return nil, err
		}
		adapters = []Adapter{sol, evm}
	}
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}

	return &Pool{
		id:       idgen.Timestamped("wp"),
		adapters: adapters,
	}, nil
}

// ID returns the pool's unique identity.
func (p *Pool) ID() string { return p.id }

// Adapters returns the adapter set. The same slice is returned on every call
// within the pool's lifetime so consumers can rely on reference equality.
// After Cleanup the pool is disposed and the contents are undefined.
func (p *Pool) Adapters() []Adapter { return p.adapters }

// Primary returns the first adapter, the default signer for payment flows.
func (p *Pool) Primary() (Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolDisposed
	}
	return p.adapters[0], nil
}

// Cleanup closes every adapter. Safe to call multiple times.
func (p *Pool) Cleanup() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, a := range p.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disposed reports whether Cleanup has run.
func (p *Pool) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
