// Package cedros is the embedding surface of the SDK. A Provider is one
// mounted scope: it holds a reference to the shared manager bundle for its
// configuration and owns a wallet pool that is never shared with any other
// scope.
package cedros

import (
	"log/slog"
	"sync"

	"github.com/CedrosPay/cedros-go/internal/checkout"
	"github.com/CedrosPay/cedros-go/internal/config"
	"github.com/CedrosPay/cedros-go/internal/managercache"
	"github.com/CedrosPay/cedros-go/internal/payment"
	"github.com/CedrosPay/cedros-go/internal/paywall"
	"github.com/CedrosPay/cedros-go/internal/routediscovery"
	"github.com/CedrosPay/cedros-go/internal/wallet"
)

// Provider wires one scope to its shared managers and private wallet pool.
// Two Providers built from configurations with the same fingerprint share
// managers; their wallet pools are always distinct.
type Provider struct {
	cfg     *config.Config
	bundle  *managercache.Bundle
	release managercache.ReleaseFunc
	pool    *wallet.Pool
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	logger   *slog.Logger
	poolOpts []wallet.PoolOption
}

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(o *providerOptions) { o.logger = l }
}

// WithWalletPoolOptions forwards options to the provider's wallet pool.
func WithWalletPoolOptions(opts ...wallet.PoolOption) ProviderOption {
	return func(o *providerOptions) { o.poolOpts = opts }
}

// New mounts a scope: it acquires the shared manager bundle for cfg from the
// registry and creates a fresh wallet pool. Callers must Close the provider
// when the scope unmounts.
func New(registry *managercache.Registry, cfg *config.Config, opts ...ProviderOption) (*Provider, error) {
	o := &providerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	bundle, release, err := registry.Acquire(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := wallet.NewPool(o.poolOpts...)
	if err != nil {
		release()
		return nil, err
	}

	p := &Provider{
		cfg:     cfg,
		bundle:  bundle,
		release: release,
		pool:    pool,
		logger:  o.logger,
	}
	p.logger.Debug("scope mounted",
		"fingerprint", bundle.Fingerprint[:8], "wallet_pool", pool.ID())
	return p, nil
}

// Fingerprint returns the configuration fingerprint this scope maps to.
func (p *Provider) Fingerprint() string { return p.bundle.Fingerprint }

// Checkout returns the shared card checkout manager.
func (p *Provider) Checkout() *checkout.Manager { return p.bundle.Checkout }

// Paywall returns the shared on-chain payment manager.
func (p *Provider) Paywall() *paywall.Manager { return p.bundle.Paywall }

// Routes returns the shared route discovery manager.
func (p *Provider) Routes() *routediscovery.Manager { return p.bundle.Routes }

// WalletPool returns this scope's private wallet pool.
func (p *Provider) WalletPool() *wallet.Pool { return p.pool }

// Config returns the configuration the scope was mounted with.
func (p *Provider) Config() *config.Config { return p.cfg }

// NewFlow creates a payment flow for resource, signed by the pool's primary
// adapter unless the flow options inject a gasless builder.
func (p *Provider) NewFlow(resource string, opts ...payment.Option) (*payment.Flow, error) {
	signer, err := p.pool.Primary()
	if err != nil {
		return nil, err
	}
	base := []payment.Option{payment.WithLogger(p.logger)}
	return payment.NewFlow(p.bundle.Paywall, signer, resource, append(base, opts...)...), nil
}

// Close unmounts the scope: it returns the bundle reference and disposes the
// wallet pool. Safe to call more than once.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.release()
		p.closeErr = p.pool.Cleanup()
		p.logger.Debug("scope unmounted",
			"fingerprint", p.bundle.Fingerprint[:8], "wallet_pool", p.pool.ID())
	})
	return p.closeErr
}
