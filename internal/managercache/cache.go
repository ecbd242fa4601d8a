// Package managercache shares manager bundles across scopes with the same
// tenant configuration fingerprint.
//
// Sharing is a correctness-and-security property, not just an optimization:
// identical fingerprints MUST share one bundle (so the breaker trips across
// every consumer of a tenant's endpoints) and distinct fingerprints MUST
// never observe each other's state. Wallet pools are intentionally outside
// the cache; they are per-scope.
package managercache

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CedrosPay/cedros-go/internal/checkout"
	"github.com/CedrosPay/cedros-go/internal/circuitbreaker"
	"github.com/CedrosPay/cedros-go/internal/config"
	"github.com/CedrosPay/cedros-go/internal/paywall"
	"github.com/CedrosPay/cedros-go/internal/ratelimit"
	"github.com/CedrosPay/cedros-go/internal/retry"
	"github.com/CedrosPay/cedros-go/internal/routediscovery"
)

// Bundle is the shared manager set for one tenant fingerprint.
type Bundle struct {
	Fingerprint string
	Routes      *routediscovery.Manager
	Checkout    *checkout.Manager
	Paywall     *paywall.Manager
}

// ReleaseFunc returns a scope's reference. Each release handle is safe to
// call more than once; only the first call decrements.
type ReleaseFunc func()

type entry struct {
	bundle    *Bundle
	refCount  int
	createdAt time.Time
}

// Registry is an explicit, injectable manager cache. There is deliberately
// no package-level instance: whoever constructs scopes owns a Registry and
// passes it down, which keeps tests hermetic.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger

	// HTTPClient, when set, is used by every constructed manager. Tests use
	// it to point bundles at a mock backend transport.
	HTTPClient *http.Client
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger passed to constructed managers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithHTTPClient sets the HTTP client used by constructed managers.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.HTTPClient = c }
}

// Acquire returns the shared bundle for cfg's fingerprint, constructing it
// on first reference. The read-increment-or-insert sequence runs under one
// mutex so concurrent acquisitions never both believe they created the first
// entry. Construction failures propagate and leave the cache untouched.
func (r *Registry) Acquire(cfg *config.Config) (*Bundle, ReleaseFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	fp := cfg.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[fp]
	if !ok {
		bundle := r.build(cfg.Normalized(), fp)
		e = &entry{bundle: bundle, createdAt: time.Now()}
		r.entries[fp] = e
		r.logger.Debug("manager bundle created", "fingerprint", fp[:12])
	}
	e.refCount++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(fp) })
	}
	return e.bundle, release, nil
}

// release decrements and removes the entry the instant the count reaches
// zero. No delayed sweep: a later acquisition with the same fingerprint
// constructs a fresh bundle. In-flight requests from the evicted managers
// run to completion on their own.
func (r *Registry) release(fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[fp]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(r.entries, fp)
		r.logger.Debug("manager bundle evicted", "fingerprint", fp[:12])
	}
}

// build constructs the manager set for one tenant. Limiter and breaker state
// live per bundle, shared by every scope using that fingerprint.
func (r *Registry) build(cfg *config.Config, fp string) *Bundle {
	routes := routediscovery.New(cfg.ServerURL,
		routediscovery.WithLogger(r.logger),
		routediscovery.WithHealthPath(cfg.EndpointOverrides["health"]),
		routediscovery.WithHTTPClient(r.httpClient()),
	)

	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	limiterCfg := ratelimit.Config{
		Capacity:        cfg.RateBurst,
		RefillPerSecond: cfg.RateRefillPerSec,
	}

	co := checkout.New(routes, checkout.Options{
		PublishableKey: cfg.StripePublishableKey,
		Limiter:        ratelimit.New(limiterCfg),
		Breaker:        circuitbreaker.New("checkout:"+fp[:8], cfg.BreakerThreshold, cfg.BreakerCooldown),
		Retry:          withName(retryCfg, "checkout"),
		HTTPClient:     r.HTTPClient,
		Logger:         r.logger,
	})
	pw := paywall.New(routes, paywall.Options{
		Limiter:    ratelimit.New(limiterCfg),
		Breaker:    circuitbreaker.New("paywall:"+fp[:8], cfg.BreakerThreshold, cfg.BreakerCooldown),
		Retry:      withName(retryCfg, "paywall"),
		HTTPClient: r.HTTPClient,
		Logger:     r.logger,
	})

	return &Bundle{
		Fingerprint: fp,
		Routes:      routes,
		Checkout:    co,
		Paywall:     pw,
	}
}

func (r *Registry) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func withName(cfg retry.Config, name string) retry.Config {
	cfg.Name = name
	return cfg
}

// Len returns the number of live entries, for diagnostics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RefCount returns the reference count for a fingerprint (0 if absent).
func (r *Registry) RefCount(fp string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[fp]; ok {
		return e.refCount
	}
	return 0
}
