package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"

	"github.com/CedrosPay/cedros-go/internal/apierr"
	"github.com/CedrosPay/cedros-go/internal/circuitbreaker"
	"github.com/CedrosPay/cedros-go/internal/ratelimit"
	"github.com/CedrosPay/cedros-go/internal/retry"
	"github.com/CedrosPay/cedros-go/internal/routediscovery"
	"github.com/CedrosPay/cedros-go/internal/traces"
)

// ErrNotInitialized is returned when a Stripe-client operation runs before
// Initialize has succeeded.
var ErrNotInitialized = errors.New("checkout: stripe client not initialized")

const (
	sessionPath = "/paywall/v1/stripe-session"
	cartPath    = "/paywall/v1/cart/checkout"
)

// Manager drives the card rail. Session creation goes to the Cedros backend
// through the resilience chain; redirection is a Stripe-client call and is
// deliberately outside the rate limiter and breaker.
type Manager struct {
	routes     *routediscovery.Manager
	limiter    *ratelimit.Bucket
	breaker    *circuitbreaker.Breaker
	retryCfg   retry.Config
	httpClient *http.Client
	logger     *slog.Logger

	publishableKey string

	// Initialization is lazy and retryable: a failed attempt leaves the
	// manager uninitialized so the caller can try again.
	initMu      sync.Mutex
	initialized bool
	stripe      *stripeclient.API
}

// Options configures a Manager.
type Options struct {
	PublishableKey string
	Limiter        *ratelimit.Bucket
	Breaker        *circuitbreaker.Breaker
	Retry          retry.Config
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// New creates a checkout manager bound to a route discovery manager.
func New(routes *routediscovery.Manager, opts Options) *Manager {
	m := &Manager{
		routes:         routes,
		limiter:        opts.Limiter,
		breaker:        opts.Breaker,
		retryCfg:       opts.Retry,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		publishableKey: opts.PublishableKey,
	}
	if m.limiter == nil {
		m.limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if m.breaker == nil {
		m.breaker = circuitbreaker.New("checkout", 5, 10*time.Second)
	}
	if m.retryCfg.Name == "" {
		m.retryCfg.Name = "checkout"
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Initialize sets up the Stripe client exactly once. Subsequent calls no-op
// when already initialized; a failure leaves the manager uninitialized so an
// explicit retry can succeed later.
func (m *Manager) Initialize() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}
	if m.publishableKey == "" {
		return fmt.Errorf("checkout: missing stripe publishable key")
	}

	sc := &stripeclient.API{}
	sc.Init(m.publishableKey, nil)
	m.stripe = sc
	m.initialized = true
	m.logger.Debug("stripe client initialized")
	return nil
}

// Initialized reports whether the Stripe client is ready.
func (m *Manager) Initialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initialized
}

// CreateSession asks the backend to create a checkout session. Each call
// carries a fresh idempotency key: retries of one logical request deduplicate
// server-side, while two distinct user attempts get distinct keys.
func (m *Manager) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.create_session",
		traces.Resource(req.Resource), traces.Rail("card"))
	defer span.End()

	return m.postSession(ctx, sessionPath, req)
}

// CreateCartSession asks the backend for a cart checkout session.
func (m *Manager) CreateCartSession(ctx context.Context, req CartRequest) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.create_cart_session", traces.Rail("card"))
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("checkout: cart is empty")
	}
	for i := range req.Items {
		if req.Items[i].Quantity <= 0 {
			req.Items[i].Quantity = 1
		}
	}
	return m.postSession(ctx, cartPath, req)
}

func (m *Manager) postSession(ctx context.Context, path string, body any) (*Session, error) {
	target, err := m.routes.BuildURL(ctx, path)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("checkout: encode request: %w", err)
	}
	idempotencyKey := uuid.NewString()

	var session Session
	err = m.call(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			ae := apierr.FromResponse(resp)
			if ae.Transient() {
				return ae
			}
			return retry.Permanent(ae)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(respBody, &session); err != nil {
			return retry.Permanent(fmt.Errorf("invalid session response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if session.SessionID == "" {
		return nil, fmt.Errorf("checkout: backend returned no session id")
	}
	m.logger.Debug("checkout session created", "session_id", session.SessionID)
	return &session, nil
}

// RedirectToCheckout hands control to Stripe's hosted checkout for the given
// session. On success control would not return in a browser; here the
// destination URL is surfaced on the result for the embedding layer to act
// on. Not rate limited or breaker-guarded: this is a Stripe-client call, not
// a backend fetch under this SDK's control.
func (m *Manager) RedirectToCheckout(ctx context.Context, sessionID string) Result {
	_, span := traces.StartSpan(ctx, "checkout.redirect", traces.SessionID(sessionID))
	defer span.End()

	if err := m.Initialize(); err != nil {
		return Result{Success: false, SessionID: sessionID, Error: err.Error()}
	}

	s, err := m.stripe.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{})
	if err != nil {
		return Result{Success: false, SessionID: sessionID, Error: err.Error()}
	}
	return Result{Success: true, SessionID: sessionID, URL: s.URL}
}

// ProcessPayment composes CreateSession and RedirectToCheckout. Errors never
// escape as panics or raw errors; callers check the result's success flag.
func (m *Manager) ProcessPayment(ctx context.Context, req SessionRequest) Result {
	session, err := m.CreateSession(ctx, req)
	if err != nil {
		return failure(err)
	}
	if session.URL != "" {
		// The backend already minted the hosted URL; no Stripe round trip needed.
		return Result{Success: true, SessionID: session.SessionID, URL: session.URL}
	}
	return m.RedirectToCheckout(ctx, session.SessionID)
}

// ProcessCartCheckout composes CreateCartSession and RedirectToCheckout.
func (m *Manager) ProcessCartCheckout(ctx context.Context, req CartRequest) Result {
	session, err := m.CreateCartSession(ctx, req)
	if err != nil {
		return failure(err)
	}
	if session.URL != "" {
		return Result{Success: true, SessionID: session.SessionID, URL: session.URL}
	}
	return m.RedirectToCheckout(ctx, session.SessionID)
}

func failure(err error) Result {
	msg := "payment could not be started"
	if err != nil {
		msg = err.Error()
	}
	return Result{Success: false, Error: msg}
}

// call runs fn through rate limit → breaker → retry.
func (m *Manager) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.limiter.TryConsume() {
		return apierr.ErrRateLimited
	}
	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, m.retryCfg, func() error {
			return fn(ctx)
		})
	})
}
