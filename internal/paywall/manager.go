package paywall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/CedrosPay/cedros-go/internal/apierr"
	"github.com/CedrosPay/cedros-go/internal/circuitbreaker"
	"github.com/CedrosPay/cedros-go/internal/ratelimit"
	"github.com/CedrosPay/cedros-go/internal/retry"
	"github.com/CedrosPay/cedros-go/internal/routediscovery"
	"github.com/CedrosPay/cedros-go/internal/traces"
)

// Manager drives the on-chain rail against one backend. All outbound calls
// pass through rate limit → circuit breaker → retry, in that order: a
// rate-limit rejection never touches the breaker, and a breaker-open
// rejection never enters the retry loop.
type Manager struct {
	routes     *routediscovery.Manager
	limiter    *ratelimit.Bucket
	breaker    *circuitbreaker.Breaker
	retryCfg   retry.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures a Manager.
type Options struct {
	Limiter    *ratelimit.Bucket
	Breaker    *circuitbreaker.Breaker
	Retry      retry.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a paywall manager bound to a route discovery manager.
func New(routes *routediscovery.Manager, opts Options) *Manager {
	m := &Manager{
		routes:     routes,
		limiter:    opts.Limiter,
		breaker:    opts.Breaker,
		retryCfg:   opts.Retry,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if m.limiter == nil {
		m.limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if m.breaker == nil {
		m.breaker = circuitbreaker.New("paywall", 5, 10*time.Second)
	}
	if m.retryCfg.Name == "" {
		m.retryCfg.Name = "paywall"
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// quotePath returns the quote route for a resource. Cart resources quote
// against the cart path; regular and refund share the generic path, with the
// type carried in the payload rather than the URL.
func quotePath(rt ResourceType, resource string) string {
	if rt == ResourceCart {
		return "/paywall/v1/cart/" + url.PathEscape(resource)
	}
	return "/paywall/v1/" + url.PathEscape(resource)
}

// verifyPath is the single verification route for every resource type.
const verifyPath = "/paywall/v1/verify"

// RequestQuote fetches a fresh payment requirement for resource. Nothing is
// ever served from a cached quote; each call is a new outbound request. A
// coupon code, when present, is appended as a query parameter.
func (m *Manager) RequestQuote(ctx context.Context, resource, couponCode string, rt ResourceType) (*PaymentRequirement, error) {
	ctx, span := traces.StartSpan(ctx, "paywall.request_quote",
		traces.Resource(resource), traces.ResourceTypeAttr(string(rt)))
	defer span.End()

	target, err := m.routes.BuildURL(ctx, quotePath(rt, resource))
	if err != nil {
		return nil, err
	}
	if couponCode != "" {
		target += "?coupon=" + url.QueryEscape(couponCode)
	}

	var req PaymentRequirement
	err = m.call(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Cache-Control", "no-store")

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		// The quote arrives as a 402 body; a plain 200 is accepted for
		// backends that serve quotes without the status-code signal.
		if resp.StatusCode != http.StatusPaymentRequired && resp.StatusCode != http.StatusOK {
			return classify(apierr.FromResponse(resp))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return retry.Permanent(fmt.Errorf("invalid quote response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Resource == "" {
		req.Resource = resource
	}
	if err := validateRequirement(&req); err != nil {
		return nil, err
	}

	m.logger.Debug("quote received",
		"resource", resource,
		"amount", req.Amount,
		"network", req.Network,
	)
	return &req, nil
}

// SubmitOptions carries the cross-cutting submission inputs.
type SubmitOptions struct {
	CouponCode   string
	Metadata     map[string]string
	ResourceType ResourceType
}

// SubmitPayment POSTs a signed payment payload to the verify endpoint.
// Metadata and coupon code are threaded into the payload on this path and on
// the gasless path identically.
func (m *Manager) SubmitPayment(ctx context.Context, resource string, payload PaymentPayload, opts SubmitOptions) (*PaymentResult, error) {
	ctx, span := traces.StartSpan(ctx, "paywall.submit_payment",
		traces.Resource(resource), traces.ResourceTypeAttr(string(opts.ResourceType)))
	defer span.End()

	return m.submit(ctx, resource, payload, opts)
}

// SubmitGaslessTransaction submits a base64 partial transaction for the
// server to co-sign and sponsor. Same route, same metadata threading.
func (m *Manager) SubmitGaslessTransaction(ctx context.Context, resource, partialTx string, payload PaymentPayload, opts SubmitOptions) (*PaymentResult, error) {
	ctx, span := traces.StartSpan(ctx, "paywall.submit_gasless",
		traces.Resource(resource), traces.ResourceTypeAttr(string(opts.ResourceType)))
	defer span.End()

	payload.Transaction = partialTx
	payload.Signature = ""
	return m.submit(ctx, resource, payload, opts)
}

func (m *Manager) submit(ctx context.Context, resource string, payload PaymentPayload, opts SubmitOptions) (*PaymentResult, error) {
	rt := opts.ResourceType
	if rt == "" {
		rt = ResourceRegular
	}
	payload.Resource = resource
	payload.ResourceType = rt
	payload.Coupon = opts.CouponCode
	payload.Metadata = opts.Metadata

	header, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	// Verification always goes to the generic verify endpoint; resource id
	// and type travel in the payload, never in the URL.
	target, err := m.routes.BuildURL(ctx, verifyPath)
	if err != nil {
		return nil, err
	}

	var vr verifyResponse
	err = m.call(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set(PaymentHeader, header)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classify(apierr.FromResponse(resp))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &vr); err != nil {
			return retry.Permanent(fmt.Errorf("invalid verify response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Settlement comes from the nested field only; the response envelope is
	// never relabelled into a settlement record.
	result := &PaymentResult{
		Success:    vr.Success,
		TxHash:     vr.TxHash,
		Error:      vr.Error,
		Settlement: vr.Settlement,
	}
	if result.TxHash == "" && vr.Settlement != nil {
		result.TxHash = vr.Settlement.TxHash
	}

	m.logger.Debug("payment submitted",
		"resource", resource,
		"resource_type", string(rt),
		"success", result.Success,
	)
	return result, nil
}

// EncodePayload renders a payload as the base64 JSON X-PAYMENT header value.
func EncodePayload(payload PaymentPayload) (string, error) {
	env := paymentEnvelope{X402Version: protocolVersion, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload parses an X-PAYMENT header value. Exposed for tests and
// tooling that inspects outbound payments.
func DecodePayload(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var env paymentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse payment header: %w", err)
	}
	return &env.Payload, nil
}

// call runs fn through the resilience chain.
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

// classify maps an APIError into the retry taxonomy: 4xx is permanent, 5xx
// stays retryable.
func classify(ae *apierr.APIError) error {
	if ae.Transient() {
		return ae
	}
	return retry.Permanent(ae)
}

// validateRequirement rejects quotes whose recipient does not parse for the
// advertised network. Solana-style networks carry base58 ed25519 keys; EVM
// networks carry 0x addresses.
func validateRequirement(req *PaymentRequirement) error {
	if req.Amount == "" {
		return fmt.Errorf("paywall: quote missing amount")
	}
	if req.PayTo == "" {
		return fmt.Errorf("paywall: quote missing recipient")
	}

	switch {
	case strings.HasPrefix(req.Network, "eip155"), strings.HasPrefix(req.PayTo, "0x"):
		if !common.IsHexAddress(req.PayTo) {
			return fmt.Errorf("paywall: invalid recipient address %q", req.PayTo)
		}
	default:
		raw, err := base58.Decode(req.PayTo)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("paywall: invalid recipient pubkey %q", req.PayTo)
		}
	}
	return nil
}
