// Package payment drives the quote → sign → submit → settle sequence and
// owns the user-facing payment state.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CedrosPay/cedros-go/internal/idgen"
	"github.com/CedrosPay/cedros-go/internal/paywall"
	"github.com/CedrosPay/cedros-go/internal/traces"
	"github.com/CedrosPay/cedros-go/internal/wallet"
)

// State is the flow's user-facing phase.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Phase is the sub-step inside loading, exposed so an embedding layer can
// render "awaiting wallet signature" distinctly.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseQuoting    Phase = "quoting"
	PhaseSigning    Phase = "signing"
	PhaseSubmitting Phase = "submitting"
)

var (
	flowsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cedros",
		Subsystem: "payment",
		Name:      "flows_started_total",
		Help:      "Payment flows triggered.",
	})
	flowsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cedros",
		Subsystem: "payment",
		Name:      "flows_succeeded_total",
		Help:      "Payment flows that reached settlement.",
	})
	flowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cedros",
		Subsystem: "payment",
		Name:      "flows_failed_total",
		Help:      "Payment flows that ended in error.",
	})
)

func init() {
	prometheus.MustRegister(flowsStarted, flowsSucceeded, flowsFailed)
}

// TxBuilder builds a base64 partial transaction for the gasless path.
type TxBuilder func(ctx context.Context, req *paywall.PaymentRequirement) (string, error)

// Flow is one payment flow: a single resource, a single signer, triggered by
// one interaction point. Flows are not shared; each scope owns its own.
type Flow struct {
	id       string
	mgr      *paywall.Manager
	signer   wallet.Adapter
	resource string
	rt       paywall.ResourceType
	coupon   string
	metadata map[string]string
	gasless  TxBuilder
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	phase    Phase
	result   *paywall.PaymentResult
	errMsg   string
	disposed bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithResourceType sets the resource type (default regular).
func WithResourceType(rt paywall.ResourceType) Option {
	return func(f *Flow) { f.rt = rt }
}

// WithCoupon threads a coupon code through quote and submission.
func WithCoupon(code string) Option {
	return func(f *Flow) { f.coupon = code }
}

// WithMetadata threads metadata through to submission.
func WithMetadata(md map[string]string) Option {
	return func(f *Flow) { f.metadata = md }
}

// WithGasless switches submission to the gasless path using builder.
func WithGasless(builder TxBuilder) Option {
	return func(f *Flow) { f.gasless = builder }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// NewFlow creates an idle flow for one resource.
func NewFlow(mgr *paywall.Manager, signer wallet.Adapter, resource string, opts ...Option) *Flow {
	f := &Flow{
		id:       idgen.WithPrefix("flow_"),
		mgr:      mgr,
		signer:   signer,
		resource: resource,
		rt:       paywall.ResourceRegular,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns the flow's unique identity.
func (f *Flow) ID() string { return f.id }

// State returns the current user-facing state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Phase returns the loading sub-step.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Result returns the terminal result, nil before completion.
func (f *Flow) Result() *paywall.PaymentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Err returns the surfaced error message in the error state.
func (f *Flow) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// Trigger runs the payment sequence. A second trigger while the flow is
// loading is a no-op (request deduplication), reported by started=false.
// The flow never panics or returns a raw error across this boundary: the
// outcome lands in the returned result and in the flow state.
//
// A fresh quote is fetched on every trigger; nothing held from a prior
// attempt or render is reused, because price, recipient, or expiry may have
// changed server-side.
func (f *Flow) Trigger(ctx context.Context) (result *paywall.PaymentResult, started bool) {
	f.mu.Lock()
	if f.disposed || f.state == StateLoading {
		res := f.result
		f.mu.Unlock()
		return res, false
	}
	f.state = StateLoading
	f.phase = PhaseQuoting
	f.result = nil
	f.errMsg = ""
	f.mu.Unlock()

	flowsStarted.Inc()
	ctx, span := traces.StartSpan(ctx, "payment.flow",
		traces.Resource(f.resource), traces.ResourceTypeAttr(string(f.rt)), traces.Rail("onchain"))
	defer span.End()

	res, err := f.run(ctx)
	if err != nil {
		f.fail(err)
		flowsFailed.Inc()
		return &paywall.PaymentResult{Success: false, Error: err.Error()}, true
	}
	if !res.Success {
		f.failResult(res)
		flowsFailed.Inc()
		return res, true
	}
	f.succeed(res)
	flowsSucceeded.Inc()
	return res, true
}

// run executes quote → sign → submit. Each step strictly awaits its
// predecessor; there is no parallelism inside one flow.
func (f *Flow) run(ctx context.Context) (*paywall.PaymentResult, error) {
	req, err := f.mgr.RequestQuote(ctx, f.resource, f.coupon, f.rt)
	if err != nil {
		return nil, err
	}

	opts := paywall.SubmitOptions{
		CouponCode:   f.coupon,
		Metadata:     f.metadata,
		ResourceType: f.rt,
	}

	if f.gasless != nil {
		f.setPhase(PhaseSigning)
		partialTx, err := f.gasless(ctx, req)
		if err != nil {
			return nil, err
		}
		f.setPhase(PhaseSubmitting)
		return f.mgr.SubmitGaslessTransaction(ctx, f.resource, partialTx, paywall.PaymentPayload{
			Scheme:  req.Scheme,
			Network: req.Network,
			Payer:   f.signer.PublicKey(),
			Nonce:   req.Nonce,
		}, opts)
	}

	f.setPhase(PhaseSigning)
	msg, err := signingMessage(req)
	if err != nil {
		return nil, err
	}
	sig, err := f.signer.SignMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	f.setPhase(PhaseSubmitting)
	return f.mgr.SubmitPayment(ctx, f.resource, paywall.PaymentPayload{
		Scheme:    req.Scheme,
		Network:   req.Network,
		Signature: sig,
		Payer:     f.signer.PublicKey(),
		Nonce:     req.Nonce,
	}, opts)
}

// signingMessage renders the requirement into the byte string the wallet
// signs. Canonical JSON of the fields the server verifies.
func signingMessage(req *paywall.PaymentRequirement) ([]byte, error) {
	msg, err := json.Marshal(map[string]string{
		"resource": req.Resource,
		"amount":   req.Amount,
		"asset":    req.Asset,
		"payTo":    req.PayTo,
		"nonce":    req.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("payment: encode signing message: %w", err)
	}
	return msg, nil
}

// Reset returns a terminal flow to idle. Resetting while loading is refused.
func (f *Flow) Reset() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateLoading || f.disposed {
		return false
	}
	f.state = StateIdle
	f.phase = PhaseNone
	f.result = nil
	f.errMsg = ""
	return true
}

// Dispose detaches the flow from its owner. In-flight work may still
// complete on the network, but late responses no longer write flow state.
func (f *Flow) Dispose() {
	f.mu.Lock()
	f.disposed = true
	f.mu.Unlock()
}

// Disposed reports whether Dispose has run.
func (f *Flow) Disposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *Flow) setPhase(p Phase) {
	f.mu.Lock()
	if !f.disposed {
		f.phase = p
	}
	f.mu.Unlock()
}

func (f *Flow) succeed(res *paywall.PaymentResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return
	}
	f.state = StateSuccess
	f.phase = PhaseNone
	f.result = res
	f.logger.Debug("payment settled", "flow_id", f.id, "tx_hash", res.TxHash)
}

func (f *Flow) failResult(res *paywall.PaymentResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return
	}
	f.state = StateError
	f.phase = PhaseNone
	f.result = res
	f.errMsg = res.Error
	f.logger.Debug("payment rejected", "flow_id", f.id, "error", res.Error)
}

func (f *Flow) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return
	}
	f.state = StateError
	f.phase = PhaseNone
	f.errMsg = err.Error()
	f.logger.Debug("payment failed", "flow_id", f.id, "error", err.Error())
}
