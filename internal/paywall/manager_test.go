package paywall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CedrosPay/cedros-go/internal/apierr"
	"github.com/CedrosPay/cedros-go/internal/circuitbreaker"
	"github.com/CedrosPay/cedros-go/internal/ratelimit"
	"github.com/CedrosPay/cedros-go/internal/retry"
	"github.com/CedrosPay/cedros-go/internal/routediscovery"
	"github.com/CedrosPay/cedros-go/internal/testutil"
)

func newManager(t *testing.T, backend *testutil.MockBackend) *Manager {
	t.Helper()
	routes := routediscovery.New(backend.URL())
	return New(routes, Options{
		Retry: retry.Config{Name: "paywall-test", MaxAttempts: 2, BaseDelay: 5 * time.Millisecond},
	})
}

func TestRequestQuote_AlwaysFresh(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)
	ctx := context.Background()

	q1, err := m.RequestQuote(ctx, "article-42", "", ResourceRegular)
	require.NoError(t, err)
	q2, err := m.RequestQuote(ctx, "article-42", "", ResourceRegular)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.QuoteCount("article-42"),
		"each quote call must hit the network; no internal quote cache")
	assert.Equal(t, q1.Amount, q2.Amount)
	assert.Equal(t, testutil.Recipient, q1.PayTo)
}

func TestRequestQuote_CouponAppended(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)

	_, err := m.RequestQuote(context.Background(), "article-42", "SUMMER10", ResourceRegular)
	require.NoError(t, err)
	assert.Equal(t, "SUMMER10", backend.LastCoupon("article-42"))
}

func TestRequestQuote_CartRoute(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)

	_, err := m.RequestQuote(context.Background(), "cart-9", "", ResourceCart)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.CartQuoteCount("cart-9"))
	assert.Equal(t, 0, backend.QuoteCount("cart-9"))
}

func TestRequestQuote_RefundUsesGenericRoute(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)

	_, err := m.RequestQuote(context.Background(), "order-1", "", ResourceRefund)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.QuoteCount("order-1"))
	assert.Equal(t, 0, backend.CartQuoteCount("order-1"))
}

func TestRequestQuote_RetriesTransient(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	backend.FailNextQuotes(1)
	m := newManager(t, backend)

	_, err := m.RequestQuote(context.Background(), "article-42", "", ResourceRegular)
	require.NoError(t, err, "one 500 should be absorbed by the retry loop")
	assert.Equal(t, 2, backend.QuoteCount("article-42"))
}

func TestSubmitPayment_VerifyRouteAndSettlement(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)

	res, err := m.SubmitPayment(context.Background(), "article-42", PaymentPayload{
		Scheme:    "exact",
		Network:   "solana-mainnet",
		Signature: "sig123",
		Payer:     "payer-pubkey",
	}, SubmitOptions{
		ResourceType: ResourceCart,
		CouponCode:   "SUMMER10",
		Metadata:     map[string]string{"orderId": "o-77"},
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	// Verification always posts to the generic verify endpoint, even for carts.
	paths := backend.VerifyPaths()
	require.Len(t, paths, 1)
	assert.Equal(t, "/api/paywall/v1/verify", paths[0])

	// Settlement comes from the nested field.
	require.NotNil(t, res.Settlement)
	assert.Equal(t, "solana-mainnet", res.Settlement.Network)
	assert.Equal(t, res.TxHash, res.Settlement.TxHash)

	payloads := backend.VerifyPayloads()
	require.Len(t, payloads, 1)
	payload := payloads[0]["payload"].(map[string]any)
	assert.Equal(t, "article-42", payload["resource"])
	assert.Equal(t, "cart", payload["resourceType"])
	assert.Equal(t, "SUMMER10", payload["coupon"])
	metadata := payload["metadata"].(map[string]any)
	assert.Equal(t, "o-77", metadata["orderId"])
}

func TestSubmitGasless_MetadataThreaded(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	m := newManager(t, backend)

	res, err := m.SubmitGaslessTransaction(context.Background(), "article-42", "dHgtYnl0ZXM=", PaymentPayload{
		Scheme:  "exact",
		Network: "solana-mainnet",
		Payer:   "payer-pubkey",
	}, SubmitOptions{
		Metadata: map[string]string{"orderId": "o-88"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	payloads := backend.VerifyPayloads()
	require.Len(t, payloads, 1)
	payload := payloads[0]["payload"].(map[string]any)
	assert.Equal(t, "dHgtYnl0ZXM=", payload["transaction"])
	assert.Equal(t, "regular", payload["resourceType"], "default resource type")
	metadata, ok := payload["metadata"].(map[string]any)
	require.True(t, ok, "metadata must be threaded on the gasless path too")
	assert.Equal(t, "o-88", metadata["orderId"])
	_, hasSig := payload["signature"]
	assert.False(t, hasSig, "gasless submissions carry a transaction, not a signature")
}

func TestSubmitPayment_BusinessErrorNotRetried(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	backend.SetVerifyError("coupon expired")
	m := newManager(t, backend)

	_, err := m.SubmitPayment(context.Background(), "article-42", PaymentPayload{
		Payer: "p",
	}, SubmitOptions{})
	require.Error(t, err)
	var ae *apierr.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "coupon expired", ae.Message)
	assert.Len(t, backend.VerifyPaths(), 0)
}

func TestCall_RateLimitNeverTouchesBreaker(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()

	routes := routediscovery.New(backend.URL())
	breaker := circuitbreaker.New("test-paywall", 5, time.Second)
	m := New(routes, Options{
		Limiter: ratelimit.New(ratelimit.Config{Capacity: 1, RefillPerSecond: 0.001}),
		Breaker: breaker,
		Retry:   retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	ctx := context.Background()

	_, err := m.RequestQuote(ctx, "article-42", "", ResourceRegular)
	require.NoError(t, err)

	_, err = m.RequestQuote(ctx, "article-42", "", ResourceRegular)
	require.ErrorIs(t, err, apierr.ErrRateLimited)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State(),
		"a local rate-limit rejection must not count as a breaker failure")
	assert.Equal(t, 1, backend.QuoteCount("article-42"))
}

func TestCall_BreakerOpenSkipsRetry(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	backend.FailNextQuotes(100)

	routes := routediscovery.New(backend.URL())
	m := New(routes, Options{
		Breaker: circuitbreaker.New("test-paywall-2", 2, time.Minute),
		Retry:   retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.RequestQuote(ctx, "article-42", "", ResourceRegular)
		require.Error(t, err)
	}
	before := backend.QuoteCount("article-42")

	_, err := m.RequestQuote(ctx, "article-42", "", ResourceRegular)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, before, backend.QuoteCount("article-42"),
		"breaker-open rejection must not reach the network")
}

func TestEncodeDecodePayload(t *testing.T) {
	in := PaymentPayload{
		Scheme:       "exact",
		Network:      "solana-mainnet",
		Signature:    "sig",
		Payer:        "payer",
		Resource:     "r-1",
		ResourceType: ResourceRefund,
		Metadata:     map[string]string{"k": "v"},
	}
	header, err := EncodePayload(in)
	require.NoError(t, err)

	out, err := DecodePayload(header)
	require.NoError(t, err)
	assert.Equal(t, in, *out)

	_, err = DecodePayload("%%%not-base64%%%")
	assert.Error(t, err)
}

func TestValidateRequirement(t *testing.T) {
	cases := []struct {
		name    string
		req     PaymentRequirement
		wantErr bool
	}{
		{"valid solana", PaymentRequirement{Amount: "1", Network: "solana-mainnet", PayTo: testutil.Recipient}, false},
		{"valid evm", PaymentRequirement{Amount: "1", Network: "eip155:8453", PayTo: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"}, false},
		{"bad solana key", PaymentRequirement{Amount: "1", Network: "solana-mainnet", PayTo: "not-base58-0OIl"}, true},
		{"bad evm address", PaymentRequirement{Amount: "1", Network: "eip155:1", PayTo: "0x1234"}, true},
		{"missing amount", PaymentRequirement{Network: "solana-mainnet", PayTo: testutil.Recipient}, true},
		{"missing recipient", PaymentRequirement{Amount: "1", Network: "solana-mainnet"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequirement(&tc.req)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuotePath(t *testing.T) {
	assert.Equal(t, "/paywall/v1/cart/c-1", quotePath(ResourceCart, "c-1"))
	assert.Equal(t, "/paywall/v1/r-1", quotePath(ResourceRegular, "r-1"))
	assert.Equal(t, "/paywall/v1/r-1", quotePath(ResourceRefund, "r-1"))
}

func TestRequestQuote_ExhaustedRetriesSurfaceServerError(t *testing.T) {
	backend := testutil.NewMockBackend("/api")
	defer backend.Close()
	backend.FailNextQuotes(100)
	m := newManager(t, backend)

	_, err := m.RequestQuote(context.Background(), "article-42", "", ResourceRegular)
	require.Error(t, err)
	var ae *apierr.APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "quote backend down", ae.Message)
}
