// Package testutil provides a mock Cedros backend for package tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
)

// Recipient is a valid base58 32-byte pubkey (the Solana system program id).
const Recipient = "11111111111111111111111111111111"

// SessionCapture records one session-creation request.
type SessionCapture struct {
	IdempotencyKey string
	Body           map[string]any
	Path           string
}

// MockBackend is an in-process Cedros backend: health probe, Stripe session
// endpoints, paywall quote and verify routes. All state is recorded for
// assertions.
type MockBackend struct {
	Server      *httptest.Server
	RoutePrefix string

	mu             sync.Mutex
	quoteCounts    map[string]int // quote requests per resource
	quoteCoupons   map[string]string
	cartQuotes     map[string]int
	sessions       []SessionCapture
	verifyPayloads []map[string]any
	verifyPaths    []string

	// Failure injection: respond 500 for the next N calls of each kind.
	failQuotes   int
	failVerify   int
	failSessions int
	verifyError  string // when set, verify responds 400 with this error
}

// NewMockBackend starts a backend with the given route prefix (e.g. "/api").
func NewMockBackend(prefix string) *MockBackend {
	gin.SetMode(gin.TestMode)
	b := &MockBackend{
		RoutePrefix:  prefix,
		quoteCounts:  make(map[string]int),
		quoteCoupons: make(map[string]string),
		cartQuotes:   make(map[string]int),
	}

	r := gin.New()
	r.GET("/cedros-health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routePrefix": b.RoutePrefix})
	})

	grp := r.Group(prefix)
	grp.POST("/paywall/v1/stripe-session", b.handleSession)
	grp.POST("/paywall/v1/cart/checkout", b.handleSession)
	grp.GET("/paywall/v1/cart/:resource", b.handleCartQuote)
	grp.POST("/paywall/v1/verify", b.handleVerify)
	grp.GET("/paywall/v1/:resource", b.handleQuote)

	b.Server = httptest.NewServer(r)
	return b
}

// URL returns the backend base URL.
func (b *MockBackend) URL() string { return b.Server.URL }

// Close shuts the backend down.
func (b *MockBackend) Close() { b.Server.Close() }

func (b *MockBackend) handleQuote(c *gin.Context) {
	resource := c.Param("resource")
	b.mu.Lock()
	b.quoteCounts[resource]++
	if coupon := c.Query("coupon"); coupon != "" {
		b.quoteCoupons[resource] = coupon
	}
	fail := b.failQuotes > 0
	if fail {
		b.failQuotes--
	}
	b.mu.Unlock()

	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quote backend down"})
		return
	}
	c.JSON(http.StatusPaymentRequired, b.requirement(resource))
}

func (b *MockBackend) handleCartQuote(c *gin.Context) {
	resource := c.Param("resource")
	b.mu.Lock()
	b.cartQuotes[resource]++
	if coupon := c.Query("coupon"); coupon != "" {
		b.quoteCoupons[resource] = coupon
	}
	b.mu.Unlock()

	c.JSON(http.StatusPaymentRequired, b.requirement(resource))
}

func (b *MockBackend) requirement(resource string) gin.H {
	return gin.H{
		"scheme":   "exact",
		"network":  "solana-mainnet",
		"amount":   "0.10",
		"asset":    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"payTo":    Recipient,
		"resource": resource,
		"nonce":    "n-12345",
	}
}

func (b *MockBackend) handleVerify(c *gin.Context) {
	b.mu.Lock()
	fail := b.failVerify > 0
	if fail {
		b.failVerify--
	}
	verifyError := b.verifyError
	b.mu.Unlock()

	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify backend down"})
		return
	}
	if verifyError != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": verifyError})
		return
	}

	header := c.GetHeader("X-PAYMENT")
	if header == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-PAYMENT header"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed X-PAYMENT header"})
		return
	}
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payment payload"})
		return
	}

	b.mu.Lock()
	b.verifyPayloads = append(b.verifyPayloads, envelope)
	b.verifyPaths = append(b.verifyPaths, c.Request.URL.Path)
	b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"txHash":  "5Sig11111111111111111111111111111111111111111111",
		"settlement": gin.H{
			"txHash":  "5Sig11111111111111111111111111111111111111111111",
			"network": "solana-mainnet",
			"payer":   payloadPayer(envelope),
			"amount":  "0.10",
		},
	})
}

func payloadPayer(envelope map[string]any) string {
	payload, _ := envelope["payload"].(map[string]any)
	payer, _ := payload["payer"].(string)
	return payer
}

func (b *MockBackend) handleSession(c *gin.Context) {
	b.mu.Lock()
	fail := b.failSessions > 0
	if fail {
		b.failSessions--
	}
	b.mu.Unlock()

	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stripe backend down"})
		return
	}

	var body map[string]any
	_ = c.ShouldBindJSON(&body)

	b.mu.Lock()
	b.sessions = append(b.sessions, SessionCapture{
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Body:           body,
		Path:           c.Request.URL.Path,
	})
	b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"sessionId": "cs_test_123",
		"url":       "https://checkout.example.com/c/pay/cs_test_123",
	})
}

// QuoteCount returns the number of quote requests seen for resource.
func (b *MockBackend) QuoteCount(resource string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quoteCounts[resource]
}

// CartQuoteCount returns the number of cart quote requests seen for resource.
func (b *MockBackend) CartQuoteCount(resource string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cartQuotes[resource]
}

// LastCoupon returns the last coupon query parameter seen for resource.
func (b *MockBackend) LastCoupon(resource string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quoteCoupons[resource]
}

// Sessions returns all captured session-creation requests.
func (b *MockBackend) Sessions() []SessionCapture {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SessionCapture, len(b.sessions))
	copy(out, b.sessions)
	return out
}

// VerifyPayloads returns the decoded X-PAYMENT envelopes received.
func (b *MockBackend) VerifyPayloads() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.verifyPayloads))
	copy(out, b.verifyPayloads)
	return out
}

// VerifyPaths returns the URL paths verification requests arrived on.
func (b *MockBackend) VerifyPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.verifyPaths))
	copy(out, b.verifyPaths)
	return out
}

// FailNextQuotes makes the next n quote requests respond 500.
func (b *MockBackend) FailNextQuotes(n int) {
	b.mu.Lock()
	b.failQuotes = n
	b.mu.Unlock()
}

// FailNextVerifies makes the next n verify requests respond 500.
func (b *MockBackend) FailNextVerifies(n int) {
	b.mu.Lock()
	b.failVerify = n
	b.mu.Unlock()
}

// FailNextSessions makes the next n session requests respond 500.
func (b *MockBackend) FailNextSessions(n int) {
	b.mu.Lock()
	b.failSessions = n
	b.mu.Unlock()
}

// SetVerifyError makes verify respond 400 with the given business error.
func (b *MockBackend) SetVerifyError(msg string) {
	b.mu.Lock()
	b.verifyError = msg
	b.mu.Unlock()
}
