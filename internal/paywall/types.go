// Package paywall implements the client side of the HTTP 402 paywall
// protocol: quote requests, signed payment submission, and settlement
// verification.
package paywall

import "time"

// ResourceType governs route construction for a payment action.
type ResourceType string

const (
	ResourceRegular ResourceType = "regular"
	ResourceCart    ResourceType = "cart"
	ResourceRefund  ResourceType = "refund"
)

// PaymentHeader carries the base64-encoded payment payload on verify requests.
const PaymentHeader = "X-PAYMENT"

// PaymentRequirement is the server-issued quote: what must be paid to unlock
// a resource. It is always fetched fresh immediately before building a
// transaction; price, recipient, or expiry may have changed server-side.
type PaymentRequirement struct {
	Scheme      string    `json:"scheme"`
	Network     string    `json:"network"`
	Amount      string    `json:"amount"`
	Asset       string    `json:"asset"`
	PayTo       string    `json:"payTo"`
	Resource    string    `json:"resource"`
	Description string    `json:"description,omitempty"`
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

// PaymentPayload is the signed payment authorization submitted for
// verification. Metadata is threaded through on every submission path.
type PaymentPayload struct {
	Scheme       string            `json:"scheme"`
	Network      string            `json:"network"`
	Signature    string            `json:"signature,omitempty"`
	Transaction  string            `json:"transaction,omitempty"` // gasless: base64 partial tx
	Payer        string            `json:"payer"`
	Resource     string            `json:"resource"`
	ResourceType ResourceType      `json:"resourceType"`
	Nonce        string            `json:"nonce,omitempty"`
	Coupon       string            `json:"coupon,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// paymentEnvelope is the wire form carried in the X-PAYMENT header.
type paymentEnvelope struct {
	X402Version int            `json:"x402Version"`
	Payload     PaymentPayload `json:"payload"`
}

// protocolVersion is the x402 protocol version this client speaks.
const protocolVersion = 1

// Settlement is the server-confirmed record that a payment was accepted
// on-chain.
type Settlement struct {
	TxHash    string    `json:"txHash"`
	Network   string    `json:"network"`
	Payer     string    `json:"payer,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	SettledAt time.Time `json:"settledAt,omitempty"`
}

// PaymentResult is the outcome of a payment submission. Settlement is
// populated from the response's nested settlement field only.
type PaymentResult struct {
	Success    bool        `json:"success"`
	TxHash     string      `json:"txHash,omitempty"`
	Error      string      `json:"error,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
}

// verifyResponse is the backend's verify endpoint body.
type verifyResponse struct {
	Success    bool        `json:"success"`
	TxHash     string      `json:"txHash,omitempty"`
	Error      string      `json:"error,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
}
