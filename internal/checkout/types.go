// Package checkout implements the card rail: Stripe checkout sessions
// created by the Cedros backend, with hosted-checkout redirection.
package checkout

// SessionRequest describes a single-resource checkout session.
type SessionRequest struct {
	Resource      string            `json:"resource"`
	Quantity      int               `json:"quantity,omitempty"`
	SuccessURL    string            `json:"successUrl,omitempty"`
	CancelURL     string            `json:"cancelUrl,omitempty"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	CouponCode    string            `json:"couponCode,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CartItem is one entry in a cart checkout.
type CartItem struct {
	Resource string `json:"resource"`
	Quantity int    `json:"quantity"`
}

// CartRequest describes a multi-item checkout session.
type CartRequest struct {
	Items         []CartItem        `json:"items"`
	SuccessURL    string            `json:"successUrl,omitempty"`
	CancelURL     string            `json:"cancelUrl,omitempty"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	CouponCode    string            `json:"couponCode,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Session is the backend's session-creation response.
type Session struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Result is the outcome of a checkout attempt. Redirection is expressed as a
// result object so callers (and tests) observe it instead of losing control
// to a navigation.
type Result struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}
