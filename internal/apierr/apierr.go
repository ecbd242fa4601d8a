// Package apierr defines the error taxonomy for backend API calls.
//
// Classes: network/transient (retryable), rate-limited (local rejection,
// never retried), validation/business (server 4xx, never retried). Circuit
// open errors live in the circuitbreaker package.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrRateLimited is returned when the local token bucket rejects a call
// before any network I/O happens.
var ErrRateLimited = errors.New("rate limited: too many requests")

// APIError is a non-2xx response from the backend. The message is the
// server-reported error, surfaced verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// Transient reports whether e represents a server-side failure worth
// retrying. 4xx responses are validation/business errors and are permanent.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// FromResponse builds an APIError from a non-2xx response body. Bodies are
// JSON objects with an "error" field, or plain text; either way the message
// is carried verbatim.
func FromResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: parsed.Error}
		}
		if parsed.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: parsed.Message}
		}
	}

	msg := strings.TrimSpace(string(body))
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// IsTransient reports whether err is retryable: transport-level failures
// (no status at all) and 5xx-class APIErrors are; everything else is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	if errors.Is(err, ErrRateLimited) {
		return false
	}
	// No structured status: treat as a network-level transient failure.
	return true
}
