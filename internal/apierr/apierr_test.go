package apierr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFromResponse_JSONError(t *testing.T) {
	ae := FromResponse(response(400, `{"error":"coupon expired"}`))
	if ae.Status != 400 {
		t.Fatalf("expected 400, got %d", ae.Status)
	}
	if ae.Message != "coupon expired" {
		t.Fatalf("expected verbatim message, got %q", ae.Message)
	}
	if ae.Transient() {
		t.Fatal("400 must not be transient")
	}
}

func TestFromResponse_PlainText(t *testing.T) {
	ae := FromResponse(response(503, "upstream down\n"))
	if ae.Message != "upstream down" {
		t.Fatalf("expected trimmed plain text, got %q", ae.Message)
	}
	if !ae.Transient() {
		t.Fatal("503 must be transient")
	}
}

func TestFromResponse_EmptyBody(t *testing.T) {
	ae := FromResponse(response(500, ""))
	if ae.Error() != "api error: status 500" {
		t.Fatalf("unexpected fallback message: %q", ae.Error())
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection refused"), true},
		{"wrapped 500", fmt.Errorf("call: %w", &APIError{Status: 500}), true},
		{"wrapped 404", fmt.Errorf("call: %w", &APIError{Status: 404}), false},
		{"429", &APIError{Status: 429}, true},
		{"local rate limit", ErrRateLimited, false},
		{"wrapped local rate limit", fmt.Errorf("x: %w", ErrRateLimited), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}
