package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "text") == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
	if New("info", "json") == nil {
		t.Fatal("New with json format returned nil")
	}
}

func TestFlowID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := FlowID(ctx); got != "" {
		t.Fatalf("expected empty flow ID, got %q", got)
	}
	ctx = WithFlowID(ctx, "flow_abc")
	if got := FlowID(ctx); got != "flow_abc" {
		t.Fatalf("expected flow_abc, got %q", got)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger, got nil")
	}
}

func TestL_AttachesFlowID(t *testing.T) {
	logger := New("info", "text")
	ctx := WithLogger(context.Background(), logger)

	if got := FromContext(ctx); got != logger {
		t.Fatal("FromContext did not return the stored logger")
	}

	// With a flow ID, L returns a derived logger.
	ctx = WithFlowID(ctx, "flow_xyz")
	derived := L(ctx)
	if derived == logger {
		t.Fatal("L should return a derived logger when a flow ID is present")
	}
	var _ *slog.Logger = derived
}
