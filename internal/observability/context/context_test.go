package context

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithOrgID(ctx, "42")
	ctx = WithActor(ctx, "system", "delivery")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := OrgIDFromContext(ctx); got != "42" {
		t.Fatalf("expected org id 42, got %q", got)
	}
	actorType, actorID := ActorFromContext(ctx)
	if actorType != "system" || actorID != "delivery" {
		t.Fatalf("unexpected actor %q/%q", actorType, actorID)
	}
}

func TestEmptyValuesAreIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
