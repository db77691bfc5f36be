package stripewebhook

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEventGuardClaimCompleteAndRelease(t *testing.T) {
	store := newInMemoryStore()
	guard, err := NewEventGuard(store, time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	ctx := context.Background()
	key := "orgplans:idempotency:stripe_event:evt_1"

	claimed, err := guard.Claim(ctx, "evt_1")
	if err != nil || !claimed {
		t.Fatalf("expected first claim to succeed, got %v %v", claimed, err)
	}
	if !strings.HasPrefix(store.value(key), markerInFlight) {
		t.Fatalf("expected in-flight marker, got %q", store.value(key))
	}
	// an unfinished reservation never blocks another delivery
	claimed, err = guard.Claim(ctx, "evt_1")
	if err != nil || !claimed {
		t.Fatalf("expected claim over an in-flight marker, got %v %v", claimed, err)
	}

	if err := guard.Complete(ctx, "evt_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.value(key) != markerDone {
		t.Fatalf("expected done marker, got %q", store.value(key))
	}
	claimed, err = guard.Claim(ctx, "evt_1")
	if err != nil || claimed {
		t.Fatalf("expected claim after completion to be refused, got %v %v", claimed, err)
	}

	if err := guard.Release(ctx, "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if claimed, _ := guard.Claim(ctx, "evt_1"); !claimed {
		t.Fatalf("expected claim after release")
	}
}

func TestEventGuardValidation(t *testing.T) {
	if _, err := NewEventGuard(nil, time.Minute); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewEventGuard(newInMemoryStore(), -time.Second); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	guard, err := NewEventGuard(newInMemoryStore(), 0)
	if err != nil {
		t.Fatalf("zero ttl should fall back to the default: %v", err)
	}
	if guard.ttl != defaultGuardTTL {
		t.Fatalf("expected default ttl, got %s", guard.ttl)
	}
	if guard.pendingTTL != pendingGuardTTL {
		t.Fatalf("expected pending ttl %s, got %s", pendingGuardTTL, guard.pendingTTL)
	}
	if _, err := guard.Claim(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
	if err := guard.Complete(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id on complete")
	}
}
