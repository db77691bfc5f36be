package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orgplans-backend/pkg/redis"
)

const (
	guardScope      = "stripe_event"
	defaultGuardTTL = 72 * time.Hour
	// pendingGuardTTL bounds how long an unfinished delivery blocks others.
	pendingGuardTTL = 2 * time.Minute

	markerInFlight = "in_flight"
	markerDone     = "done"
)

// GuardStore is the redis surface the event guard needs.
type GuardStore interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// EventGuard short-circuits redeliveries of an event this process has
// already finished. It is a fast path only: the applied-events table decides
// whether a transition actually ran.
//
// A delivery reserves the event with a short in-flight marker and the
// long-lived done marker is written only once reconciliation returned, so a
// crash in between never hides the event from later deliveries.
type EventGuard struct {
	store      GuardStore
	ttl        time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

func NewEventGuard(store GuardStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = defaultGuardTTL
	}
	return &EventGuard{store: store, ttl: ttl, pendingTTL: pendingGuardTTL, now: time.Now}, nil
}

// Claim reserves eventID for this delivery and reports false only when an
// earlier delivery completed it. A reservation left by a delivery that is
// still running, or that died before completing, does not block: the
// applied-events table arbitrates between them.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.key(eventID)
	set, err := g.store.SetNX(ctx, key, markerInFlight+":"+g.now().UTC().Format(time.RFC3339), g.pendingTTL)
	if err != nil {
		return false, fmt.Errorf("claim stripe event: %w", err)
	}
	if set {
		return true, nil
	}
	current, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read stripe event claim: %w", err)
	}
	return current != markerDone, nil
}

// Complete records that eventID was reconciled so redeliveries are dropped
// without touching the database.
func (g *EventGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.store.Set(ctx, g.key(eventID), markerDone, g.ttl); err != nil {
		return fmt.Errorf("complete stripe event: %w", err)
	}
	return nil
}

// Release drops the reservation so a later delivery is processed again.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *EventGuard) key(eventID string) string {
	return g.store.IdempotencyKey(guardScope, eventID)
}
