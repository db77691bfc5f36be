package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
)

// Kind names the lifecycle change a writer asks for.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionEnded   Kind = "subscription_ended"
	KindPaymentFailed       Kind = "payment_failed"
)

func (k Kind) valid() bool {
	switch k {
	case KindCheckoutCompleted, KindSubscriptionUpdated, KindSubscriptionEnded, KindPaymentFailed:
		return true
	}
	return false
}

// Outcome reports what Apply did with a transition.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeSkipped        Outcome = "skipped"
)

// Skip reasons.
const (
	SkipSubscriptionMismatch = "subscription_mismatch"
	SkipStaleEvent           = "stale_event"
	SkipNotRecurring         = "not_recurring"
	SkipAlreadyFree          = "already_free"
	SkipFreePlan             = "free_plan_needs_no_payment"
)

// Idempotency key prefixes. Checkout completion is keyed by session so the
// webhook and the verify call collapse onto one application.
const (
	keyPrefixCheckout = "checkout:"
	keyPrefixEvent    = "event:"
	keyPrefixCancel   = "cancel:"
	keyPrefixResync   = "resync:"
)

func CheckoutKey(sessionID string) string { return keyPrefixCheckout + sessionID }
func EventKey(eventID string) string      { return keyPrefixEvent + eventID }

func CancelKey(subscriptionRef string, version int64) string {
	if subscriptionRef != "" {
		return keyPrefixCancel + subscriptionRef
	}
	return fmt.Sprintf("%slocal:v%d", keyPrefixCancel, version)
}

// ResyncKey names one observed drift. The stored version keeps a state that
// recurs later (active, past_due, active again) from colliding with the first.
func ResyncKey(subscriptionRef string, status enums.SubscriptionStatus, periodEnd *time.Time, version int64) string {
	end := "none"
	if periodEnd != nil {
		end = fmt.Sprintf("%d", periodEnd.Unix())
	}
	return fmt.Sprintf("%s%s:%s:%s:v%d", keyPrefixResync, subscriptionRef, status, end, version)
}

// Transition is the single input shape shared by every writer.
type Transition struct {
	OrganizationID    uuid.UUID
	Kind              Kind
	Source            enums.TransitionSource
	IdempotencyKey    string
	EventID           string
	OccurredAt        time.Time
	PlanID            string
	CustomerRef       string
	SubscriptionRef   string
	CheckoutSessionID string
	Status            enums.SubscriptionStatus
	PeriodEnd         *time.Time
}

func (t Transition) validate() error {
	switch {
	case t.OrganizationID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "transition requires an organization")
	case strings.TrimSpace(t.IdempotencyKey) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "transition requires an idempotency key")
	case !t.Kind.valid():
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown transition kind %q", t.Kind)
	case !t.Source.IsValid():
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown transition source %q", t.Source)
	case t.Kind == KindSubscriptionUpdated && !t.Status.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription update requires a status")
	}
	return nil
}

// watermark is what the record remembers as its last applied event. Checkout
// completion always stores the session key so verify and webhook leave the same record.
func (t Transition) watermark() string {
	if t.EventID != "" && t.Kind != KindCheckoutCompleted {
		return t.EventID
	}
	return t.IdempotencyKey
}

type decision struct {
	next    models.OrgSubscription
	outcome Outcome
	reason  string
}

func skip(current models.OrgSubscription, reason string) decision {
	return decision{next: current, outcome: OutcomeSkipped, reason: reason}
}

type planResolver interface {
	Resolve(planID string) (plans.Plan, error)
	Free() plans.Plan
}

// decide computes the next record for t. It is pure: persistence, locking
// and idempotency are the applier's job.
func decide(current models.OrgSubscription, t Transition, catalog planResolver, now time.Time) (decision, error) {
	switch t.Kind {
	case KindCheckoutCompleted:
		return decideCheckoutCompleted(current, t, catalog, now)
	case KindSubscriptionUpdated:
		return decideSubscriptionUpdated(current, t, catalog)
	case KindSubscriptionEnded:
		return decideSubscriptionEnded(current, t, catalog)
	case KindPaymentFailed:
		return decidePaymentFailed(current, t, catalog)
	}
	return decision{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown transition kind %q", t.Kind)
}

func decideCheckoutCompleted(current models.OrgSubscription, t Transition, catalog planResolver, now time.Time) (decision, error) {
	plan, err := catalog.Resolve(t.PlanID)
	if err != nil {
		return decision{}, pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "checkout completed for an unknown plan")
	}
	if plan.IsFree() {
		return skip(current, SkipFreePlan), nil
	}

	next := current
	next.PlanID = plan.ID
	next.Status = enums.SubscriptionStatusActive
	if t.CustomerRef != "" {
		next.ExternalCustomerRef = strPtr(t.CustomerRef)
	}
	if plan.IsPack() {
		units := plan.MaxEvents
		next.RemainingPackUnits = &units
		next.PackageExpiry = nil
		if plan.ValidityMonths != plans.NoExpiry {
			next.PackageExpiry = timePtr(now.AddDate(0, plan.ValidityMonths, 0))
		}
		next.ExternalSubscriptionRef = nil
		next.CurrentPeriodEnd = nil
	} else {
		next.ExternalSubscriptionRef = nil
		if t.SubscriptionRef != "" {
			next.ExternalSubscriptionRef = strPtr(t.SubscriptionRef)
		}
		periodEnd := now.AddDate(0, 1, 0)
		if t.PeriodEnd != nil && t.PeriodEnd.After(now) {
			periodEnd = *t.PeriodEnd
		}
		next.CurrentPeriodEnd = &periodEnd
		next.PackageExpiry = nil
		next.RemainingPackUnits = nil
	}
	stampGatewayTime(&next, t)
	return decision{next: next, outcome: OutcomeApplied}, nil
}

func decideSubscriptionUpdated(current models.OrgSubscription, t Transition, catalog planResolver) (decision, error) {
	if !matchesStoredRef(current, t.SubscriptionRef) {
		return skip(current, SkipSubscriptionMismatch), nil
	}
	if isStale(current, t) {
		return skip(current, SkipStaleEvent), nil
	}
	plan, err := catalog.Resolve(current.PlanID)
	if err != nil || !plan.IsRecurring() {
		return skip(current, SkipNotRecurring), nil
	}
	next := current
	next.Status = t.Status
	if t.PeriodEnd != nil {
		next.CurrentPeriodEnd = timePtr(*t.PeriodEnd)
	}
	// a plan switch made in the billing portal arrives as a new price
	if t.PlanID != "" {
		if switched, err := catalog.Resolve(t.PlanID); err == nil && switched.IsRecurring() {
			next.PlanID = switched.ID
		}
	}
	stampGatewayTime(&next, t)
	return decision{next: next, outcome: OutcomeApplied}, nil
}

func decideSubscriptionEnded(current models.OrgSubscription, t Transition, catalog planResolver) (decision, error) {
	if t.SubscriptionRef != "" {
		if !matchesStoredRef(current, t.SubscriptionRef) {
			return skip(current, SkipSubscriptionMismatch), nil
		}
		if isStale(current, t) {
			return skip(current, SkipStaleEvent), nil
		}
	} else {
		// Local-only downgrade, reserved to the cancel writer.
		if t.Source != enums.TransitionSourceCancel {
			return skip(current, SkipSubscriptionMismatch), nil
		}
		plan, err := catalog.Resolve(current.PlanID)
		if err == nil && plan.IsFree() && current.ExternalSubscriptionRef == nil {
			return skip(current, SkipAlreadyFree), nil
		}
	}

	next := current
	next.PlanID = catalog.Free().ID
	next.Status = enums.SubscriptionStatusCancelled
	next.ExternalSubscriptionRef = nil
	next.CurrentPeriodEnd = nil
	next.PackageExpiry = nil
	next.RemainingPackUnits = nil
	stampGatewayTime(&next, t)
	return decision{next: next, outcome: OutcomeApplied}, nil
}

func decidePaymentFailed(current models.OrgSubscription, t Transition, catalog planResolver) (decision, error) {
	plan, err := catalog.Resolve(current.PlanID)
	if err != nil || !plan.IsRecurring() {
		return skip(current, SkipNotRecurring), nil
	}
	if t.SubscriptionRef != "" && !matchesStoredRef(current, t.SubscriptionRef) {
		return skip(current, SkipSubscriptionMismatch), nil
	}
	if isStale(current, t) {
		return skip(current, SkipStaleEvent), nil
	}
	next := current
	next.Status = enums.SubscriptionStatusPastDue
	stampGatewayTime(&next, t)
	return decision{next: next, outcome: OutcomeApplied}, nil
}

func matchesStoredRef(current models.OrgSubscription, ref string) bool {
	return ref != "" && current.ExternalSubscriptionRef != nil && *current.ExternalSubscriptionRef == ref
}

// isStale reports whether the gateway produced t before the last gateway event already applied.
func isStale(current models.OrgSubscription, t Transition) bool {
	if t.OccurredAt.IsZero() || current.LastGatewayEventAt == nil {
		return false
	}
	return t.OccurredAt.Before(*current.LastGatewayEventAt)
}

func stampGatewayTime(next *models.OrgSubscription, t Transition) {
	if t.OccurredAt.IsZero() {
		return
	}
	if next.LastGatewayEventAt == nil || t.OccurredAt.After(*next.LastGatewayEventAt) {
		next.LastGatewayEventAt = timePtr(t.OccurredAt.UTC())
	}
}

func strPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}
