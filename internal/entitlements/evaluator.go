package entitlements

import (
	"math"
	"time"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// Reasons reported alongside an invalid verdict.
const (
	ReasonUnknownPlan   = "unknown_plan"
	ReasonPackExpired   = "pack_expired"
	ReasonPackExhausted = "pack_exhausted"
	ReasonNotActive     = "subscription_not_active"
	ReasonPeriodEnded   = "period_ended"
)

// Verdict is the outcome of an entitlement check.
type Verdict struct {
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
	NeedsRenewal bool   `json:"needsRenewal"`
}

var valid = Verdict{Valid: true}

func needsRenewal(reason string) Verdict {
	return Verdict{Valid: false, Reason: reason, NeedsRenewal: true}
}

// Evaluate decides whether sub still grants its plan at now. It never mutates
// the record; expiry is observed here and never written back.
func Evaluate(sub models.OrgSubscription, plan plans.Plan, now time.Time) Verdict {
	switch {
	case plan.IsFree():
		return valid
	case plan.IsPack():
		if sub.PackageExpiry != nil && !now.Before(*sub.PackageExpiry) {
			return needsRenewal(ReasonPackExpired)
		}
		if sub.RemainingPackUnits == nil || *sub.RemainingPackUnits <= 0 {
			return needsRenewal(ReasonPackExhausted)
		}
		return valid
	case plan.IsRecurring():
		if sub.Status != enums.SubscriptionStatusActive {
			return needsRenewal(ReasonNotActive)
		}
		if sub.CurrentPeriodEnd != nil && !now.Before(*sub.CurrentPeriodEnd) {
			return needsRenewal(ReasonPeriodEnded)
		}
		return valid
	default:
		return Verdict{Valid: false, Reason: ReasonUnknownPlan}
	}
}

// ExpiryOf returns the instant the entitlement lapses, if the plan has one.
func ExpiryOf(sub models.OrgSubscription, plan plans.Plan) *time.Time {
	switch {
	case plan.IsPack():
		return sub.PackageExpiry
	case plan.IsRecurring():
		return sub.CurrentPeriodEnd
	default:
		return nil
	}
}

// DaysUntilExpiry rounds the remaining time up to whole days. Lapsed
// entitlements yield zero or a negative count.
func DaysUntilExpiry(sub models.OrgSubscription, plan plans.Plan, now time.Time) *int {
	expiry := ExpiryOf(sub, plan)
	if expiry == nil {
		return nil
	}
	days := int(math.Ceil(expiry.Sub(now).Hours() / 24))
	return &days
}

// CanConsumeUnit reports whether one more billable unit may be used.
func CanConsumeUnit(sub models.OrgSubscription, plan plans.Plan, now time.Time) bool {
	return Evaluate(sub, plan, now).Valid
}

// CanCreateEvent checks the event limit against the number already created in the current entitlement.
func CanCreateEvent(sub models.OrgSubscription, plan plans.Plan, eventsCreated int, now time.Time) bool {
	if !Evaluate(sub, plan, now).Valid {
		return false
	}
	if plan.IsPack() {
		return true
	}
	return plan.AllowsEvents(eventsCreated)
}

func CanSendInvitations(sub models.OrgSubscription, plan plans.Plan, count int, now time.Time) bool {
	if count < 0 {
		return false
	}
	return Evaluate(sub, plan, now).Valid && plan.AllowsInvitations(count)
}

// CanUseAdvancedFeatures is reserved to paid plans in good standing.
func CanUseAdvancedFeatures(sub models.OrgSubscription, plan plans.Plan, now time.Time) bool {
	return !plan.IsFree() && Evaluate(sub, plan, now).Valid
}
