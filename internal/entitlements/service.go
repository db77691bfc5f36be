package entitlements

import (
	"time"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
)

type planResolver interface {
	Resolve(planID string) (plans.Plan, error)
}

// Evaluator binds the pure checks to a catalog and a clock.
type Evaluator struct {
	catalog planResolver
	now     func() time.Time
}

func NewEvaluator(catalog planResolver, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{catalog: catalog, now: now}
}

// Report is everything a caller needs to gate a feature in one read.
type Report struct {
	Plan            *plans.Plan
	Verdict         Verdict
	Expiry          *time.Time
	DaysUntilExpiry *int
}

func (e *Evaluator) plan(sub models.OrgSubscription) (plans.Plan, bool) {
	plan, err := e.catalog.Resolve(sub.PlanID)
	if err != nil {
		return plans.Plan{}, false
	}
	return plan, true
}

// IsEntitlementValid resolves the stored plan and evaluates it at the current time.
func (e *Evaluator) IsEntitlementValid(sub models.OrgSubscription) Verdict {
	plan, ok := e.plan(sub)
	if !ok {
		return Verdict{Valid: false, Reason: ReasonUnknownPlan}
	}
	return Evaluate(sub, plan, e.now())
}

func (e *Evaluator) DaysUntilExpiry(sub models.OrgSubscription) *int {
	plan, ok := e.plan(sub)
	if !ok {
		return nil
	}
	return DaysUntilExpiry(sub, plan, e.now())
}

func (e *Evaluator) CanConsumeUnit(sub models.OrgSubscription) bool {
	plan, ok := e.plan(sub)
	return ok && CanConsumeUnit(sub, plan, e.now())
}

func (e *Evaluator) CanCreateEvent(sub models.OrgSubscription, eventsCreated int) bool {
	plan, ok := e.plan(sub)
	return ok && CanCreateEvent(sub, plan, eventsCreated, e.now())
}

func (e *Evaluator) CanSendInvitations(sub models.OrgSubscription, count int) bool {
	plan, ok := e.plan(sub)
	return ok && CanSendInvitations(sub, plan, count, e.now())
}

func (e *Evaluator) CanUseAdvancedFeatures(sub models.OrgSubscription) bool {
	plan, ok := e.plan(sub)
	return ok && CanUseAdvancedFeatures(sub, plan, e.now())
}

// Report evaluates every read-side fact for sub at a single instant.
func (e *Evaluator) Report(sub models.OrgSubscription) Report {
	plan, ok := e.plan(sub)
	if !ok {
		return Report{Verdict: Verdict{Valid: false, Reason: ReasonUnknownPlan}}
	}
	now := e.now()
	return Report{
		Plan:            &plan,
		Verdict:         Evaluate(sub, plan, now),
		Expiry:          ExpiryOf(sub, plan),
		DaysUntilExpiry: DaysUntilExpiry(sub, plan, now),
	}
}
