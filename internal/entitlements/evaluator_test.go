package entitlements

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog, err := plans.NewDefaultCatalog(map[string]string{
		plans.IDEventPack10: "price_pack10",
		plans.IDProClub:     "price_club",
		plans.IDProPME:      "price_pme",
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

func mustPlan(t *testing.T, id string) plans.Plan {
	t.Helper()
	plan, err := testCatalog(t).Resolve(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return plan
}

func timePtr(v time.Time) *time.Time { return &v }
func intPtr(v int) *int              { return &v }

func TestEvaluateFreePlanAlwaysValid(t *testing.T) {
	sub := models.OrgSubscription{OrganizationID: uuid.New(), PlanID: plans.IDDecouverte, Status: enums.SubscriptionStatusCancelled}
	verdict := Evaluate(sub, mustPlan(t, plans.IDDecouverte), now)
	if !verdict.Valid || verdict.NeedsRenewal {
		t.Fatalf("expected valid free plan, got %+v", verdict)
	}
	if days := DaysUntilExpiry(sub, mustPlan(t, plans.IDDecouverte), now); days != nil {
		t.Fatalf("free plan should have no expiry, got %d", *days)
	}
}

func TestEvaluatePack(t *testing.T) {
	pack := mustPlan(t, plans.IDEventPack10)
	cases := []struct {
		name   string
		sub    models.OrgSubscription
		valid  bool
		reason string
	}{
		{
			name:  "fresh pack",
			sub:   models.OrgSubscription{PackageExpiry: timePtr(now.AddDate(0, 12, 0)), RemainingPackUnits: intPtr(10)},
			valid: true,
		},
		{
			name:   "expired with units left",
			sub:    models.OrgSubscription{PackageExpiry: timePtr(now.Add(-time.Minute)), RemainingPackUnits: intPtr(4)},
			reason: ReasonPackExpired,
		},
		{
			name:   "expiry is exclusive",
			sub:    models.OrgSubscription{PackageExpiry: timePtr(now), RemainingPackUnits: intPtr(4)},
			reason: ReasonPackExpired,
		},
		{
			name:   "exhausted",
			sub:    models.OrgSubscription{PackageExpiry: timePtr(now.AddDate(0, 1, 0)), RemainingPackUnits: intPtr(0)},
			reason: ReasonPackExhausted,
		},
		{
			name:   "missing units",
			sub:    models.OrgSubscription{PackageExpiry: timePtr(now.AddDate(0, 1, 0))},
			reason: ReasonPackExhausted,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.sub.PlanID = plans.IDEventPack10
			tc.sub.Status = enums.SubscriptionStatusActive
			verdict := Evaluate(tc.sub, pack, now)
			if verdict.Valid != tc.valid {
				t.Fatalf("expected valid=%v, got %+v", tc.valid, verdict)
			}
			if !tc.valid && (!verdict.NeedsRenewal || verdict.Reason != tc.reason) {
				t.Fatalf("expected renewal with reason %s, got %+v", tc.reason, verdict)
			}
			if CanConsumeUnit(tc.sub, pack, now) != tc.valid {
				t.Fatalf("CanConsumeUnit should follow validity")
			}
		})
	}
}

func TestEvaluateRecurring(t *testing.T) {
	club := mustPlan(t, plans.IDProClub)
	base := models.OrgSubscription{PlanID: plans.IDProClub, CurrentPeriodEnd: timePtr(now.AddDate(0, 0, 12))}

	active := base
	active.Status = enums.SubscriptionStatusActive
	if v := Evaluate(active, club, now); !v.Valid {
		t.Fatalf("expected active recurring to be valid, got %+v", v)
	}

	for _, status := range []enums.SubscriptionStatus{enums.SubscriptionStatusPastDue, enums.SubscriptionStatusPending, enums.SubscriptionStatusCancelled} {
		sub := base
		sub.Status = status
		v := Evaluate(sub, club, now)
		if v.Valid || !v.NeedsRenewal || v.Reason != ReasonNotActive {
			t.Fatalf("status %s: expected renewal, got %+v", status, v)
		}
	}

	lapsed := active
	lapsed.CurrentPeriodEnd = timePtr(now.Add(-time.Hour))
	if v := Evaluate(lapsed, club, now); v.Valid || v.Reason != ReasonPeriodEnded {
		t.Fatalf("expected lapsed period, got %+v", v)
	}
	if lapsed.Status != enums.SubscriptionStatusActive {
		t.Fatalf("evaluation must not mutate the record")
	}
}

func TestDaysUntilExpiryRoundsUp(t *testing.T) {
	club := mustPlan(t, plans.IDProClub)
	sub := models.OrgSubscription{Status: enums.SubscriptionStatusActive, CurrentPeriodEnd: timePtr(now.Add(36 * time.Hour))}
	days := DaysUntilExpiry(sub, club, now)
	if days == nil || *days != 2 {
		t.Fatalf("expected 2 days, got %v", days)
	}

	sub.CurrentPeriodEnd = timePtr(now.Add(time.Minute))
	if days := DaysUntilExpiry(sub, club, now); days == nil || *days != 1 {
		t.Fatalf("expected partial day to count as 1, got %v", days)
	}

	sub.CurrentPeriodEnd = timePtr(now.Add(-49 * time.Hour))
	if days := DaysUntilExpiry(sub, club, now); days == nil || *days != -2 {
		t.Fatalf("expected -2 days, got %v", days)
	}
}

func TestLimitChecks(t *testing.T) {
	free := mustPlan(t, plans.IDDecouverte)
	club := mustPlan(t, plans.IDProClub)
	pme := mustPlan(t, plans.IDProPME)
	freeSub := models.OrgSubscription{PlanID: plans.IDDecouverte, Status: enums.SubscriptionStatusActive}
	clubSub := models.OrgSubscription{PlanID: plans.IDProClub, Status: enums.SubscriptionStatusActive}

	if !CanCreateEvent(freeSub, free, 0, now) || CanCreateEvent(freeSub, free, 1, now) {
		t.Fatalf("free plan allows exactly one event")
	}
	if !CanSendInvitations(freeSub, free, 20, now) || CanSendInvitations(freeSub, free, 21, now) {
		t.Fatalf("free plan allows 20 invitations")
	}
	if !CanCreateEvent(clubSub, club, 500, now) {
		t.Fatalf("recurring plans have unbounded events")
	}
	if CanSendInvitations(clubSub, club, 301, now) {
		t.Fatalf("pro club is capped at 300 invitations")
	}
	if !CanSendInvitations(clubSub, pme, 100000, now) {
		t.Fatalf("pro pme has unbounded invitations")
	}
	if CanUseAdvancedFeatures(freeSub, free, now) || !CanUseAdvancedFeatures(clubSub, club, now) {
		t.Fatalf("advanced features are reserved to valid paid plans")
	}
}

func TestEvaluatorUnknownPlan(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t), func() time.Time { return now })
	sub := models.OrgSubscription{PlanID: "legacy-gold", Status: enums.SubscriptionStatusActive}
	if v := evaluator.IsEntitlementValid(sub); v.Valid || v.Reason != ReasonUnknownPlan || v.NeedsRenewal {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if evaluator.CanConsumeUnit(sub) {
		t.Fatalf("unknown plan must not grant units")
	}
}

func TestEvaluatorResolvesAliases(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t), func() time.Time { return now })
	sub := models.OrgSubscription{
		PlanID:             "pack10",
		Status:             enums.SubscriptionStatusActive,
		PackageExpiry:      timePtr(now.AddDate(0, 0, 3)),
		RemainingPackUnits: intPtr(2),
	}
	report := evaluator.Report(sub)
	if report.Plan == nil || report.Plan.ID != plans.IDEventPack10 {
		t.Fatalf("expected alias to resolve to pack, got %+v", report.Plan)
	}
	if !report.Verdict.Valid || report.DaysUntilExpiry == nil || *report.DaysUntilExpiry != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
}
