package plans

import (
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewDefaultCatalog(map[string]string{
		IDEventPack10: "price_pack10",
		IDProClub:     "price_club",
		IDProPME:      "price_pme",
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return c
}

func TestDefaultCatalogTiers(t *testing.T) {
	c := newTestCatalog(t)

	free := c.Free()
	if free.ID != IDDecouverte || !free.IsFree() || free.MaxEvents != 1 || free.MaxInvitations != 20 {
		t.Fatalf("unexpected free plan %+v", free)
	}

	pack, err := c.Resolve(IDEventPack10)
	if err != nil {
		t.Fatalf("resolve pack: %v", err)
	}
	if !pack.IsPack() || pack.MaxEvents != 10 || pack.MaxInvitations != 150 || pack.ValidityMonths != 12 {
		t.Fatalf("unexpected pack %+v", pack)
	}
	if !pack.Price().Equal(decimal.RequireFromString("49.00")) {
		t.Fatalf("unexpected pack price %s", pack.Price())
	}

	club, _ := c.Resolve(IDProClub)
	if !club.IsRecurring() || club.MaxEvents != Unlimited || club.MaxInvitations != 300 || club.PriceMinorUnits != 1900 {
		t.Fatalf("unexpected pro club %+v", club)
	}
	pme, _ := c.Resolve(IDProPME)
	if pme.MaxInvitations != Unlimited || pme.Currency != enums.CurrencyEUR {
		t.Fatalf("unexpected pro pme %+v", pme)
	}

	if got := len(c.List()); got != 4 {
		t.Fatalf("expected 4 plans, got %d", got)
	}
	if c.List()[0].ID != IDDecouverte {
		t.Fatalf("list should keep registration order")
	}
}

func TestResolveAliases(t *testing.T) {
	c := newTestCatalog(t)
	cases := map[string]string{
		"discovery":      IDDecouverte,
		" Pro-Club ":     IDProClub,
		"pro-pme":        IDProPME,
		"pack10":         IDEventPack10,
		"evenementielle": IDEventPack10,
		"PRO_CLUB":       IDProClub,
	}
	for input, want := range cases {
		plan, err := c.Resolve(input)
		if err != nil {
			t.Fatalf("resolve %q: %v", input, err)
		}
		if plan.ID != want {
			t.Fatalf("resolve %q = %s, want %s", input, plan.ID, want)
		}
	}
}

func TestResolveUnknownPlan(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Resolve("gold")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found code, got %s", pkgerrors.CodeOf(err))
	}
}

func TestResolveByPriceRef(t *testing.T) {
	c := newTestCatalog(t)
	plan, err := c.ResolveByPriceRef("price_club")
	if err != nil || plan.ID != IDProClub {
		t.Fatalf("expected pro club, got %+v (%v)", plan, err)
	}
	if _, err := c.ResolveByPriceRef("price_unknown"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolvedPlanIsACopy(t *testing.T) {
	c := newTestCatalog(t)
	plan, _ := c.Resolve(IDProClub)
	plan.PriceMinorUnits = 1
	again, _ := c.Resolve(IDProClub)
	if again.PriceMinorUnits != 1900 {
		t.Fatalf("catalog entries must not be mutable through resolved values")
	}
}

func TestNewCatalogValidation(t *testing.T) {
	free := Plan{ID: "free", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindFree, MaxEvents: 1, MaxInvitations: 1}
	cases := map[string]struct {
		defs    []Plan
		aliases map[string]string
	}{
		"no free plan": {
			defs: []Plan{{ID: "club", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindRecurringMonthly, PriceMinorUnits: 100}},
		},
		"two free plans": {
			defs: []Plan{free, {ID: "free2", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindFree}},
		},
		"duplicate id": {
			defs: []Plan{free, free},
		},
		"pack without events": {
			defs: []Plan{free, {ID: "pack", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindOneTimePack, PriceMinorUnits: 100, ValidityMonths: 1}},
		},
		"alias to unknown plan": {
			defs:    []Plan{free},
			aliases: map[string]string{"gold": "platinum"},
		},
		"duplicate price ref": {
			defs: []Plan{
				free,
				{ID: "a", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindRecurringMonthly, PriceMinorUnits: 100, ExternalPriceRef: "price_x"},
				{ID: "b", Currency: enums.CurrencyEUR, BillingKind: enums.BillingKindRecurringMonthly, PriceMinorUnits: 200, ExternalPriceRef: "price_x"},
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewCatalog(tc.defs, tc.aliases); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestPlanLimits(t *testing.T) {
	plan := Plan{MaxEvents: 1, MaxInvitations: 20}
	if !plan.AllowsEvents(0) || plan.AllowsEvents(1) {
		t.Fatalf("event limit not enforced")
	}
	if !plan.AllowsInvitations(20) || plan.AllowsInvitations(21) {
		t.Fatalf("invitation limit not enforced")
	}
	unlimited := Plan{MaxEvents: Unlimited, MaxInvitations: Unlimited}
	if !unlimited.AllowsEvents(1 << 20) || !unlimited.AllowsInvitations(1 << 20) {
		t.Fatalf("unlimited plan should allow anything")
	}
}

func TestAliasesAreSortedForDiagnostics(t *testing.T) {
	c := newTestCatalog(t)
	aliases := c.Aliases()
	if !sort.StringsAreSorted(aliases) {
		t.Fatalf("expected sorted aliases, got %v", aliases)
	}
	want := map[string]bool{"pack10=" + IDEventPack10: false, "pro-club=" + IDProClub: false}
	for _, entry := range aliases {
		if _, ok := want[entry]; ok {
			want[entry] = true
		}
	}
	for entry, seen := range want {
		if !seen {
			t.Fatalf("expected alias entry %q in %v", entry, aliases)
		}
	}
}
