package plans

import (
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
)

var ErrPlanNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")

// Catalog is a read-only plan registry built once at startup. It holds no
// mutators, so concurrent reads need no locking.
type Catalog struct {
	plans      map[string]Plan
	order      []string
	aliases    map[string]string
	byPriceRef map[string]string
	freeID     string
}

// NewCatalog validates the definitions and indexes them by id, alias and price ref.
func NewCatalog(definitions []Plan, aliases map[string]string) (*Catalog, error) {
	c := &Catalog{
		plans:      make(map[string]Plan, len(definitions)),
		aliases:    make(map[string]string, len(aliases)),
		byPriceRef: make(map[string]string, len(definitions)),
	}
	for _, def := range definitions {
		id := normalize(def.ID)
		if id == "" {
			return nil, fmt.Errorf("plan id is required")
		}
		if _, exists := c.plans[id]; exists {
			return nil, fmt.Errorf("duplicate plan id %q", id)
		}
		if err := validate(def); err != nil {
			return nil, fmt.Errorf("plan %q: %w", id, err)
		}
		def.ID = id
		if def.IsFree() {
			if c.freeID != "" {
				return nil, fmt.Errorf("plan %q: only one free plan is allowed, %q already registered", id, c.freeID)
			}
			c.freeID = id
		}
		if ref := strings.TrimSpace(def.ExternalPriceRef); ref != "" {
			if other, taken := c.byPriceRef[ref]; taken {
				return nil, fmt.Errorf("plan %q: price ref %q already used by %q", id, ref, other)
			}
			c.byPriceRef[ref] = id
		}
		c.plans[id] = def
		c.order = append(c.order, id)
	}
	if c.freeID == "" {
		return nil, fmt.Errorf("catalog requires a free plan")
	}
	for alias, target := range aliases {
		canonical := normalize(target)
		if _, ok := c.plans[canonical]; !ok {
			return nil, fmt.Errorf("alias %q points to unknown plan %q", alias, target)
		}
		c.aliases[normalize(alias)] = canonical
	}
	return c, nil
}

func validate(p Plan) error {
	if !p.BillingKind.IsValid() {
		return fmt.Errorf("invalid billing kind %q", p.BillingKind)
	}
	if !p.Currency.IsValid() {
		return fmt.Errorf("invalid currency %q", p.Currency)
	}
	if p.MaxEvents < Unlimited || p.MaxInvitations < Unlimited {
		return fmt.Errorf("limits must be positive or unlimited")
	}
	switch p.BillingKind {
	case enums.BillingKindFree:
		if p.PriceMinorUnits != 0 {
			return fmt.Errorf("free plan must have a zero price")
		}
	case enums.BillingKindOneTimePack:
		if p.PriceMinorUnits <= 0 {
			return fmt.Errorf("pack price must be positive")
		}
		if p.MaxEvents <= 0 {
			return fmt.Errorf("pack must grant a finite number of events")
		}
		if p.ValidityMonths < NoExpiry {
			return fmt.Errorf("pack validity must not be negative")
		}
	case enums.BillingKindRecurringMonthly:
		if p.PriceMinorUnits <= 0 {
			return fmt.Errorf("recurring price must be positive")
		}
	}
	return nil
}

// Canonical maps an id or any known alias to its canonical id.
func (c *Catalog) Canonical(planID string) (string, bool) {
	id := normalize(planID)
	if _, ok := c.plans[id]; ok {
		return id, true
	}
	if target, ok := c.aliases[id]; ok {
		return target, true
	}
	return "", false
}

// Resolve returns the plan for an id or alias.
func (c *Catalog) Resolve(planID string) (Plan, error) {
	id, ok := c.Canonical(planID)
	if !ok {
		return Plan{}, ErrPlanNotFound.WithDetails(map[string]any{"plan_id": planID})
	}
	return c.plans[id], nil
}

// ResolveByPriceRef maps a gateway price id back to its plan.
func (c *Catalog) ResolveByPriceRef(ref string) (Plan, error) {
	id, ok := c.byPriceRef[strings.TrimSpace(ref)]
	if !ok {
		return Plan{}, ErrPlanNotFound.WithDetails(map[string]any{"price_ref": ref})
	}
	return c.plans[id], nil
}

// Free returns the plan every organization starts on.
func (c *Catalog) Free() Plan {
	return c.plans[c.freeID]
}

// List returns the plans in registration order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// Aliases returns the alias table sorted by alias, for diagnostics.
func (c *Catalog) Aliases() []string {
	out := make([]string, 0, len(c.aliases))
	for alias, target := range c.aliases {
		out = append(out, alias+"="+target)
	}
	sort.Strings(out)
	return out
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
