package plans

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

const (
	// Unlimited marks a limit without an upper bound.
	Unlimited = -1
	// NoExpiry marks a plan whose entitlement never lapses on its own.
	NoExpiry = 0
)

// Canonical plan identifiers.
const (
	IDDecouverte   = "decouverte"
	IDEventPack10  = "evenementielle-pack10"
	IDProClub      = "pro_club"
	IDProPME       = "pro_pme"
	minorUnitScale = -2
)

// Plan is an immutable catalog entry. A price change ships as a new id so
// sessions already in flight keep the price they were opened with.
type Plan struct {
	ID               string
	Name             string
	PriceMinorUnits  int64
	Currency         enums.Currency
	BillingKind      enums.BillingKind
	MaxEvents        int
	MaxInvitations   int
	ValidityMonths   int
	ExternalPriceRef string
}

func (p Plan) IsFree() bool {
	return p.BillingKind == enums.BillingKindFree
}

func (p Plan) IsPack() bool {
	return p.BillingKind == enums.BillingKindOneTimePack
}

func (p Plan) IsRecurring() bool {
	return p.BillingKind == enums.BillingKindRecurringMonthly
}

// Price renders the minor-unit price in major units, e.g. 4900 -> 49.00.
func (p Plan) Price() decimal.Decimal {
	return decimal.New(p.PriceMinorUnits, minorUnitScale)
}

// HasExpiry reports whether the plan carries an expiry concept at all.
func (p Plan) HasExpiry() bool {
	switch {
	case p.IsPack():
		return p.ValidityMonths != NoExpiry
	case p.IsRecurring():
		return true
	default:
		return false
	}
}

// AllowsEvents reports whether creating one more event stays within the plan limit.
func (p Plan) AllowsEvents(alreadyCreated int) bool {
	return p.MaxEvents == Unlimited || alreadyCreated < p.MaxEvents
}

// AllowsInvitations reports whether sending count invitations stays within the plan limit.
func (p Plan) AllowsInvitations(count int) bool {
	return p.MaxInvitations == Unlimited || count <= p.MaxInvitations
}
