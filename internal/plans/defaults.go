package plans

import "github.com/angelmondragon/orgplans-backend/pkg/enums"

// legacyAliases folds the older plan vocabularies onto the canonical ids.
var legacyAliases = map[string]string{
	"discovery":             IDDecouverte,
	"free":                  IDDecouverte,
	"evenementielle":        IDEventPack10,
	"evenementielle_pack10": IDEventPack10,
	"pack10":                IDEventPack10,
	"event-pack-10":         IDEventPack10,
	"pro-club":              IDProClub,
	"proclub":               IDProClub,
	"pro-pme":               IDProPME,
	"propme":                IDProPME,
}

// DefaultDefinitions returns the production tiers with gateway price refs
// keyed by canonical plan id.
func DefaultDefinitions(priceRefs map[string]string) []Plan {
	return []Plan{
		{
			ID:              IDDecouverte,
			Name:            "Découverte",
			Currency:        enums.CurrencyEUR,
			BillingKind:     enums.BillingKindFree,
			MaxEvents:       1,
			MaxInvitations:  20,
			ValidityMonths:  NoExpiry,
			PriceMinorUnits: 0,
		},
		{
			ID:               IDEventPack10,
			Name:             "Événementielle pack 10",
			PriceMinorUnits:  4900,
			Currency:         enums.CurrencyEUR,
			BillingKind:      enums.BillingKindOneTimePack,
			MaxEvents:        10,
			MaxInvitations:   150,
			ValidityMonths:   12,
			ExternalPriceRef: priceRefs[IDEventPack10],
		},
		{
			ID:               IDProClub,
			Name:             "Pro Club",
			PriceMinorUnits:  1900,
			Currency:         enums.CurrencyEUR,
			BillingKind:      enums.BillingKindRecurringMonthly,
			MaxEvents:        Unlimited,
			MaxInvitations:   300,
			ExternalPriceRef: priceRefs[IDProClub],
		},
		{
			ID:               IDProPME,
			Name:             "Pro PME",
			PriceMinorUnits:  4900,
			Currency:         enums.CurrencyEUR,
			BillingKind:      enums.BillingKindRecurringMonthly,
			MaxEvents:        Unlimited,
			MaxInvitations:   Unlimited,
			ExternalPriceRef: priceRefs[IDProPME],
		},
	}
}

// NewDefaultCatalog builds the production catalog.
func NewDefaultCatalog(priceRefs map[string]string) (*Catalog, error) {
	return NewCatalog(DefaultDefinitions(priceRefs), legacyAliases)
}
