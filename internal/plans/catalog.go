// Package plans holds the fixed plan catalog and the amount-band classifier
// used to map gateway amounts back onto plan identities.
package plans

import (
	"errors"

	"github.com/pressfolio/backend/internal/models"
)

// ErrPlanNotFound is returned when a plan id is not in the catalog.
var ErrPlanNotFound = errors.New("plan not found")

// ErrPlanNotOfferable is returned when a legacy plan is requested for a new
// purchase. Legacy plans stay valid for existing holders only.
var ErrPlanNotOfferable = errors.New("plan is no longer offered")

// catalog is the versioned list of every plan ever sold, current and legacy.
// Order matters only for display. Prices are JPY minor units.
var catalog = []models.Plan{
	{
		ID:             "press_monthly",
		DisplayName:    "Press Monthly",
		PriceMinorUnit: 980,
		DurationMonths: 1,
		RenewalMode:    models.RenewalRecurring,
		GatewayPlanID:  "plan_press_monthly",
	},
	{
		ID:             "press_annual",
		DisplayName:    "Press Annual",
		PriceMinorUnit: 9800,
		DurationMonths: 12,
		RenewalMode:    models.RenewalRecurring,
		GatewayPlanID:  "plan_press_annual",
	},
	{
		ID:             "legacy_annual",
		DisplayName:    "Annual (legacy)",
		PriceMinorUnit: 380,
		DurationMonths: 12,
		RenewalMode:    models.RenewalRecurring,
		Legacy:         true,
		GatewayPlanID:  "plan_legacy_annual",
	},
	{
		ID:             "legacy_5year",
		DisplayName:    "5-Year Prepaid (legacy)",
		PriceMinorUnit: 3920,
		DurationMonths: 60,
		RenewalMode:    models.RenewalOneTime,
		Legacy:         true,
	},
	{
		ID:             "press_10year",
		DisplayName:    "10-Year Prepaid",
		PriceMinorUnit: 7840,
		DurationMonths: 120,
		RenewalMode:    models.RenewalOneTime,
	},
}

// ByID looks up any plan, legacy included.
func ByID(id string) (*models.Plan, error) {
	for i := range catalog {
		if catalog[i].ID == id {
			p := catalog[i]
			return &p, nil
		}
	}
	return nil, ErrPlanNotFound
}

// Offerable returns the plan if it can be sold to a new purchaser.
func Offerable(id string) (*models.Plan, error) {
	p, err := ByID(id)
	if err != nil {
		return nil, err
	}
	if p.Legacy {
		return nil, ErrPlanNotOfferable
	}
	return p, nil
}

// Current lists the plans purchasable today, in catalog order.
func Current() []models.Plan {
	out := make([]models.Plan, 0, len(catalog))
	for _, p := range catalog {
		if !p.Legacy {
			out = append(out, p)
		}
	}
	return out
}

// All lists every catalog entry, legacy included.
func All() []models.Plan {
	out := make([]models.Plan, len(catalog))
	copy(out, catalog)
	return out
}
