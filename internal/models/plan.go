package models

// RenewalMode distinguishes gateway-billed recurring subscriptions from
// multi-year prepaid one-time charges.
type RenewalMode string

const (
	RenewalRecurring RenewalMode = "recurring"
	RenewalOneTime   RenewalMode = "one_time"
)

// Plan is an immutable catalog entry. Legacy plans are never offered to new
// purchasers but stay in the catalog so old gateway amounts can still be
// classified and existing holders keep a valid plan reference.
type Plan struct {
	ID             string      `json:"id"`
	DisplayName    string      `json:"display_name"`
	PriceMinorUnit int         `json:"price"`
	DurationMonths int         `json:"duration_months"`
	RenewalMode    RenewalMode `json:"renewal_mode"`
	Legacy         bool        `json:"legacy"`

	// GatewayPlanID is the PAY.JP plan identifier used when creating a
	// recurring subscription for this plan. Empty for one-time plans.
	GatewayPlanID string `json:"-"`
}
