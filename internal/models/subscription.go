package models

import "time"

// GatewayReferenceKind tells which kind of gateway object a subscription
// record points at.
type GatewayReferenceKind string

const (
	RefRecurringSubscription GatewayReferenceKind = "subscription"
	RefOneTimeCharge         GatewayReferenceKind = "charge"
)

// SubscriptionRecord is the authoritative per-account billing state. Exactly
// one record occupies the current slot per account; supersession replaces it
// in place. ExpiresAt is the entitlement ground truth: the record is
// logically active iff ExpiresAt is in the future, regardless of the
// control-plane flags.
type SubscriptionRecord struct {
	ID                 int64                `json:"id"`
	AccountID          int64                `json:"account_id"`
	PlanID             string               `json:"plan_id"`
	GatewayReferenceID string               `json:"gateway_reference_id"`
	ReferenceKind      GatewayReferenceKind `json:"reference_kind"`
	Active             bool                 `json:"active"`
	ExpiresAt          time.Time            `json:"expires_at"`
	AutoRenew          bool                 `json:"auto_renew"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
	Backfilled         bool                 `json:"backfilled"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Entitled reports whether the record grants access at the given instant.
func (r *SubscriptionRecord) Entitled(now time.Time) bool {
	return r != nil && r.ExpiresAt.After(now)
}

// WebhookEvent is the inbound gateway notification envelope. Data holds the
// raw event object; the reconciler picks out the fields it needs.
type WebhookEvent struct {
	Type string `json:"type"`
	Data JSONB  `json:"data"`
}
