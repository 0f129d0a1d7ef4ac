package models

import "time"

// Account is the owner of companies and of at most one current
// SubscriptionRecord. PayjpCustomerID is set once a card has been registered
// at the gateway; a nil value means the account has no payment method.
type Account struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	Name            *string   `json:"name,omitempty"`
	PayjpCustomerID *string   `json:"payjp_customer_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Company is an account-owned resource carrying the denormalized entitlement
// projection used by read paths. The two entitlement fields must always equal
// a pure function of the owner's current SubscriptionRecord.
type Company struct {
	ID                   int64      `json:"id"`
	AccountID            int64      `json:"account_id"`
	Name                 string     `json:"name"`
	EntitlementActive    bool       `json:"entitlement_active"`
	EntitlementExpiresAt *time.Time `json:"entitlement_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
