// Package billing implements the subscription lifecycle: purchase,
// cancellation, webhook-driven reconciliation, and the entitlement fan-out to
// owned companies after every record write.
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pressfolio/backend/internal/models"
	"github.com/pressfolio/backend/internal/payjp"
	"github.com/pressfolio/backend/internal/plans"
)

// Gateway is the slice of the PAY.JP client the lifecycle manager needs.
type Gateway interface {
	CreateSubscription(ctx context.Context, customerID, planID string) (*payjp.Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	CreateCharge(ctx context.Context, customerID string, amount int) (*payjp.Charge, error)
}

// RecordStore is the persistence surface backing the lifecycle manager and
// the webhook reconciler.
type RecordStore interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	GetSubscriptionRecord(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error)
	ReplaceSubscriptionRecord(ctx context.Context, accountID int64, fn func(*models.SubscriptionRecord) (*models.SubscriptionRecord, error)) (*models.SubscriptionRecord, error)
	MutateSubscriptionRecord(ctx context.Context, accountID int64, fn func(*models.SubscriptionRecord) error) (*models.SubscriptionRecord, error)
	MutateSubscriptionRecordByGatewayRef(ctx context.Context, referenceID string, fn func(*models.SubscriptionRecord) error) (*models.SubscriptionRecord, error)
	UpdateCompanyEntitlements(ctx context.Context, accountID int64, active bool, expiresAt *time.Time) error
}

// Service orchestrates purchases, cancellations, and webhook application.
type Service struct {
	store   RecordStore
	gateway Gateway

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewService creates a lifecycle service.
func NewService(store RecordStore, gateway Gateway) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		Now:     time.Now,
	}
}

// Subscribe purchases the plan for the account. Remaining time on an
// existing record is never forfeited: the new duration stacks on top of an
// unexpired expiry, so renewing early does not penalize the holder. A
// replaced recurring gateway subscription is cancelled best-effort first.
func (s *Service) Subscribe(ctx context.Context, accountID int64, planID string) (*models.SubscriptionRecord, error) {
	plan, err := plans.Offerable(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, planID)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.PayjpCustomerID == nil || *account.PayjpCustomerID == "" {
		return nil, ErrNoPaymentMethod
	}
	customerID := *account.PayjpCustomerID

	existing, err := s.store.GetSubscriptionRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Stop the old gateway subscription before the replacement purchase so
	// the account is never double-billed. Failure here must not block the
	// purchase: the record is superseded either way.
	if existing != nil && existing.ReferenceKind == models.RefRecurringSubscription && existing.AutoRenew {
		if err := s.gateway.CancelSubscription(ctx, existing.GatewayReferenceID); err != nil {
			log.Printf("[billing] best-effort cancel of replaced subscription %s failed: %v",
				existing.GatewayReferenceID, err)
		}
	}

	template := &models.SubscriptionRecord{
		AccountID: accountID,
		PlanID:    plan.ID,
		Active:    true,
	}

	switch plan.RenewalMode {
	case models.RenewalRecurring:
		sub, err := s.gateway.CreateSubscription(ctx, customerID, plan.GatewayPlanID)
		if err != nil {
			return nil, mapGatewayErr(err)
		}
		template.GatewayReferenceID = sub.ID
		template.ReferenceKind = models.RefRecurringSubscription
		template.AutoRenew = true
		// Fallback expiry for an account with no remaining time; the stacked
		// case is decided under the row lock below.
		template.ExpiresAt = sub.PeriodEnd()

	case models.RenewalOneTime:
		charge, err := s.gateway.CreateCharge(ctx, customerID, plan.PriceMinorUnit)
		if err != nil {
			return nil, mapGatewayErr(err)
		}
		template.GatewayReferenceID = charge.ID
		template.ReferenceKind = models.RefOneTimeCharge
		template.AutoRenew = false

	default:
		return nil, fmt.Errorf("%w: plan %s has unknown renewal mode %s", ErrInvalidPlan, plan.ID, plan.RenewalMode)
	}

	// The stacked expiry must come from the committed record, not the read
	// above: a concurrent purchase or renewal webhook may have moved it while
	// the gateway call was in flight. The row lock serializes the writers.
	rec, err := s.store.ReplaceSubscriptionRecord(ctx, accountID, func(current *models.SubscriptionRecord) (*models.SubscriptionRecord, error) {
		now := s.Now().UTC()
		rec := *template
		switch rec.ReferenceKind {
		case models.RefRecurringSubscription:
			if current.Entitled(now) {
				rec.ExpiresAt = current.ExpiresAt.AddDate(0, plan.DurationMonths, 0)
			}
		case models.RefOneTimeCharge:
			base := now
			if current.Entitled(now) {
				base = current.ExpiresAt
			}
			rec.ExpiresAt = base.AddDate(0, plan.DurationMonths, 0)
		}
		return &rec, nil
	})
	if err != nil {
		return nil, err
	}

	// The purchase is committed and the card charged; a failed fan-out must
	// not look like a failed purchase or the client will retry and
	// double-charge. The repair pass heals a drifted projection.
	if err := s.propagate(ctx, rec); err != nil {
		log.Printf("[billing] %v (purchase committed, projection will heal on repair)", err)
	}

	log.Printf("[billing] account %d subscribed to %s, expires %s (ref %s)",
		accountID, rec.PlanID, rec.ExpiresAt.Format(time.RFC3339), rec.GatewayReferenceID)

	return rec, nil
}

// Cancel turns off auto-renewal for the account's recurring subscription.
// The grant is never revoked mid-period: ExpiresAt and the current active
// truth stay untouched and access lapses naturally at expiry.
func (s *Service) Cancel(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error) {
	now := s.Now().UTC()

	rec, err := s.store.MutateSubscriptionRecord(ctx, accountID, func(rec *models.SubscriptionRecord) error {
		if rec == nil {
			return ErrRecordNotFound
		}
		if rec.ReferenceKind != models.RefRecurringSubscription || !rec.AutoRenew {
			return ErrNotRecurring
		}

		// Gateway first: a rejected cancel leaves the record untouched.
		if err := s.gateway.CancelSubscription(ctx, rec.GatewayReferenceID); err != nil {
			return mapGatewayErr(err)
		}

		rec.AutoRenew = false
		rec.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cancellation does not change entitlement, but the projection is
	// re-synced anyway so a drifted company row heals here too. The cancel
	// itself is committed; a failed fan-out is not a failed cancel.
	if err := s.propagate(ctx, rec); err != nil {
		log.Printf("[billing] %v (cancel committed, projection will heal on repair)", err)
	}

	log.Printf("[billing] account %d cancelled auto-renew, grant runs to %s",
		accountID, rec.ExpiresAt.Format(time.RFC3339))

	return rec, nil
}

// propagate fans the record's entitlement out to every company the account
// owns, as one atomic batch.
func (s *Service) propagate(ctx context.Context, rec *models.SubscriptionRecord) error {
	active := rec.Entitled(s.Now().UTC())
	if err := s.store.UpdateCompanyEntitlements(ctx, rec.AccountID, active, &rec.ExpiresAt); err != nil {
		return fmt.Errorf("propagate entitlement for account %d: %w", rec.AccountID, err)
	}
	return nil
}
