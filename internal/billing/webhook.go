package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pressfolio/backend/internal/models"
)

// Gateway webhook event types this service recognizes. Anything else is
// acknowledged without effect so new gateway event kinds never break
// delivery.
const (
	EventSubscriptionRenewed = "subscription.renewed"
	EventSubscriptionDeleted = "subscription.deleted"
	EventChargeFailed        = "charge.failed"
)

// ApplyWebhookEvent applies one gateway event to local state. Every branch
// succeeds from the gateway's point of view: events referencing unknown ids
// or carrying unhandled types are logged and dropped, never failed. An error
// return means a storage problem, not a business mismatch.
func (s *Service) ApplyWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	switch event.Type {
	case EventSubscriptionRenewed:
		return s.applyRenewal(ctx, event.Data)
	case EventSubscriptionDeleted:
		return s.applyDeletion(ctx, event.Data)
	case EventChargeFailed:
		// No state change: the record's expiry lapses naturally and the
		// account re-purchases after seeing the expiry prompt.
		log.Printf("[webhook] charge failed for customer %s: %s",
			event.Data.String("customer"), event.Data.String("failure_message"))
		return nil
	default:
		log.Printf("[webhook] ignoring unhandled event type %q", event.Type)
		return nil
	}
}

// applyRenewal moves the record's expiry to the gateway-reported period end.
// Re-delivery is harmless: applying the same period end twice yields the
// same record.
func (s *Service) applyRenewal(ctx context.Context, data models.JSONB) error {
	referenceID := data.String("id")
	periodEnd, ok := data.Int64("current_period_end")
	if referenceID == "" || !ok {
		log.Printf("[webhook] subscription.renewed missing id or current_period_end, ignoring")
		return nil
	}

	expiresAt := time.Unix(periodEnd, 0).UTC()

	rec, err := s.store.MutateSubscriptionRecordByGatewayRef(ctx, referenceID, func(rec *models.SubscriptionRecord) error {
		if rec == nil {
			// Not ours; acknowledge without mutation.
			return nil
		}
		rec.ExpiresAt = expiresAt
		rec.Active = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply renewal for %s: %w", referenceID, err)
	}
	if rec == nil {
		log.Printf("[webhook] subscription.renewed: no local record for %s", referenceID)
		return nil
	}

	if err := s.propagate(ctx, rec); err != nil {
		return err
	}

	log.Printf("[webhook] account %d renewed to %s (ref %s)",
		rec.AccountID, expiresAt.Format(time.RFC3339), referenceID)
	return nil
}

// applyDeletion records that the gateway stopped the recurring subscription.
// The grant persists to expiry: only the auto-renew flag and the cancel
// stamp change.
func (s *Service) applyDeletion(ctx context.Context, data models.JSONB) error {
	referenceID := data.String("id")
	if referenceID == "" {
		log.Printf("[webhook] subscription.deleted missing id, ignoring")
		return nil
	}

	now := s.Now().UTC()

	rec, err := s.store.MutateSubscriptionRecordByGatewayRef(ctx, referenceID, func(rec *models.SubscriptionRecord) error {
		if rec == nil {
			return nil
		}
		rec.AutoRenew = false
		if rec.CancelledAt == nil {
			rec.CancelledAt = &now
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply deletion for %s: %w", referenceID, err)
	}
	if rec == nil {
		log.Printf("[webhook] subscription.deleted: no local record for %s", referenceID)
		return nil
	}

	if err := s.propagate(ctx, rec); err != nil {
		return err
	}

	log.Printf("[webhook] account %d auto-renew stopped by gateway (ref %s)", rec.AccountID, referenceID)
	return nil
}
