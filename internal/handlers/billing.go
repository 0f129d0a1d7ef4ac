package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/pressfolio/backend/internal/billing"
	"github.com/pressfolio/backend/internal/models"
	"github.com/pressfolio/backend/internal/plans"
)

// BillingService defines the lifecycle operations the billing handlers
// expose.
type BillingService interface {
	Subscribe(ctx context.Context, accountID int64, planID string) (*models.SubscriptionRecord, error)
	Cancel(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error)
}

// RecordGetter defines the read surface for the subscription lookup handler.
type RecordGetter interface {
	GetSubscriptionRecord(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error)
}

type subscribePayload struct {
	AccountID int64  `json:"account_id"`
	PlanID    string `json:"plan_id"`
}

type cancelPayload struct {
	AccountID int64 `json:"account_id"`
}

// Subscribe creates an HTTP handler for plan purchase.
func Subscribe(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload subscribePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("Subscribe: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.AccountID <= 0 || strings.TrimSpace(payload.PlanID) == "" {
			http.Error(w, "account_id and plan_id are required", http.StatusBadRequest)
			return
		}

		rec, err := svc.Subscribe(r.Context(), payload.AccountID, payload.PlanID)
		if err != nil {
			writeBillingError(w, "Subscribe", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"subscription": rec})
	}
}

// CancelSubscription creates an HTTP handler that stops auto-renewal for the
// account's recurring subscription. The remaining paid period is untouched.
func CancelSubscription(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload cancelPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("CancelSubscription: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.AccountID <= 0 {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		rec, err := svc.Cancel(r.Context(), payload.AccountID)
		if err != nil {
			writeBillingError(w, "CancelSubscription", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"subscription": rec})
	}
}

// GetSubscription creates an HTTP handler that returns the account's current
// subscription record, or null when the account holds none.
func GetSubscription(store RecordGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
		if err != nil || accountID <= 0 {
			http.Error(w, "account_id query parameter is required", http.StatusBadRequest)
			return
		}

		rec, err := store.GetSubscriptionRecord(r.Context(), accountID)
		if err != nil {
			log.Printf("GetSubscription: failed to get record: %v", err)
			http.Error(w, "failed to get subscription", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"subscription": rec})
	}
}

// Plans creates an HTTP handler that lists the plans currently offered to
// new purchasers. Legacy plans are excluded.
func Plans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plans": plans.Current()})
	}
}

// writeBillingError maps the billing service's error taxonomy onto HTTP
// status codes, preserving gateway rejection messages for the client.
func writeBillingError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, billing.ErrInvalidPlan):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrNoPaymentMethod):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, billing.ErrGatewayRejected):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, billing.ErrRecordNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, billing.ErrNotRecurring):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, billing.ErrGatewayUnavailable):
		log.Printf("%s: gateway unavailable: %v", op, err)
		http.Error(w, "payment gateway unavailable, try again later", http.StatusBadGateway)
	default:
		log.Printf("%s: %v", op, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
