package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/pressfolio/backend/internal/models"
)

// WebhookApplier applies one gateway event to local state.
type WebhookApplier interface {
	ApplyWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

// Webhook creates the HTTP handler the gateway delivers events to. Only
// malformed input is rejected: an unknown event type or a reference no
// account owns is acknowledged with 200 so the gateway stops redelivering.
func Webhook(svc WebhookApplier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event models.WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			log.Printf("Webhook: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if event.Type == "" || event.Data == nil {
			http.Error(w, "type and data are required", http.StatusBadRequest)
			return
		}

		if err := svc.ApplyWebhookEvent(r.Context(), &event); err != nil {
			// Storage failure: signal the gateway to redeliver.
			log.Printf("Webhook: failed to apply %s: %v", event.Type, err)
			http.Error(w, "failed to apply event", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
