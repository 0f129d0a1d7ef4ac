package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/pressfolio/backend/internal/models"
)

// CompanyLister reads the denormalized entitlement projection.
type CompanyLister interface {
	ListCompanies(ctx context.Context, accountID int64) ([]models.Company, error)
}

// Companies creates an HTTP handler that lists an account's companies with
// their projected entitlement state.
func Companies(store CompanyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
		if err != nil || accountID <= 0 {
			http.Error(w, "account_id query parameter is required", http.StatusBadRequest)
			return
		}

		companies, err := store.ListCompanies(r.Context(), accountID)
		if err != nil {
			log.Printf("Companies: failed to list companies: %v", err)
			http.Error(w, "failed to list companies", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
	}
}
