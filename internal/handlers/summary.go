package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pressfolio/backend/internal/store"
)

const summaryCacheKey = "entitlement-summary"

// SummaryStore computes the aggregate entitlement view from the database.
type SummaryStore interface {
	GetEntitlementSummary(ctx context.Context) (*store.EntitlementSummary, error)
}

// Summary creates an HTTP handler serving the dashboard aggregates behind a
// short TTL cache, since the query scans every record. ?refresh=1 bypasses
// the cache.
func Summary(summaries SummaryStore, ttl time.Duration) http.HandlerFunc {
	cache := gocache.New(ttl, 2*ttl)

	return func(w http.ResponseWriter, r *http.Request) {
		refresh := r.URL.Query().Get("refresh") == "1"

		if !refresh {
			if cached, ok := cache.Get(summaryCacheKey); ok {
				writeJSON(w, http.StatusOK, map[string]any{"summary": cached, "cached": true})
				return
			}
		}

		summary, err := summaries.GetEntitlementSummary(r.Context())
		if err != nil {
			log.Printf("Summary: failed to compute summary: %v", err)
			http.Error(w, "failed to compute summary", http.StatusInternalServerError)
			return
		}
		cache.SetDefault(summaryCacheKey, summary)

		writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "cached": false})
	}
}
