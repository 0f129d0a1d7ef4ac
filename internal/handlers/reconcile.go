package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pressfolio/backend/internal/models"
)

// Reconciler runs one backfill or repair pass.
type Reconciler interface {
	Run(ctx context.Context, kind models.ReconcileKind, dryRun bool) (*models.ReconcileRun, []models.AccountDiff, error)
}

// RunLister reads the reconcile audit trail.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]models.ReconcileRun, error)
}

// ReconcileHandler exposes the maintenance endpoints for operators.
type ReconcileHandler struct {
	engine Reconciler
	runs   RunLister
}

// NewReconcileHandler creates the admin reconcile handler.
func NewReconcileHandler(engine Reconciler, runs RunLister) *ReconcileHandler {
	return &ReconcileHandler{engine: engine, runs: runs}
}

// RegisterRoutes mounts the reconcile endpoints on the router. The caller is
// expected to wrap them in admin auth.
func (h *ReconcileHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/reconcile/backfill", h.run(models.ReconcileBackfill))
	r.Post("/api/admin/reconcile/repair", h.run(models.ReconcileRepair))
	r.Get("/api/admin/reconcile/runs", h.listRuns)
}

func (h *ReconcileHandler) run(kind models.ReconcileKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dryRun := r.URL.Query().Get("dry_run") == "1" || r.URL.Query().Get("dry_run") == "true"

		run, diffs, err := h.engine.Run(r.Context(), kind, dryRun)
		if err != nil {
			log.Printf("Reconcile: %s run failed: %v", kind, err)
			http.Error(w, "reconcile run failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"run":   run,
			"diffs": diffs,
		})
	}
}

func (h *ReconcileHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("Reconcile: failed to list runs: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}
