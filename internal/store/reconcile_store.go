package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressfolio/backend/internal/models"
)

// ErrRunNotFound is returned when a reconcile run id has no row.
var ErrRunNotFound = errors.New("reconcile run not found")

// ReconcileStore persists the audit trail of backfill and repair executions.
type ReconcileStore struct {
	db *sql.DB
}

// NewReconcileStore creates a new ReconcileStore instance.
func NewReconcileStore(db *sql.DB) (*ReconcileStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &ReconcileStore{db: db}, nil
}

// StartRun records the beginning of a backfill or repair execution, dry runs
// included, and returns the run with its assigned id.
func (s *ReconcileStore) StartRun(ctx context.Context, kind models.ReconcileKind, dryRun bool) (*models.ReconcileRun, error) {
	query := `
INSERT INTO reconcile_runs (kind, dry_run)
VALUES ($1, $2)
RETURNING id, started_at
	`

	run := &models.ReconcileRun{Kind: kind, DryRun: dryRun}
	if err := s.db.QueryRowContext(ctx, query, kind, dryRun).Scan(&run.ID, &run.StartedAt); err != nil {
		return nil, fmt.Errorf("store: start reconcile run: %w", err)
	}

	return run, nil
}

// FinishRun stamps the run's counters and finish time.
func (s *ReconcileStore) FinishRun(ctx context.Context, run *models.ReconcileRun) error {
	query := `
UPDATE reconcile_runs
SET accounts_total = $2,
	created = $3,
	updated = $4,
	skipped = $5,
	errors = $6,
	finished_at = now()
WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.AccountsTotal,
		run.Created,
		run.Updated,
		run.Skipped,
		run.Errors,
	)
	if err != nil {
		return fmt.Errorf("store: finish reconcile run: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrRunNotFound
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ReconcileStore) ListRuns(ctx context.Context, limit int) ([]models.ReconcileRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
SELECT id, kind, dry_run, accounts_total, created, updated, skipped, errors, started_at, finished_at
FROM reconcile_runs
ORDER BY started_at DESC
LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list reconcile runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ReconcileRun
	for rows.Next() {
		var r models.ReconcileRun
		if err := rows.Scan(
			&r.ID,
			&r.Kind,
			&r.DryRun,
			&r.AccountsTotal,
			&r.Created,
			&r.Updated,
			&r.Skipped,
			&r.Errors,
			&r.StartedAt,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan reconcile run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reconcile runs: %w", err)
	}

	return runs, nil
}
