package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pressfolio/backend/internal/models"
)

func newMockReconcileStore(t *testing.T) (*ReconcileStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &ReconcileStore{db: db}, mock
}

func TestStartRunAssignsID(t *testing.T) {
	s, mock := newMockReconcileStore(t)

	mock.ExpectQuery(`INSERT INTO reconcile_runs`).
		WithArgs(models.ReconcileBackfill, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at"}).AddRow(int64(3), testTime))

	run, err := s.StartRun(context.Background(), models.ReconcileBackfill, true)
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}
	if run.ID != 3 || !run.DryRun || run.Kind != models.ReconcileBackfill {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestFinishRunUnknownID(t *testing.T) {
	s, mock := newMockReconcileStore(t)

	mock.ExpectExec(`UPDATE reconcile_runs`).
		WithArgs(int64(99), 0, 0, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.FinishRun(context.Background(), &models.ReconcileRun{ID: 99})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunsCapsLimit(t *testing.T) {
	s, mock := newMockReconcileStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "kind", "dry_run", "accounts_total", "created", "updated", "skipped", "errors", "started_at", "finished_at",
	}).AddRow(int64(1), "repair", false, 10, 0, 2, 8, 0, testTime, testTime)
	mock.ExpectQuery(`FROM reconcile_runs`).WithArgs(100).WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), -5)
	if err != nil {
		t.Fatalf("ListRuns returned error: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != models.ReconcileRepair || runs[0].Updated != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
