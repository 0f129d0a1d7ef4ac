// Package store provides database-backed persistence for accounts,
// subscription records, and the denormalized company entitlement projection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressfolio/backend/internal/models"
)

// ErrAccountNotFound is returned when an account id has no row.
var ErrAccountNotFound = errors.New("account not found")

const recordColumns = `
	id, account_id, plan_id, payjp_reference_id, reference_kind,
	active, expires_at, auto_renew, cancelled_at, backfilled,
	created_at, updated_at`

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := `
SELECT id, email, name, payjp_customer_id, created_at, updated_at
FROM accounts
WHERE id = $1
	`

	var a models.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PayjpCustomerID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get account: %w", err)
	}

	return &a, nil
}

// ListBillableAccounts returns every account holding a gateway customer
// reference, ordered by id. These are the candidates for backfill and repair.
func (s *Store) ListBillableAccounts(ctx context.Context) ([]models.Account, error) {
	query := `
SELECT id, email, name, payjp_customer_id, created_at, updated_at
FROM accounts
WHERE payjp_customer_id IS NOT NULL
ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list billable accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.PayjpCustomerID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate accounts: %w", err)
	}

	return accounts, nil
}

// GetSubscriptionRecord retrieves the current subscription record for an
// account. A nil record with nil error means the account has none.
func (s *Store) GetSubscriptionRecord(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM subscription_records WHERE account_id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription record: %w", err)
	}
	return rec, nil
}

// GetSubscriptionRecordByGatewayRef locates the record owning a gateway
// reference id across all accounts. Webhook events carry no account id, so
// this lookup goes through the unique index on payjp_reference_id. A nil
// record with nil error means no account owns the reference.
func (s *Store) GetSubscriptionRecordByGatewayRef(ctx context.Context, referenceID string) (*models.SubscriptionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM subscription_records WHERE payjp_reference_id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, referenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record by gateway ref: %w", err)
	}
	return rec, nil
}

// SaveSubscriptionRecord writes the record into the account's current slot,
// replacing whatever occupied it. The ON CONFLICT target is the unique
// account_id: supersession is an in-place replacement, never a second row.
func (s *Store) SaveSubscriptionRecord(ctx context.Context, rec *models.SubscriptionRecord) error {
	query := `
INSERT INTO subscription_records (
	account_id, plan_id, payjp_reference_id, reference_kind,
	active, expires_at, auto_renew, cancelled_at, backfilled
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (account_id) DO UPDATE SET
	plan_id = EXCLUDED.plan_id,
	payjp_reference_id = EXCLUDED.payjp_reference_id,
	reference_kind = EXCLUDED.reference_kind,
	active = EXCLUDED.active,
	expires_at = EXCLUDED.expires_at,
	auto_renew = EXCLUDED.auto_renew,
	cancelled_at = EXCLUDED.cancelled_at,
	backfilled = EXCLUDED.backfilled,
	updated_at = now()
RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		rec.AccountID,
		rec.PlanID,
		rec.GatewayReferenceID,
		rec.ReferenceKind,
		rec.Active,
		rec.ExpiresAt,
		rec.AutoRenew,
		rec.CancelledAt,
		rec.Backfilled,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save subscription record: %w", err)
	}

	return nil
}

// ReplaceSubscriptionRecord installs a new current record for the account
// under a row lock on the existing one, so the replacement expiry can be
// computed from the committed state instead of an earlier stale read. fn
// receives the locked current record (nil when the account has none) and
// returns the record to install; returning an error aborts without writing.
func (s *Store) ReplaceSubscriptionRecord(ctx context.Context, accountID int64, fn func(*models.SubscriptionRecord) (*models.SubscriptionRecord, error)) (*models.SubscriptionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM subscription_records WHERE account_id = $1 FOR UPDATE`,
		accountID))
	if errors.Is(err, sql.ErrNoRows) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("store: lock subscription record: %w", err)
	}

	rec, err := fn(current)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, tx.Commit()
	}

	query := `
INSERT INTO subscription_records (
	account_id, plan_id, payjp_reference_id, reference_kind,
	active, expires_at, auto_renew, cancelled_at, backfilled
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (account_id) DO UPDATE SET
	plan_id = EXCLUDED.plan_id,
	payjp_reference_id = EXCLUDED.payjp_reference_id,
	reference_kind = EXCLUDED.reference_kind,
	active = EXCLUDED.active,
	expires_at = EXCLUDED.expires_at,
	auto_renew = EXCLUDED.auto_renew,
	cancelled_at = EXCLUDED.cancelled_at,
	backfilled = EXCLUDED.backfilled,
	updated_at = now()
RETURNING id, created_at, updated_at
	`

	err = tx.QueryRowContext(ctx, query,
		rec.AccountID,
		rec.PlanID,
		rec.GatewayReferenceID,
		rec.ReferenceKind,
		rec.Active,
		rec.ExpiresAt,
		rec.AutoRenew,
		rec.CancelledAt,
		rec.Backfilled,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: replace subscription record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit replace tx: %w", err)
	}

	return rec, nil
}

// MutateSubscriptionRecord runs a read-modify-write on the account's current
// record under a row lock so concurrent mutations (a user cancel racing a
// renewal webhook) serialize instead of losing updates. fn receives nil when
// the account has no record and may return an error to abort without writing.
func (s *Store) MutateSubscriptionRecord(ctx context.Context, accountID int64, fn func(*models.SubscriptionRecord) error) (*models.SubscriptionRecord, error) {
	return s.mutate(ctx,
		`SELECT `+recordColumns+` FROM subscription_records WHERE account_id = $1 FOR UPDATE`,
		accountID, fn)
}

// MutateSubscriptionRecordByGatewayRef is MutateSubscriptionRecord keyed by
// the gateway reference id, for webhook reconciliation.
func (s *Store) MutateSubscriptionRecordByGatewayRef(ctx context.Context, referenceID string, fn func(*models.SubscriptionRecord) error) (*models.SubscriptionRecord, error) {
	return s.mutate(ctx,
		`SELECT `+recordColumns+` FROM subscription_records WHERE payjp_reference_id = $1 FOR UPDATE`,
		referenceID, fn)
}

func (s *Store) mutate(ctx context.Context, selectQuery string, key interface{}, fn func(*models.SubscriptionRecord) error) (*models.SubscriptionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin mutate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectQuery, key))
	if errors.Is(err, sql.ErrNoRows) {
		rec = nil
	} else if err != nil {
		return nil, fmt.Errorf("store: lock subscription record: %w", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	if rec == nil {
		// fn accepted the absence; nothing to write.
		return nil, tx.Commit()
	}

	query := `
UPDATE subscription_records
SET plan_id = $1,
	payjp_reference_id = $2,
	reference_kind = $3,
	active = $4,
	expires_at = $5,
	auto_renew = $6,
	cancelled_at = $7,
	backfilled = $8,
	updated_at = now()
WHERE id = $9
	`

	if _, err := tx.ExecContext(ctx, query,
		rec.PlanID,
		rec.GatewayReferenceID,
		rec.ReferenceKind,
		rec.Active,
		rec.ExpiresAt,
		rec.AutoRenew,
		rec.CancelledAt,
		rec.Backfilled,
		rec.ID,
	); err != nil {
		return nil, fmt.Errorf("store: update subscription record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit mutate tx: %w", err)
	}

	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.PlanID,
		&rec.GatewayReferenceID,
		&rec.ReferenceKind,
		&rec.Active,
		&rec.ExpiresAt,
		&rec.AutoRenew,
		&rec.CancelledAt,
		&rec.Backfilled,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// EntitlementSummary aggregates record and company counts for the cached
// dashboard view. Never authoritative; entitlement decisions read the record.
type EntitlementSummary struct {
	ActiveRecords     int       `json:"active_records"`
	AutoRenewing      int       `json:"auto_renewing"`
	Expired           int       `json:"expired"`
	EntitledCompanies int       `json:"entitled_companies"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// GetEntitlementSummary computes the aggregate view directly from the
// database.
func (s *Store) GetEntitlementSummary(ctx context.Context) (*EntitlementSummary, error) {
	query := `
SELECT
	COUNT(*) FILTER (WHERE expires_at > now()) AS active_records,
	COUNT(*) FILTER (WHERE auto_renew) AS auto_renewing,
	COUNT(*) FILTER (WHERE expires_at <= now()) AS expired,
	(SELECT COUNT(*) FROM companies WHERE entitlement_active) AS entitled_companies
FROM subscription_records
	`

	var sum EntitlementSummary
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sum.ActiveRecords,
		&sum.AutoRenewing,
		&sum.Expired,
		&sum.EntitledCompanies,
	)
	if err != nil {
		return nil, fmt.Errorf("store: entitlement summary: %w", err)
	}
	sum.GeneratedAt = time.Now().UTC()

	return &sum, nil
}
