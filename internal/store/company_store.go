package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pressfolio/backend/internal/models"
)

// ListCompanies returns the companies owned by an account, ordered by id.
func (s *Store) ListCompanies(ctx context.Context, accountID int64) ([]models.Company, error) {
	query := `
SELECT id, account_id, name, entitlement_active, entitlement_expires_at, created_at, updated_at
FROM companies
WHERE account_id = $1
ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: list companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(
			&c.ID,
			&c.AccountID,
			&c.Name,
			&c.EntitlementActive,
			&c.EntitlementExpiresAt,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan company: %w", err)
		}
		companies = append(companies, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate companies: %w", err)
	}

	return companies, nil
}

// UpdateCompanyEntitlements writes the denormalized entitlement pair onto
// every company the account owns. A single UPDATE statement keeps the batch
// atomic: either all owned companies change or none do. Zero owned companies
// is a no-op, not an error.
func (s *Store) UpdateCompanyEntitlements(ctx context.Context, accountID int64, active bool, expiresAt *time.Time) error {
	query := `
UPDATE companies
SET entitlement_active = $2,
	entitlement_expires_at = $3,
	updated_at = now()
WHERE account_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, accountID, active, expiresAt); err != nil {
		return fmt.Errorf("store: update company entitlements: %w", err)
	}

	return nil
}
