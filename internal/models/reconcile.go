package models

import "time"

// ReconcileKind names the two ground-truth maintenance operations.
type ReconcileKind string

const (
	ReconcileBackfill ReconcileKind = "backfill"
	ReconcileRepair   ReconcileKind = "repair"
)

// DiffAction is the outcome the reconcile engine planned for one account.
type DiffAction string

const (
	DiffCreate DiffAction = "create"
	DiffUpdate DiffAction = "update"
	DiffSkip   DiffAction = "skip"
	DiffNone   DiffAction = "none" // no gateway entitlement found
)

// AccountDiff is the intended change for a single account, computed before
// (and independently of) any write. Dry runs report these without applying.
type AccountDiff struct {
	AccountID int64               `json:"account_id"`
	Action    DiffAction          `json:"action"`
	Before    *SubscriptionRecord `json:"before,omitempty"`
	After     *SubscriptionRecord `json:"after,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// ReconcileRun is the persisted audit record of one backfill or repair
// execution, dry runs included.
type ReconcileRun struct {
	ID            int64         `json:"id"`
	Kind          ReconcileKind `json:"kind"`
	DryRun        bool          `json:"dry_run"`
	AccountsTotal int           `json:"accounts_total"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"`
	Errors        int           `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}
