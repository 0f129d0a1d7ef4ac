// Package reconcile rebuilds or corrects subscription records from gateway
// ground truth. Backfill reconstructs records for accounts that have none;
// repair re-derives the plan classification for records suspected stale.
// Both runs are computed as per-account diffs first and applied second, so a
// dry run is the same computation with the apply step skipped.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pressfolio/backend/internal/models"
	"github.com/pressfolio/backend/internal/payjp"
	"github.com/pressfolio/backend/internal/plans"
)

// gatewayPageLimit caps each gateway list call. Accounts hold at most a
// handful of subscriptions and charges, so one page is always enough.
const gatewayPageLimit = 100

// Gateway is the slice of the PAY.JP client the engine reads ground truth
// through.
type Gateway interface {
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]payjp.Subscription, error)
	ListCharges(ctx context.Context, customerID string, limit int) ([]payjp.Charge, error)
}

// EngineStore is the persistence surface the engine plans against and
// applies to.
type EngineStore interface {
	ListBillableAccounts(ctx context.Context) ([]models.Account, error)
	GetSubscriptionRecord(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error)
	SaveSubscriptionRecord(ctx context.Context, rec *models.SubscriptionRecord) error
	UpdateCompanyEntitlements(ctx context.Context, accountID int64, active bool, expiresAt *time.Time) error
}

// RunStore records the audit trail of reconcile executions.
type RunStore interface {
	StartRun(ctx context.Context, kind models.ReconcileKind, dryRun bool) (*models.ReconcileRun, error)
	FinishRun(ctx context.Context, run *models.ReconcileRun) error
}

// Config holds engine tuning knobs.
type Config struct {
	// Workers is the number of accounts processed in parallel.
	Workers int
	// RequestsPerSecond throttles gateway API calls across all workers.
	RequestsPerSecond float64
	// PausedAutoRenew controls whether a gateway-paused subscription is
	// treated as still auto-renewing. Paused means the gateway keeps
	// retrying the charge, so this defaults on.
	PausedAutoRenew bool
}

// DefaultConfig returns engine defaults safe for production gateways.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		RequestsPerSecond: 10,
		PausedAutoRenew:   true,
	}
}

// Engine executes backfill and repair runs.
type Engine struct {
	store   EngineStore
	runs    RunStore
	gateway Gateway
	config  Config
	limiter *rate.Limiter

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewEngine creates a reconcile engine.
func NewEngine(store EngineStore, runs RunStore, gateway Gateway, config Config) *Engine {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	return &Engine{
		store:   store,
		runs:    runs,
		gateway: gateway,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		Now:     time.Now,
	}
}

// Run executes one backfill or repair pass over every billable account and
// returns the finished audit record plus the per-account diffs. One account's
// gateway error is logged and counted, never fatal to the run. A dry run
// computes and reports diffs without writing anything.
func (e *Engine) Run(ctx context.Context, kind models.ReconcileKind, dryRun bool) (*models.ReconcileRun, []models.AccountDiff, error) {
	accounts, err := e.store.ListBillableAccounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: list accounts: %w", err)
	}

	run, err := e.runs.StartRun(ctx, kind, dryRun)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: start run: %w", err)
	}
	run.AccountsTotal = len(accounts)

	log.Printf("[reconcile] run %d: %s of %d accounts (dry_run=%t, workers=%d)",
		run.ID, kind, len(accounts), dryRun, e.config.Workers)

	type outcome struct {
		diff models.AccountDiff
		err  error
	}

	jobs := make(chan models.Account)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				diff, err := e.reconcileAccount(ctx, kind, dryRun, account)
				results <- outcome{diff: diff, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, account := range accounts {
			select {
			case jobs <- account:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	diffs := make([]models.AccountDiff, 0, len(accounts))
	for out := range results {
		if out.err != nil {
			run.Errors++
			log.Printf("[reconcile] run %d: account %d: %v", run.ID, out.diff.AccountID, out.err)
			continue
		}
		diffs = append(diffs, out.diff)
		switch out.diff.Action {
		case models.DiffCreate:
			run.Created++
		case models.DiffUpdate:
			run.Updated++
		default:
			run.Skipped++
		}
	}

	if err := e.runs.FinishRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("reconcile: finish run: %w", err)
	}

	log.Printf("[reconcile] run %d finished: created=%d updated=%d skipped=%d errors=%d",
		run.ID, run.Created, run.Updated, run.Skipped, run.Errors)

	return run, diffs, nil
}

// reconcileAccount plans the diff for one account and, outside dry runs,
// applies it.
func (e *Engine) reconcileAccount(ctx context.Context, kind models.ReconcileKind, dryRun bool, account models.Account) (models.AccountDiff, error) {
	var (
		diff models.AccountDiff
		err  error
	)
	switch kind {
	case models.ReconcileBackfill:
		diff, err = e.planBackfill(ctx, account)
	case models.ReconcileRepair:
		diff, err = e.planRepair(ctx, account)
	default:
		return models.AccountDiff{AccountID: account.ID}, fmt.Errorf("unknown reconcile kind %q", kind)
	}
	if err != nil {
		return models.AccountDiff{AccountID: account.ID}, err
	}

	if dryRun {
		return diff, nil
	}
	if err := e.apply(ctx, diff); err != nil {
		return models.AccountDiff{AccountID: account.ID}, err
	}
	return diff, nil
}

// planBackfill computes the intended record for an account with no current
// one. Accounts that already hold a record are skipped, which is what makes
// a second backfill over unchanged data a no-op.
func (e *Engine) planBackfill(ctx context.Context, account models.Account) (models.AccountDiff, error) {
	diff := models.AccountDiff{AccountID: account.ID}

	existing, err := e.store.GetSubscriptionRecord(ctx, account.ID)
	if err != nil {
		return diff, err
	}
	if existing != nil {
		diff.Action = models.DiffSkip
		diff.Before = existing
		diff.Reason = "record already present"
		return diff, nil
	}

	candidate, err := e.deriveFromGateway(ctx, account)
	if err != nil {
		return diff, err
	}
	if candidate == nil {
		diff.Action = models.DiffNone
		diff.Reason = "no gateway entitlement found"
		return diff, nil
	}

	diff.Action = models.DiffCreate
	diff.After = candidate
	return diff, nil
}

// planRepair re-derives the plan classification from the gateway amount and
// corrects the stored plan id. For one-time charges the expiry is also
// recomputed from the true charge date. Control-plane fields set by the
// account (auto-renew, cancellation stamp) are preserved.
func (e *Engine) planRepair(ctx context.Context, account models.Account) (models.AccountDiff, error) {
	diff := models.AccountDiff{AccountID: account.ID}

	existing, err := e.store.GetSubscriptionRecord(ctx, account.ID)
	if err != nil {
		return diff, err
	}
	if existing == nil {
		diff.Action = models.DiffSkip
		diff.Reason = "no record to repair"
		return diff, nil
	}
	diff.Before = existing

	candidate, err := e.deriveFromGateway(ctx, account)
	if err != nil {
		return diff, err
	}
	if candidate == nil {
		diff.Action = models.DiffSkip
		diff.Reason = "no gateway truth to repair from"
		return diff, nil
	}

	after := *existing
	after.PlanID = candidate.PlanID
	after.GatewayReferenceID = candidate.GatewayReferenceID
	after.ReferenceKind = candidate.ReferenceKind
	if candidate.ReferenceKind == models.RefOneTimeCharge {
		after.ExpiresAt = candidate.ExpiresAt
		after.Active = candidate.Active
	}

	if after.PlanID == existing.PlanID &&
		after.GatewayReferenceID == existing.GatewayReferenceID &&
		after.ExpiresAt.Equal(existing.ExpiresAt) {
		diff.Action = models.DiffSkip
		diff.Reason = "classification already correct"
		return diff, nil
	}

	diff.Action = models.DiffUpdate
	diff.After = &after
	diff.Reason = fmt.Sprintf("plan %s reclassified as %s", existing.PlanID, after.PlanID)
	return diff, nil
}

// deriveFromGateway selects the account's ground-truth entitlement. Order of
// preference: the recurring subscription with the latest period end among
// active/trial, then one that is paused or canceled but still inside its
// paid period, then the most recent paid non-refunded one-time charge. A nil
// return means the gateway holds nothing for this customer.
func (e *Engine) deriveFromGateway(ctx context.Context, account models.Account) (*models.SubscriptionRecord, error) {
	if account.PayjpCustomerID == nil || *account.PayjpCustomerID == "" {
		return nil, fmt.Errorf("account %d has no gateway customer reference", account.ID)
	}
	customerID := *account.PayjpCustomerID
	now := e.Now().UTC()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	subs, err := e.gateway.ListSubscriptions(ctx, customerID, gatewayPageLimit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}

	if sub := selectSubscription(subs, now); sub != nil {
		plan, err := plans.Classify(sub.Plan.Amount, models.RenewalRecurring)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		autoRenew := sub.Status == payjp.SubscriptionActive || sub.Status == payjp.SubscriptionTrial ||
			(sub.Status == payjp.SubscriptionPaused && e.config.PausedAutoRenew)
		return &models.SubscriptionRecord{
			AccountID:          account.ID,
			PlanID:             plan.ID,
			GatewayReferenceID: sub.ID,
			ReferenceKind:      models.RefRecurringSubscription,
			Active:             sub.PeriodEnd().After(now),
			ExpiresAt:          sub.PeriodEnd(),
			AutoRenew:          autoRenew,
			Backfilled:         true,
		}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	charges, err := e.gateway.ListCharges(ctx, customerID, gatewayPageLimit)
	if err != nil {
		return nil, fmt.Errorf("list charges for %s: %w", customerID, err)
	}

	if charge := selectCharge(charges); charge != nil {
		plan, err := plans.Classify(charge.Amount, models.RenewalOneTime)
		if err != nil {
			return nil, fmt.Errorf("charge %s: %w", charge.ID, err)
		}
		expiresAt := charge.CreatedAt().AddDate(0, plan.DurationMonths, 0)
		return &models.SubscriptionRecord{
			AccountID:          account.ID,
			PlanID:             plan.ID,
			GatewayReferenceID: charge.ID,
			ReferenceKind:      models.RefOneTimeCharge,
			Active:             expiresAt.After(now),
			ExpiresAt:          expiresAt,
			AutoRenew:          false,
			Backfilled:         true,
		}, nil
	}

	return nil, nil
}

// selectSubscription picks the preferred recurring subscription: latest
// period end among active/trial, else latest-ending paused/canceled one
// whose paid period has not lapsed yet.
func selectSubscription(subs []payjp.Subscription, now time.Time) *payjp.Subscription {
	var live, paidThrough *payjp.Subscription
	for i := range subs {
		sub := &subs[i]
		switch sub.Status {
		case payjp.SubscriptionActive, payjp.SubscriptionTrial:
			if live == nil || sub.PeriodEnd().After(live.PeriodEnd()) {
				live = sub
			}
		case payjp.SubscriptionPaused, payjp.SubscriptionCanceled:
			if !sub.PeriodEnd().After(now) {
				continue
			}
			if paidThrough == nil || sub.PeriodEnd().After(paidThrough.PeriodEnd()) {
				paidThrough = sub
			}
		}
	}
	if live != nil {
		return live
	}
	return paidThrough
}

// selectCharge picks the most recent paid, non-refunded charge.
func selectCharge(charges []payjp.Charge) *payjp.Charge {
	var best *payjp.Charge
	for i := range charges {
		charge := &charges[i]
		if !charge.Paid || charge.Refunded {
			continue
		}
		if best == nil || charge.CreatedAt().After(best.CreatedAt()) {
			best = charge
		}
	}
	return best
}

// apply writes one planned diff. Create and update go through the same
// upsert the lifecycle uses, followed by the company fan-out. A none result
// still syncs the projection so companies of an entitlement-less account
// never stay marked active.
func (e *Engine) apply(ctx context.Context, diff models.AccountDiff) error {
	switch diff.Action {
	case models.DiffCreate, models.DiffUpdate:
		if err := e.store.SaveSubscriptionRecord(ctx, diff.After); err != nil {
			return err
		}
		active := diff.After.Entitled(e.Now().UTC())
		return e.store.UpdateCompanyEntitlements(ctx, diff.AccountID, active, &diff.After.ExpiresAt)
	case models.DiffNone:
		return e.store.UpdateCompanyEntitlements(ctx, diff.AccountID, false, nil)
	default:
		return nil
	}
}
