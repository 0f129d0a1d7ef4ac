package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pressfolio/backend/internal/models"
	"github.com/pressfolio/backend/internal/payjp"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	accounts []models.Account
	records  map[int64]*models.SubscriptionRecord

	saves        int
	propagations map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:      make(map[int64]*models.SubscriptionRecord),
		propagations: make(map[int64]bool),
	}
}

func (f *fakeStore) addAccount(id int64, customerID string) {
	f.accounts = append(f.accounts, models.Account{ID: id, Email: "owner@example.com", PayjpCustomerID: &customerID})
}

func (f *fakeStore) ListBillableAccounts(ctx context.Context) ([]models.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) GetSubscriptionRecord(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[accountID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) SaveSubscriptionRecord(ctx context.Context, rec *models.SubscriptionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	cp := *rec
	f.records[rec.AccountID] = &cp
	return nil
}

func (f *fakeStore) UpdateCompanyEntitlements(ctx context.Context, accountID int64, active bool, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.propagations[accountID] = active
	return nil
}

type fakeRunStore struct {
	mu       sync.Mutex
	started  []*models.ReconcileRun
	finished []*models.ReconcileRun
}

func (f *fakeRunStore) StartRun(ctx context.Context, kind models.ReconcileKind, dryRun bool) (*models.ReconcileRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &models.ReconcileRun{ID: int64(len(f.started) + 1), Kind: kind, DryRun: dryRun, StartedAt: testNow}
	f.started = append(f.started, run)
	return run, nil
}

func (f *fakeRunStore) FinishRun(ctx context.Context, run *models.ReconcileRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return nil
}

type fakeGateway struct {
	mu            sync.Mutex
	subscriptions map[string][]payjp.Subscription
	charges       map[string][]payjp.Charge
	calls         int
}

func (g *fakeGateway) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]payjp.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.subscriptions[customerID], nil
}

func (g *fakeGateway) ListCharges(ctx context.Context, customerID string, limit int) ([]payjp.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.charges[customerID], nil
}

func gatewaySub(id, status string, periodEnd time.Time, planID string, amount int) payjp.Subscription {
	sub := payjp.Subscription{ID: id, Status: status, CurrentPeriodEnd: periodEnd.Unix()}
	sub.Plan.ID = planID
	sub.Plan.Amount = amount
	return sub
}

func newTestEngine(store *fakeStore, runs *fakeRunStore, gw *fakeGateway) *Engine {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.RequestsPerSecond = 10000
	e := NewEngine(store, runs, gw, cfg)
	e.Now = func() time.Time { return testNow }
	return e
}

func TestBackfillCreatesRecordFromActiveSubscription(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	periodEnd := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{subscriptions: map[string][]payjp.Subscription{
		"cus_1": {gatewaySub("sub_1", payjp.SubscriptionActive, periodEnd, "plan_press_monthly", 980)},
	}}
	runs := &fakeRunStore{}

	run, diffs, err := newTestEngine(store, runs, gw).Run(context.Background(), models.ReconcileBackfill, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if run.Created != 1 || run.Errors != 0 {
		t.Fatalf("unexpected run counters: %+v", run)
	}
	if len(diffs) != 1 || diffs[0].Action != models.DiffCreate {
		t.Fatalf("unexpected diffs: %+v", diffs)
	}

	rec := store.records[1]
	if rec == nil {
		t.Fatal("expected a record to be created")
	}
	if rec.PlanID != "press_monthly" {
		t.Fatalf("expected plan press_monthly from amount 980, got %s", rec.PlanID)
	}
	if !rec.ExpiresAt.Equal(periodEnd) || !rec.Active || !rec.AutoRenew || !rec.Backfilled {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !store.propagations[1] {
		t.Fatal("backfill must propagate entitlement to companies")
	}
	if len(runs.finished) != 1 {
		t.Fatal("run must be finished in the audit store")
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	gw := &fakeGateway{charges: map[string][]payjp.Charge{
		"cus_1": {{ID: "ch_1", Amount: 3920, Created: testNow.AddDate(-1, 0, 0).Unix(), Paid: true}},
	}}
	runs := &fakeRunStore{}
	engine := newTestEngine(store, runs, gw)

	if _, _, err := engine.Run(context.Background(), models.ReconcileBackfill, false); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected exactly one write, got %d", store.saves)
	}

	run, diffs, err := engine.Run(context.Background(), models.ReconcileBackfill, false)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("second run over unchanged data must not write, got %d saves", store.saves)
	}
	if run.Created != 0 || run.Skipped != 1 {
		t.Fatalf("second run must skip: %+v", run)
	}
	if diffs[0].Action != models.DiffSkip {
		t.Fatalf("expected skip diff, got %+v", diffs[0])
	}
}

func TestBackfillClassifiesOneTimeCharge(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	chargeDate := testNow.AddDate(-2, 0, 0)
	gw := &fakeGateway{charges: map[string][]payjp.Charge{
		"cus_1": {
			{ID: "ch_refunded", Amount: 7840, Created: testNow.Unix(), Paid: true, Refunded: true},
			{ID: "ch_1", Amount: 3920, Created: chargeDate.Unix(), Paid: true},
			{ID: "ch_unpaid", Amount: 3920, Created: testNow.Unix(), Paid: false},
		},
	}}

	if _, _, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileBackfill, false); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	rec := store.records[1]
	if rec == nil {
		t.Fatal("expected a record to be created")
	}
	if rec.PlanID != "legacy_5year" {
		t.Fatalf("expected legacy_5year from amount 3920, got %s", rec.PlanID)
	}
	if rec.GatewayReferenceID != "ch_1" || rec.ReferenceKind != models.RefOneTimeCharge {
		t.Fatalf("refunded and unpaid charges must be ignored: %+v", rec)
	}
	want := chargeDate.AddDate(0, 60, 0)
	if !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s (charge date + 60 months), got %s", want, rec.ExpiresAt)
	}
	if rec.AutoRenew {
		t.Fatal("one-time charge must not auto-renew")
	}
}

func TestBackfillPausedAndCanceledSubscriptions(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_paused")
	store.addAccount(2, "cus_canceled")
	store.addAccount(3, "cus_lapsed")
	future := testNow.AddDate(0, 2, 0)
	past := testNow.AddDate(0, -2, 0)
	gw := &fakeGateway{subscriptions: map[string][]payjp.Subscription{
		"cus_paused":   {gatewaySub("sub_p", payjp.SubscriptionPaused, future, "plan_press_annual", 9800)},
		"cus_canceled": {gatewaySub("sub_c", payjp.SubscriptionCanceled, future, "plan_press_annual", 9800)},
		"cus_lapsed":   {gatewaySub("sub_l", payjp.SubscriptionCanceled, past, "plan_press_annual", 9800)},
	}}

	run, _, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileBackfill, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !store.records[1].AutoRenew {
		t.Fatal("paused subscription must keep auto-renew (gateway still retrying)")
	}
	if store.records[2].AutoRenew {
		t.Fatal("canceled subscription must not auto-renew")
	}
	if !store.records[1].Active || !store.records[2].Active {
		t.Fatal("paid-through subscriptions must be active until period end")
	}
	if store.records[3] != nil {
		t.Fatal("a lapsed canceled subscription grants nothing")
	}
	if run.Created != 2 || run.Skipped != 1 {
		t.Fatalf("unexpected counters: %+v", run)
	}
	if store.propagations[3] {
		t.Fatal("account without entitlement must propagate inactive")
	}
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	gw := &fakeGateway{subscriptions: map[string][]payjp.Subscription{
		"cus_1": {gatewaySub("sub_1", payjp.SubscriptionActive, testNow.AddDate(0, 1, 0), "plan_press_monthly", 980)},
	}}

	run, diffs, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileBackfill, true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if run.Created != 1 {
		t.Fatalf("dry run must still report the intended create: %+v", run)
	}
	if diffs[0].After == nil || diffs[0].After.PlanID != "press_monthly" {
		t.Fatalf("dry run must report the intended record: %+v", diffs[0])
	}
	if store.saves != 0 || len(store.propagations) != 0 {
		t.Fatal("dry run must not write")
	}
}

func TestBackfillUnclassifiableAmountCountsAsError(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_bad")
	store.addAccount(2, "cus_ok")
	gw := &fakeGateway{charges: map[string][]payjp.Charge{
		"cus_bad": {{ID: "ch_bad", Amount: 99999, Created: testNow.Unix(), Paid: true}},
		"cus_ok":  {{ID: "ch_ok", Amount: 7840, Created: testNow.Unix(), Paid: true}},
	}}

	run, _, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileBackfill, false)
	if err != nil {
		t.Fatalf("per-account failures must not fail the run: %v", err)
	}

	if run.Errors != 1 || run.Created != 1 {
		t.Fatalf("expected one error and one create: %+v", run)
	}
	if store.records[1] != nil {
		t.Fatal("unclassifiable account must get no record")
	}
	if store.records[2] == nil || store.records[2].PlanID != "press_10year" {
		t.Fatalf("healthy account must still be backfilled: %+v", store.records[2])
	}
}

func TestBackfillAccountWithoutCustomerCountsAsError(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	// A row that slipped through the billable filter with no gateway
	// customer reference must be counted, not dereferenced.
	store.accounts = append(store.accounts, models.Account{ID: 2, Email: "owner@example.com"})
	gw := &fakeGateway{subscriptions: map[string][]payjp.Subscription{
		"cus_1": {gatewaySub("sub_1", payjp.SubscriptionActive, testNow.AddDate(0, 1, 0), "plan_press_monthly", 980)},
	}}

	run, _, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileBackfill, false)
	if err != nil {
		t.Fatalf("per-account failures must not fail the run: %v", err)
	}

	if run.Errors != 1 || run.Created != 1 {
		t.Fatalf("expected one error and one create: %+v", run)
	}
	if store.records[2] != nil {
		t.Fatal("account without a customer reference must get no record")
	}
	if store.records[1] == nil {
		t.Fatal("healthy account must still be backfilled")
	}
}

func TestRepairReclassifiesStalePlan(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	chargeDate := testNow.AddDate(-1, 0, 0)
	wrongExpiry := testNow.AddDate(0, 3, 0)
	store.records[1] = &models.SubscriptionRecord{
		ID: 1, AccountID: 1, PlanID: "press_annual",
		GatewayReferenceID: "ch_1", ReferenceKind: models.RefOneTimeCharge,
		Active: true, ExpiresAt: wrongExpiry,
	}
	gw := &fakeGateway{charges: map[string][]payjp.Charge{
		"cus_1": {{ID: "ch_1", Amount: 3920, Created: chargeDate.Unix(), Paid: true}},
	}}

	run, diffs, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileRepair, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if run.Updated != 1 {
		t.Fatalf("expected one update: %+v", run)
	}
	if diffs[0].Action != models.DiffUpdate || diffs[0].Before.PlanID != "press_annual" {
		t.Fatalf("unexpected diff: %+v", diffs[0])
	}

	rec := store.records[1]
	if rec.PlanID != "legacy_5year" {
		t.Fatalf("expected reclassification to legacy_5year, got %s", rec.PlanID)
	}
	want := chargeDate.AddDate(0, 60, 0)
	if !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry recomputed from charge date, got %s want %s", rec.ExpiresAt, want)
	}
}

func TestRepairSkipsCorrectRecords(t *testing.T) {
	store := newFakeStore()
	store.addAccount(1, "cus_1")
	periodEnd := testNow.AddDate(0, 6, 0)
	store.records[1] = &models.SubscriptionRecord{
		ID: 1, AccountID: 1, PlanID: "press_annual",
		GatewayReferenceID: "sub_1", ReferenceKind: models.RefRecurringSubscription,
		Active: true, AutoRenew: true, ExpiresAt: periodEnd,
	}
	gw := &fakeGateway{subscriptions: map[string][]payjp.Subscription{
		"cus_1": {gatewaySub("sub_1", payjp.SubscriptionActive, periodEnd, "plan_press_annual", 9800)},
	}}

	run, diffs, err := newTestEngine(store, &fakeRunStore{}, gw).Run(context.Background(), models.ReconcileRepair, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if run.Updated != 0 || run.Skipped != 1 {
		t.Fatalf("correct record must be skipped: %+v", run)
	}
	if diffs[0].Action != models.DiffSkip {
		t.Fatalf("expected skip diff, got %+v", diffs[0])
	}
	if store.saves != 0 {
		t.Fatal("repair of a correct record must not write")
	}
}
