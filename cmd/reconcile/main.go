// Command reconcile runs a backfill or repair pass from the command line,
// outside HTTP request timeouts. Intended for migration cutover and
// scheduled drift correction during low-traffic windows.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/pressfolio/backend/internal/config"
	"github.com/pressfolio/backend/internal/models"
	"github.com/pressfolio/backend/internal/payjp"
	"github.com/pressfolio/backend/internal/reconcile"
	"github.com/pressfolio/backend/internal/store"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "compute and print diffs without writing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-dry-run] backfill|repair\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	var kind models.ReconcileKind
	switch flag.Arg(0) {
	case "backfill":
		kind = models.ReconcileBackfill
	case "repair":
		kind = models.ReconcileRepair
	default:
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	runStore, err := store.NewReconcileStore(db)
	if err != nil {
		log.Fatalf("failed to create reconcile store: %v", err)
	}

	engine := reconcile.NewEngine(st, runStore, payjp.NewClient(cfg.PayjpSecretKey), reconcile.Config{
		Workers:           cfg.ReconcileWorkers,
		RequestsPerSecond: cfg.ReconcileRateLimit,
		PausedAutoRenew:   cfg.ReconcilePausedAutoRenew,
	})

	run, diffs, err := engine.Run(context.Background(), kind, *dryRun)
	if err != nil {
		log.Fatalf("%s run failed: %v", kind, err)
	}

	for _, diff := range diffs {
		switch diff.Action {
		case models.DiffCreate:
			fmt.Printf("account %d: create %s (expires %s)\n",
				diff.AccountID, diff.After.PlanID, diff.After.ExpiresAt.Format(time.RFC3339))
		case models.DiffUpdate:
			fmt.Printf("account %d: update %s -> %s\n",
				diff.AccountID, diff.Before.PlanID, diff.After.PlanID)
		case models.DiffNone:
			fmt.Printf("account %d: no gateway entitlement\n", diff.AccountID)
		}
	}

	fmt.Printf("run %d (%s, dry_run=%t): total=%d created=%d updated=%d skipped=%d errors=%d\n",
		run.ID, run.Kind, run.DryRun, run.AccountsTotal, run.Created, run.Updated, run.Skipped, run.Errors)

	if run.Errors > 0 {
		os.Exit(1)
	}
}
