// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// PayjpSecretKey authenticates against the PAY.JP API.
	PayjpSecretKey string

	// AdminAPIToken is the bearer token guarding the reconcile endpoints.
	// When empty the endpoints respond 403.
	AdminAPIToken string

	// ReconcileWorkers is the number of accounts a reconcile run processes
	// in parallel.
	ReconcileWorkers int

	// ReconcileRateLimit caps gateway API calls per second during reconcile
	// runs.
	ReconcileRateLimit float64

	// ReconcilePausedAutoRenew treats gateway-paused subscriptions as still
	// auto-renewing during backfill.
	ReconcilePausedAutoRenew bool

	// SummaryCacheTTL is how long the entitlement summary endpoint serves a
	// cached aggregate.
	SummaryCacheTTL time.Duration
}

const (
	defaultServerAddress      = ":18111"
	defaultReconcileWorkers   = 4
	defaultReconcileRateLimit = 10.0
	defaultSummaryCacheTTL    = time.Minute

	envServerAddress      = "BACKEND_ADDR"
	envDatabaseURL        = "DATABASE_URL"
	envPayjpSecretKey     = "PAYJP_SECRET_KEY"
	envAdminAPIToken      = "ADMIN_API_TOKEN"
	envReconcileWorkers   = "RECONCILE_WORKERS"
	envReconcileRateLimit = "RECONCILE_RATE_LIMIT"
	envPausedAutoRenew    = "RECONCILE_PAUSED_AUTO_RENEW"
	envSummaryCacheTTL    = "SUMMARY_CACHE_TTL"
)

// Load reads configuration from environment variables, applies defaults, and
// returns a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:            firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:              os.Getenv(envDatabaseURL),
		PayjpSecretKey:           os.Getenv(envPayjpSecretKey),
		AdminAPIToken:            os.Getenv(envAdminAPIToken),
		ReconcileWorkers:         defaultReconcileWorkers,
		ReconcileRateLimit:       defaultReconcileRateLimit,
		ReconcilePausedAutoRenew: true,
		SummaryCacheTTL:          defaultSummaryCacheTTL,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.PayjpSecretKey == "" {
		return Config{}, fmt.Errorf("%s is required", envPayjpSecretKey)
	}

	if raw := os.Getenv(envReconcileWorkers); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envReconcileWorkers, raw)
		}
		cfg.ReconcileWorkers = parsed
	}

	if raw := os.Getenv(envReconcileRateLimit); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envReconcileRateLimit, raw)
		}
		cfg.ReconcileRateLimit = parsed
	}

	if raw := os.Getenv(envPausedAutoRenew); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", envPausedAutoRenew, raw)
		}
		cfg.ReconcilePausedAutoRenew = parsed
	}

	if raw := os.Getenv(envSummaryCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envSummaryCacheTTL, raw)
		}
		cfg.SummaryCacheTTL = parsed
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
