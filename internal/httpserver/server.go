// Package httpserver wires the routers, middleware, and handlers into a
// runnable HTTP server.
package httpserver

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pressfolio/backend/internal/config"
	"github.com/pressfolio/backend/internal/handlers"
	requesttracking "github.com/pressfolio/backend/internal/middleware"
)

// BillingBackend is the full billing surface the routes depend on.
type BillingBackend interface {
	handlers.BillingService
	handlers.WebhookApplier
}

// ReadBackend is the query surface the read-only routes depend on.
type ReadBackend interface {
	handlers.RecordGetter
	handlers.SummaryStore
	handlers.CompanyLister
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
}

// New constructs an HTTP server using the provided configuration and
// backends. db may be nil in tests, which disables request tracking.
func New(cfg config.Config, db *sql.DB, billing BillingBackend, reads ReadBackend, engine handlers.Reconciler, runs handlers.RunLister) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if db != nil {
		requestTracker, err := requesttracking.NewRequestTracker(db)
		if err != nil {
			log.Printf("[server] request tracking disabled: %v", err)
		} else {
			router.Use(requestTracker.Middleware())
		}
	}

	router.Get("/healthz", handlers.Health)
	router.Get("/api/plans", handlers.Plans())

	// Billing endpoints
	router.Post("/api/billing/subscribe", handlers.Subscribe(billing))
	router.Post("/api/billing/cancel", handlers.CancelSubscription(billing))
	router.Get("/api/billing/subscription", handlers.GetSubscription(reads))
	router.Get("/api/billing/summary", handlers.Summary(reads, cfg.SummaryCacheTTL))
	router.Get("/api/companies", handlers.Companies(reads))

	// Gateway webhook delivery endpoint
	router.Post("/api/webhooks/payjp", handlers.Webhook(billing))

	// Operator-only reconcile endpoints
	router.Group(func(r chi.Router) {
		r.Use(requesttracking.AdminAuth(cfg.AdminAPIToken))
		handlers.NewReconcileHandler(engine, runs).RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
