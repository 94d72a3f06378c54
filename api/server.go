/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/agreements/*     Agreement lifecycle, obligations, per-agreement runs
  /api/obligations/*    Per-obligation generation
  /api/payments/*       Payment records and status changes
  /api/alerts/*         Alert listing, acknowledge, snooze
  /api/organizations/*  Lead-time preferences
  /api/run, /api/runs   Full runs and run history
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins are the dashboard origins allowed when none are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins ...string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Agreement routes
		r.Route("/agreements", func(r chi.Router) {
			r.Get("/", h.ListAgreements)
			r.Post("/", h.ConfirmAgreement)
			r.Post("/extract", h.ExtractAgreement)
			r.Get("/{id}", h.GetAgreement)
			r.Post("/{id}/transition", h.TransitionAgreement)
			r.Post("/{id}/renew", h.RenewAgreement)
			r.Post("/{id}/rederive", h.RederiveObligations)
			r.Get("/{id}/obligations", h.ListObligations)
			r.Post("/{id}/generate", h.GenerateForAgreement)
			r.Post("/{id}/alerts", h.ScheduleAlerts)
		})

		// Obligation routes
		r.Post("/obligations/{id}/generate", h.GenerateForObligation)

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/sweep", h.SweepPayments)
			r.Post("/{id}/pay", h.PayPayment)
			r.Post("/{id}/overdue", h.MarkOverdue)
		})

		// Alert routes
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/{id}/acknowledge", h.AcknowledgeAlert)
			r.Post("/{id}/snooze", h.SnoozeAlert)
		})

		// Organization preferences
		r.Route("/organizations/{org}", func(r chi.Router) {
			r.Get("/lead-times", h.GetLeadTimes)
			r.Put("/lead-times", h.SetLeadTimes)
		})

		// Run routes
		r.Post("/run", h.TriggerRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/scheduler", h.GetScheduler)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
