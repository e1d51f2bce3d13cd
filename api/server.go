/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/contracts/*         Contracts, payments, amendments
  /api/payments/*          Slot top-ups
  /api/debtors/*           Debtor report, declare, sweep
  /api/managers/*          Balances and withdrawals
  /api/expenses/*          Expense reversal
  /api/pending-payments/*  Seller-submitted payments
  /api/rates/*             Exchange rate in use, publishing
  /api/scenarios/*         Demo data

SECURITY NOTE:
  No authentication middleware. X-Actor-ID / X-Actor-Role are trusted and
  must be set by the gateway.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Delete("/{id}", h.DeleteContract)
			r.Post("/{id}/approve", h.ApproveContract)
			r.Post("/{id}/payments", h.ReceivePayment)
			r.Post("/{id}/pay-all", h.PayAllRemainingMonths)
			r.Get("/{id}/amendment", h.PreviewAmendment)
			r.Put("/{id}/start-date", h.AmendStartDate)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/pay-remaining", h.PayRemaining)
		})

		// Debtor routes
		r.Route("/debtors", func(r chi.Router) {
			r.Get("/", h.DebtorReport)
			r.Post("/declare", h.DeclareDebtors)
			r.Post("/sweep", h.SweepDebtors)
		})

		// Balance routes
		r.Route("/managers", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/expenses", h.ListExpenses)
			r.Post("/{id}/withdrawals", h.Withdraw)
		})
		r.Post("/expenses/{id}/reverse", h.ReverseExpense)

		// Pending payment routes
		r.Route("/pending-payments", func(r chi.Router) {
			r.Get("/", h.ListPendingPayments)
			r.Post("/", h.SubmitPendingPayment)
			r.Post("/expire", h.ExpirePendingPayments)
			r.Post("/{id}/confirm", h.ConfirmPendingPayment)
			r.Post("/{id}/reject", h.RejectPendingPayment)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Get("/latest", h.GetLatestRate)
			r.Post("/", h.PublishRate)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
