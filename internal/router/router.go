// Package router mounts every HTTP handler under /api/v1.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hmos/marketplace/internal/dashboard"
	"github.com/hmos/marketplace/internal/handlers"
	"github.com/hmos/marketplace/internal/jobs"
	"github.com/hmos/marketplace/internal/middleware"
)

// Deps holds everything the router mounts. Health may be nil.
type Deps struct {
	Tokens    middleware.TokenValidator
	Dashboard *dashboard.Handler
	Escrows   *handlers.EscrowHandler
	Jobs      *jobs.Handler
	Payments  *handlers.PaymentHandler
	Admin     *handlers.AdminHandler
	Health    func(ctx context.Context) error
	Logger    *slog.Logger
}

func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz(d.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.Authenticate(d.Tokens))

		r.Get("/wallet", d.Dashboard.GetWallet)
		r.Get("/wallet/transactions", d.Dashboard.ListTransactions)
		r.Get("/notifications", d.Dashboard.ListNotifications)
		r.Post("/notifications/{id}/read", d.Dashboard.MarkNotificationRead)

		r.Route("/escrows", func(r chi.Router) {
			r.Post("/", d.Escrows.Create)
			r.Get("/", d.Escrows.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", d.Escrows.Get)
				r.Get("/revisions", d.Escrows.ListRevisions)
				r.Post("/work", d.Escrows.SubmitWork)
				r.Post("/revision", d.Escrows.RequestRevision)
				r.Post("/approve", d.Escrows.Approve)
				r.Post("/dispute", d.Escrows.FileDispute)
				r.Post("/cancel", d.Escrows.Cancel)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", d.Jobs.CreateJob)
			r.Get("/", d.Jobs.ListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", d.Jobs.GetJob)
				r.Post("/bids", d.Jobs.PlaceBid)
				r.Get("/bids", d.Jobs.ListBids)
				r.Post("/bids/{bidID}/accept", d.Jobs.AcceptBid)
				r.Post("/work", d.Jobs.SubmitWork)
				r.Post("/approve", d.Jobs.ApproveWork)
				r.Post("/cancel", d.Jobs.CancelJob)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", d.Payments.List)
			r.Post("/deposits", d.Payments.Deposit)
			r.Post("/withdrawals", d.Payments.Withdraw)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/disputes", d.Admin.ListDisputes)
			r.Post("/disputes/{id}/resolve", d.Admin.ResolveDispute)
			r.Get("/payments", d.Admin.ListPendingPayments)
			r.Post("/payments/{id}/approve", d.Admin.ApprovePayment)
			r.Post("/payments/{id}/reject", d.Admin.RejectPayment)
			r.Get("/reconcile", d.Admin.Reconcile)
		})
	})
	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
