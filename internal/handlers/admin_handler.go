package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/models"
)

type DisputeResolver interface {
	ListDisputed(ctx context.Context, actor models.Actor) ([]*models.EscrowTransaction, error)
	Resolve(ctx context.Context, actor models.Actor, escrowID uuid.UUID, outcome models.DisputeOutcome, notes string) (*models.EscrowTransaction, error)
}

type PaymentAdmin interface {
	ListPending(ctx context.Context, actor models.Actor) ([]*models.PaymentRequest, error)
	Approve(ctx context.Context, actor models.Actor, requestID uuid.UUID, notes string) (*models.PaymentRequest, error)
	Reject(ctx context.Context, actor models.Actor, requestID uuid.UUID, notes string) (*models.PaymentRequest, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (*ledger.Report, error)
}

// AdminHandler serves /admin endpoints. The router puts it behind
// RequireAdmin; the services check the role again.
type AdminHandler struct {
	Disputes   DisputeResolver
	Payments   PaymentAdmin
	Reconciler Reconciler
	Logger     *slog.Logger
}

func NewAdminHandler(disputes DisputeResolver, payments PaymentAdmin, rec Reconciler, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{Disputes: disputes, Payments: payments, Reconciler: rec, Logger: log}
}

// --- GET /admin/disputes ---

func (h *AdminHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	list, err := h.Disputes.ListDisputed(r.Context(), actor)
	if err != nil {
		WriteError(w, h.Logger, "list disputes", err)
		return
	}
	if list == nil {
		list = []*models.EscrowTransaction{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// --- POST /admin/disputes/{id}/resolve ---

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=refund_buyer payout_seller"`
	Notes   string `json:"notes" validate:"max=5000"`
}

func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	id, err := URLParamUUID(r, "id")
	if err != nil {
		WriteError(w, h.Logger, "resolve dispute", err)
		return
	}
	var req resolveRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, h.Logger, "resolve dispute", err)
		return
	}
	e, err := h.Disputes.Resolve(r.Context(), actor, id, models.DisputeOutcome(req.Outcome), req.Notes)
	if err != nil {
		WriteError(w, h.Logger, "resolve dispute", err)
		return
	}
	h.Logger.Info("dispute resolved", "escrow_id", id, "outcome", req.Outcome, "admin_id", actor.UserID)
	WriteJSON(w, http.StatusOK, e)
}

// --- GET /admin/payments ---

func (h *AdminHandler) ListPendingPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	list, err := h.Payments.ListPending(r.Context(), actor)
	if err != nil {
		WriteError(w, h.Logger, "list payments", err)
		return
	}
	if list == nil {
		list = []*models.PaymentRequest{}
	}
	WriteJSON(w, http.StatusOK, list)
}

type decisionRequest struct {
	Notes string `json:"notes" validate:"max=5000"`
}

// --- POST /admin/payments/{id}/approve ---

func (h *AdminHandler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "approve payment", h.Payments.Approve)
}

// --- POST /admin/payments/{id}/reject ---

func (h *AdminHandler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject payment", h.Payments.Reject)
}

func (h *AdminHandler) decide(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, models.Actor, uuid.UUID, string) (*models.PaymentRequest, error)) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	id, err := URLParamUUID(r, "id")
	if err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			WriteError(w, h.Logger, op, err)
			return
		}
	}
	out, err := fn(r.Context(), actor, id, req.Notes)
	if err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// --- GET /admin/reconcile ---

type reconcileResponse struct {
	OK         bool              `json:"ok"`
	Wallets    int               `json:"wallets"`
	Entries    int               `json:"entries"`
	Mismatches []ledger.Mismatch `json:"mismatches"`
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := Actor(w, r); !ok {
		return
	}
	report, err := h.Reconciler.Reconcile(r.Context())
	if err != nil {
		WriteError(w, h.Logger, "reconcile", err)
		return
	}
	if !report.OK() {
		h.Logger.Warn("ledger drift detected", "mismatches", len(report.Mismatches))
	}
	resp := reconcileResponse{OK: report.OK(), Wallets: report.Wallets, Entries: report.Entries, Mismatches: report.Mismatches}
	if resp.Mismatches == nil {
		resp.Mismatches = []ledger.Mismatch{}
	}
	WriteJSON(w, http.StatusOK, resp)
}
