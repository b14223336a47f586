package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/services"
)

type PaymentDesk interface {
	RequestDeposit(ctx context.Context, p services.PaymentParams) (*models.PaymentRequest, error)
	RequestWithdrawal(ctx context.Context, p services.PaymentParams) (*models.PaymentRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRequest, error)
}

// PaymentHandler serves the user-facing /payments endpoints.
type PaymentHandler struct {
	Payments PaymentDesk
	Logger   *slog.Logger
}

func NewPaymentHandler(payments PaymentDesk, log *slog.Logger) *PaymentHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentHandler{Payments: payments, Logger: log}
}

type paymentRequest struct {
	Method      string          `json:"method" validate:"required,oneof=mpesa binance paypal airtm"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"max=255"`
}

// --- POST /payments/deposits ---

func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "request deposit", h.Payments.RequestDeposit)
}

// --- POST /payments/withdrawals ---

func (h *PaymentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "request withdrawal", h.Payments.RequestWithdrawal)
}

func (h *PaymentHandler) create(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, services.PaymentParams) (*models.PaymentRequest, error)) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	out, err := fn(r.Context(), services.PaymentParams{
		UserID:      actor.UserID,
		Method:      models.PaymentMethod(req.Method),
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	WriteJSON(w, http.StatusCreated, out)
}

// --- GET /payments ---

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	list, err := h.Payments.ListForUser(r.Context(), actor.UserID)
	if err != nil {
		WriteError(w, h.Logger, "list payments", err)
		return
	}
	if list == nil {
		list = []*models.PaymentRequest{}
	}
	WriteJSON(w, http.StatusOK, list)
}
