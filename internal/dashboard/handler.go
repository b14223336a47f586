// Package dashboard serves the caller's own wallet view.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/handlers"
	"github.com/hmos/marketplace/internal/models"
)

type WalletReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type HistoryReader interface {
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
}

type NotificationStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

type Handler struct {
	wallets WalletReader
	history HistoryReader
	notes   NotificationStore
	log     *slog.Logger
}

func NewHandler(wallets WalletReader, history HistoryReader, notes NotificationStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{wallets: wallets, history: history, notes: notes, log: log}
}

type walletResponse struct {
	UserID           uuid.UUID       `json:"user_id"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	FrozenBalance    decimal.Decimal `json:"frozen_balance"`
	Total            decimal.Decimal `json:"total"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// GET /wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	wal, err := h.wallets.Get(r.Context(), actor.UserID)
	if err != nil {
		handlers.WriteError(w, h.log, "get wallet", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, walletResponse{
		UserID:           wal.UserID,
		Currency:         wal.Currency,
		AvailableBalance: wal.AvailableBalance,
		PendingBalance:   wal.PendingBalance,
		FrozenBalance:    wal.FrozenBalance,
		Total:            wal.AvailableBalance.Add(wal.PendingBalance).Add(wal.FrozenBalance),
		UpdatedAt:        wal.UpdatedAt,
	})
}

// GET /wallet/transactions?limit=N
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	entries, err := h.history.History(r.Context(), actor.UserID, limit)
	if err != nil {
		handlers.WriteError(w, h.log, "list wallet transactions", err)
		return
	}
	if entries == nil {
		entries = []*models.WalletTransaction{}
	}
	handlers.WriteJSON(w, http.StatusOK, entries)
}

// GET /notifications?limit=N
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}
	if limit > 200 {
		limit = 200
	}
	list, err := h.notes.ListByUser(r.Context(), actor.UserID, limit)
	if err != nil {
		handlers.WriteError(w, h.log, "list notifications", err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

// POST /notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "mark notification read", err)
		return
	}
	if err := h.notes.MarkRead(r.Context(), actor.UserID, id); err != nil {
		handlers.WriteError(w, h.log, "mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		handlers.WriteJSON(w, http.StatusBadRequest, handlers.ErrorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}
