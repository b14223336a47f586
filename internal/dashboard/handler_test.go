package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/middleware"
	"github.com/hmos/marketplace/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubWallets struct{ w *models.Wallet }

func (s stubWallets) Get(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w := *s.w
	w.UserID = userID
	return &w, nil
}

type stubHistory struct {
	gotLimit int
	entries  []*models.WalletTransaction
	err      error
}

func (s *stubHistory) History(_ context.Context, _ uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	s.gotLimit = limit
	return s.entries, s.err
}

type stubNotes struct {
	list   []*models.Notification
	marked uuid.UUID
}

func (s *stubNotes) ListByUser(context.Context, uuid.UUID, int) ([]*models.Notification, error) {
	return s.list, nil
}

func (s *stubNotes) MarkRead(_ context.Context, _, id uuid.UUID) error {
	s.marked = id
	return nil
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/wallet", h.GetWallet)
	r.Get("/wallet/transactions", h.ListTransactions)
	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{id}/read", h.MarkNotificationRead)
	return r
}

func get(h http.Handler, method, path string, as *models.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if as != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *as))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGetWalletIncludesTotal(t *testing.T) {
	w := &models.Wallet{
		Currency:         "USD",
		AvailableBalance: decimal.RequireFromString("10.50"),
		PendingBalance:   decimal.RequireFromString("2"),
		FrozenBalance:    decimal.RequireFromString("7.25"),
	}
	h := NewHandler(stubWallets{w}, &stubHistory{}, &stubNotes{}, nil)
	me := &models.Actor{UserID: uuid.New()}

	rec := get(newRouter(h), http.MethodGet, "/wallet", me)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body walletResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.UserID != me.UserID || !body.Total.Equal(decimal.RequireFromString("19.75")) {
		t.Errorf("unexpected wallet %+v", body)
	}

	if rec := get(newRouter(h), http.MethodGet, "/wallet", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", rec.Code)
	}
}

func TestListTransactionsLimit(t *testing.T) {
	hist := &stubHistory{}
	h := newRouter(NewHandler(stubWallets{&models.Wallet{}}, hist, &stubNotes{}, nil))
	me := &models.Actor{UserID: uuid.New()}

	rec := get(h, http.MethodGet, "/wallet/transactions?limit=20", me)
	if rec.Code != http.StatusOK || hist.gotLimit != 20 {
		t.Errorf("code %d limit %d", rec.Code, hist.gotLimit)
	}
	if rec.Body.String() != "[]\n" {
		t.Errorf("empty history should encode as [], got %q", rec.Body.String())
	}
	if rec := get(h, http.MethodGet, "/wallet/transactions?limit=-1", me); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", rec.Code)
	}

	hist.err = errors.New("db down")
	if rec := get(h, http.MethodGet, "/wallet/transactions", me); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure: expected 500, got %d", rec.Code)
	}
}

func TestNotifications(t *testing.T) {
	notes := &stubNotes{list: []*models.Notification{{ID: uuid.New(), Title: "Work submitted"}}}
	h := newRouter(NewHandler(stubWallets{&models.Wallet{}}, &stubHistory{}, notes, nil))
	me := &models.Actor{UserID: uuid.New()}

	rec := get(h, http.MethodGet, "/notifications", me)
	var list []models.Notification
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}

	rec = get(h, http.MethodPost, "/notifications/"+list[0].ID.String()+"/read", me)
	if rec.Code != http.StatusNoContent || notes.marked != list[0].ID {
		t.Errorf("mark read: code %d marked %s", rec.Code, notes.marked)
	}
}
