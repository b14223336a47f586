package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/auth"
	"github.com/hmos/marketplace/internal/dashboard"
	"github.com/hmos/marketplace/internal/handlers"
	"github.com/hmos/marketplace/internal/jobs"
	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/notify"
	"github.com/hmos/marketplace/internal/repository/memory"
	"github.com/hmos/marketplace/internal/services"
	"github.com/hmos/marketplace/internal/wallet"
)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type noNotes struct{}

func (noNotes) ListByUser(context.Context, uuid.UUID, int) ([]*models.Notification, error) {
	return nil, nil
}

func (noNotes) MarkRead(context.Context, uuid.UUID, uuid.UUID) error { return models.ErrNotFound }

type app struct {
	h      http.Handler
	tokens auth.Service
}

func newApp(t *testing.T, health func(context.Context) error) *app {
	t.Helper()
	st := memory.New()
	led := ledger.NewService(st)
	wallets := wallet.NewService(st, led, nil, "USD")
	notifier := notify.NewNotifier(notify.LogSink{})
	escrowSvc := services.NewEscrowService(st, wallets, notifier, models.DefaultCommissionRate)
	paymentSvc := services.NewPaymentService(st, wallets, notifier)
	tokens := auth.NewService("router-test-secret")

	h := New(Deps{
		Tokens:    tokens,
		Dashboard: dashboard.NewHandler(wallets, led, noNotes{}, nil),
		Escrows:   handlers.NewEscrowHandler(escrowSvc, nil),
		Jobs:      jobs.NewHandler(jobs.NewService(st, escrowSvc, notifier), nil),
		Payments:  handlers.NewPaymentHandler(paymentSvc, nil),
		Admin:     handlers.NewAdminHandler(services.NewDisputeService(escrowSvc), paymentSvc, led, nil),
		Health:    health,
	})
	return &app{h: h, tokens: tokens}
}

func (a *app) do(t *testing.T, method, path string, user uuid.UUID, role models.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		tok, err := a.tokens.IssueToken(user, role, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	a := newApp(t, nil)
	if rec := a.do(t, http.MethodGet, "/healthz", uuid.Nil, "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	down := newApp(t, func(context.Context) error { return errors.New("db gone") })
	if rec := down.do(t, http.MethodGet, "/healthz", uuid.Nil, "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	a := newApp(t, nil)
	for _, path := range []string{"/api/v1/wallet", "/api/v1/escrows", "/api/v1/jobs", "/api/v1/admin/reconcile"} {
		if rec := a.do(t, http.MethodGet, path, uuid.Nil, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	a := newApp(t, nil)
	user := uuid.New()
	if rec := a.do(t, http.MethodGet, "/api/v1/admin/disputes", user, models.RoleUser, ""); rec.Code != http.StatusForbidden {
		t.Errorf("user on admin route: expected 403, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/admin/disputes", uuid.New(), models.RoleAdmin, ""); rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
}

func TestDepositThenPurchaseEndToEnd(t *testing.T) {
	a := newApp(t, nil)
	buyer, seller, admin := uuid.New(), uuid.New(), uuid.New()

	rec := a.do(t, http.MethodPost, "/api/v1/payments/deposits", buyer, models.RoleUser,
		`{"method":"mpesa","amount":"200.00","destination":"+254700000000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var dep models.PaymentRequest
	_ = json.Unmarshal(rec.Body.Bytes(), &dep)

	rec = a.do(t, http.MethodPost, "/api/v1/admin/payments/"+dep.ID.String()+"/approve", admin, models.RoleAdmin, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve deposit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPost, "/api/v1/escrows", buyer, models.RoleUser,
		`{"seller_id":"`+seller.String()+`","reference_type":"product","reference_id":"`+uuid.NewString()+`","amount":"150.00","description":"Logo pack"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create escrow: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var e models.EscrowTransaction
	_ = json.Unmarshal(rec.Body.Bytes(), &e)
	base := "/api/v1/escrows/" + e.ID.String()

	if rec := a.do(t, http.MethodPost, base+"/work", seller, models.RoleUser, `{"text":"files uploaded"}`); rec.Code != http.StatusOK {
		t.Fatalf("submit work: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := a.do(t, http.MethodPost, base+"/approve", buyer, models.RoleUser, ""); rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodGet, "/api/v1/wallet", seller, models.RoleUser, "")
	var w struct {
		AvailableBalance decimal.Decimal `json:"available_balance"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &w)
	if !w.AvailableBalance.Equal(decimal.RequireFromString("135")) {
		t.Errorf("seller available = %s, want 135", w.AvailableBalance)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/admin/reconcile", admin, models.RoleAdmin, "")
	var rep struct {
		OK bool `json:"ok"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &rep)
	if !rep.OK {
		t.Errorf("reconcile reported drift: %s", rec.Body.String())
	}
}
