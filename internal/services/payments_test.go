package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hmos/marketplace/internal/models"
)

func TestDepositApproveCreditsAvailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()

	req, err := e.payments.RequestDeposit(ctx, PaymentParams{UserID: user, Method: models.MethodMpesa, Amount: dec("75.50"), Destination: "+254700000000"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.PaymentPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	e.assertBalances(t, user, "0", "0")

	if _, err := e.payments.Approve(ctx, models.Actor{UserID: user}, req.ID, ""); !errors.Is(err, models.ErrNotAuthorized) {
		t.Fatalf("self-approve: expected ErrNotAuthorized, got %v", err)
	}

	done, err := e.payments.Approve(ctx, admin, req.ID, "verified")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.PaymentCompleted || done.AdminID == nil || done.ProcessedAt == nil {
		t.Errorf("unexpected processed request %+v", done)
	}
	e.assertBalances(t, user, "75.5", "0")

	if _, err := e.payments.Approve(ctx, admin, req.ID, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("second approve: expected ErrInvalidTransition, got %v", err)
	}
	if len(e.sink.to(user)) != 1 {
		t.Errorf("expected one notification for the user, got %d", len(e.sink.to(user)))
	}
	e.assertReconciled(t)
}

func TestWithdrawalHoldsThenSettles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()
	e.fund(t, user, "100.00")

	req, err := e.payments.RequestWithdrawal(ctx, PaymentParams{UserID: user, Method: models.MethodPaypal, Amount: dec("60.00")})
	if err != nil {
		t.Fatal(err)
	}
	w, _ := e.st.Wallet(user)
	if !w.AvailableBalance.Equal(dec("40")) || !w.PendingBalance.Equal(dec("60")) {
		t.Fatalf("after request: available %s pending %s", w.AvailableBalance, w.PendingBalance)
	}

	if _, err := e.payments.Approve(ctx, admin, req.ID, ""); err != nil {
		t.Fatal(err)
	}
	w, _ = e.st.Wallet(user)
	if !w.AvailableBalance.Equal(dec("40")) || !w.PendingBalance.IsZero() {
		t.Fatalf("after approve: available %s pending %s", w.AvailableBalance, w.PendingBalance)
	}
	e.assertReconciled(t)
}

func TestWithdrawalRejectRestoresAvailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()
	e.fund(t, user, "100.00")

	req, err := e.payments.RequestWithdrawal(ctx, PaymentParams{UserID: user, Method: models.MethodAirtm, Amount: dec("100.00")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.payments.Reject(ctx, admin, req.ID, "destination unverified")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.PaymentFailed || got.AdminNotes != "destination unverified" {
		t.Errorf("unexpected rejected request %+v", got)
	}
	w, _ := e.st.Wallet(user)
	if !w.AvailableBalance.Equal(dec("100")) || !w.PendingBalance.IsZero() {
		t.Fatalf("available %s pending %s", w.AvailableBalance, w.PendingBalance)
	}
	e.assertReconciled(t)
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()
	e.fund(t, user, "10.00")

	_, err := e.payments.RequestWithdrawal(ctx, PaymentParams{UserID: user, Method: models.MethodBinance, Amount: dec("10.01")})
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	list, err := e.payments.ListForUser(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("failed withdrawal left %d requests", len(list))
	}
}

func TestPaymentValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := e.payments.RequestDeposit(ctx, PaymentParams{UserID: user, Method: "cheque", Amount: dec("5")}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("bad method: expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.payments.RequestDeposit(ctx, PaymentParams{UserID: user, Method: models.MethodMpesa, Amount: dec("-5")}); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
}

func TestListPendingIsAdminOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := e.payments.RequestDeposit(ctx, PaymentParams{UserID: user, Method: models.MethodMpesa, Amount: dec("5")}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.payments.ListPending(ctx, models.Actor{UserID: user}); !errors.Is(err, models.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	pending, err := e.payments.ListPending(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending request, got %d", len(pending))
	}
}
