package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/notify"
	"github.com/hmos/marketplace/internal/store"
	"github.com/hmos/marketplace/internal/wallet"
)

// PaymentService handles deposits and withdrawals, the only way money enters
// or leaves the platform. Both need an admin decision; a withdrawal parks the
// funds in pending until then.
type PaymentService struct {
	Store    store.Store
	Wallets  *wallet.Service
	Notifier *notify.Notifier
	Now      func() time.Time
}

func NewPaymentService(st store.Store, wallets *wallet.Service, notifier *notify.Notifier) *PaymentService {
	return &PaymentService{
		Store:    st,
		Wallets:  wallets,
		Notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

type PaymentParams struct {
	UserID      uuid.UUID
	Method      models.PaymentMethod
	Amount      decimal.Decimal
	Destination string
}

func (p PaymentParams) validate() error {
	if !p.Amount.IsPositive() || !p.Amount.Equal(p.Amount.Round(2)) {
		return models.ErrInvalidAmount
	}
	if !p.Method.Valid() {
		return fmt.Errorf("%w: payment method %q", models.ErrInvalidInput, p.Method)
	}
	return nil
}

func (s *PaymentService) RequestDeposit(ctx context.Context, p PaymentParams) (*models.PaymentRequest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	req := newPaymentRequest(models.PaymentDeposit, p)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Payments().Insert(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("insert deposit request: %w", err)
	}
	return req, nil
}

func (s *PaymentService) RequestWithdrawal(ctx context.Context, p PaymentParams) (*models.PaymentRequest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	req := newPaymentRequest(models.PaymentWithdraw, p)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ref := wallet.Ref{Type: models.RefWithdraw, ID: req.ID, Description: fmt.Sprintf("Withdrawal via %s pending approval", p.Method)}
		if err := s.Wallets.Hold(ctx, tx, p.UserID, p.Amount, ref); err != nil {
			return err
		}
		return tx.Payments().Insert(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Approve completes a pending request: a deposit credits available, a
// withdrawal pays the held amount out of pending.
func (s *PaymentService) Approve(ctx context.Context, actor models.Actor, requestID uuid.UUID, notes string) (*models.PaymentRequest, error) {
	return s.process(ctx, actor, requestID, notes, models.PaymentCompleted)
}

// Reject fails a pending request; a held withdrawal goes back to available.
func (s *PaymentService) Reject(ctx context.Context, actor models.Actor, requestID uuid.UUID, notes string) (*models.PaymentRequest, error) {
	return s.process(ctx, actor, requestID, notes, models.PaymentFailed)
}

func (s *PaymentService) process(ctx context.Context, actor models.Actor, requestID uuid.UUID, notes string, next models.PaymentStatus) (*models.PaymentRequest, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	var req *models.PaymentRequest
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.Payments().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.PaymentPending {
			return fmt.Errorf("%w: payment request is %s", models.ErrInvalidTransition, req.Status)
		}

		ref := wallet.Ref{ID: req.ID}
		switch {
		case req.Kind == models.PaymentDeposit && next == models.PaymentCompleted:
			ref.Type, ref.Description = models.RefDeposit, fmt.Sprintf("Deposit via %s", req.Method)
			err = s.Wallets.Credit(ctx, tx, req.UserID, req.Amount, ref)
		case req.Kind == models.PaymentWithdraw && next == models.PaymentCompleted:
			ref.Type, ref.Description = models.RefWithdraw, fmt.Sprintf("Withdrawal via %s", req.Method)
			err = s.Wallets.Settle(ctx, tx, req.UserID, req.Amount, ref)
		case req.Kind == models.PaymentWithdraw && next == models.PaymentFailed:
			ref.Type, ref.Description = models.RefWithdraw, "Withdrawal rejected: funds returned"
			err = s.Wallets.Unhold(ctx, tx, req.UserID, req.Amount, ref)
		}
		if err != nil {
			return err
		}

		now := s.Now()
		adminID := actor.UserID
		req.Status = next
		req.AdminID = &adminID
		req.AdminNotes = notes
		req.ProcessedAt = &now
		if err := tx.Payments().Update(ctx, req, models.PaymentPending); err != nil {
			return err
		}

		verb := "approved"
		if next == models.PaymentFailed {
			verb = "rejected"
		}
		s.Notifier.AfterCommit(tx, notify.Event{
			UserID:        req.UserID,
			Type:          models.NotifyTransaction,
			Title:         fmt.Sprintf("%s %s", kindTitle(req.Kind), verb),
			Message:       fmt.Sprintf("Your %s of %s was %s.", req.Kind, req.Amount.StringFixed(2), verb),
			ReferenceType: "payment_request",
			ReferenceID:   req.ID,
		})
		return nil
	})
	return req, err
}

func (s *PaymentService) ListPending(ctx context.Context, actor models.Actor) ([]*models.PaymentRequest, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	var out []*models.PaymentRequest
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Payments().ListByStatus(ctx, models.PaymentPending)
		return err
	})
	return out, err
}

func (s *PaymentService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRequest, error) {
	var out []*models.PaymentRequest
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Payments().ListByUser(ctx, userID)
		return err
	})
	return out, err
}

func newPaymentRequest(kind models.PaymentKind, p PaymentParams) *models.PaymentRequest {
	return &models.PaymentRequest{
		ID:          uuid.New(),
		UserID:      p.UserID,
		Kind:        kind,
		Method:      p.Method,
		Amount:      p.Amount,
		Status:      models.PaymentPending,
		Destination: p.Destination,
	}
}

func kindTitle(k models.PaymentKind) string {
	if k == models.PaymentDeposit {
		return "Deposit"
	}
	return "Withdrawal"
}
