package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/notify"
	"github.com/hmos/marketplace/internal/store"
	"github.com/hmos/marketplace/internal/wallet"
)

// EscrowService holds a buyer's frozen funds until the seller is paid, the
// buyer is refunded, or the escrow is cancelled. Every state change locks the
// escrow row, checks its status under the lock and moves money in the same
// transaction.
type EscrowService struct {
	Store    store.Store
	Wallets  *wallet.Service
	Notifier *notify.Notifier
	Rate     decimal.Decimal
	Now      func() time.Time
}

// NewEscrowService returns a new EscrowService.
func NewEscrowService(st store.Store, wallets *wallet.Service, notifier *notify.Notifier, rate decimal.Decimal) *EscrowService {
	return &EscrowService{
		Store:    st,
		Wallets:  wallets,
		Notifier: notifier,
		Rate:     rate,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenParams describes the escrow a buyer wants to fund.
type OpenParams struct {
	BuyerID       uuid.UUID
	SellerID      *uuid.UUID
	ReferenceType models.EscrowReference
	ReferenceID   uuid.UUID
	Amount        decimal.Decimal
	Description   string
}

// Open freezes the buyer's funds and records a new active escrow.
func (s *EscrowService) Open(ctx context.Context, p OpenParams) (*models.EscrowTransaction, error) {
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.OpenTx(ctx, tx, p)
		return err
	})
	return e, err
}

// OpenTx freezes the buyer's funds and records a new active escrow inside tx.
func (s *EscrowService) OpenTx(ctx context.Context, tx store.Tx, p OpenParams) (*models.EscrowTransaction, error) {
	if !p.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if !p.Amount.Equal(p.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", models.ErrInvalidAmount)
	}
	if !p.ReferenceType.Valid() {
		return nil, fmt.Errorf("%w: reference type %q", models.ErrInvalidInput, p.ReferenceType)
	}
	if p.SellerID != nil && *p.SellerID == p.BuyerID {
		return nil, fmt.Errorf("%w: buyer cannot be the seller", models.ErrNotAuthorized)
	}

	e := &models.EscrowTransaction{
		ID:            uuid.New(),
		BuyerID:       p.BuyerID,
		SellerID:      p.SellerID,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		Amount:        p.Amount,
		Commission:    models.Commission(p.Amount, s.Rate),
		Status:        models.EscrowActive,
	}
	ref := wallet.Ref{Type: buyerRefType(e, false), ID: e.ReferenceID, Description: p.Description}
	if ref.Description == "" {
		ref.Description = fmt.Sprintf("Funds frozen for %s %s", e.ReferenceType, e.ReferenceID)
	}
	if err := s.Wallets.Freeze(ctx, tx, e.BuyerID, e.Amount, ref); err != nil {
		return nil, err
	}
	if err := tx.Escrows().Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("insert escrow: %w", err)
	}
	return e, nil
}

// AssignSellerTx attaches the accepted seller to an active escrow that has none.
func (s *EscrowService) AssignSellerTx(ctx context.Context, tx store.Tx, escrowID, sellerID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := tx.Escrows().GetForUpdate(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EscrowActive {
		return nil, fmt.Errorf("%w: escrow is %s", models.ErrInvalidTransition, e.Status)
	}
	if e.SellerID != nil {
		return nil, fmt.Errorf("%w: seller already assigned", models.ErrInvalidTransition)
	}
	if sellerID == e.BuyerID {
		return nil, fmt.Errorf("%w: buyer cannot be the seller", models.ErrNotAuthorized)
	}
	e.SellerID = &sellerID
	if err := tx.Escrows().Update(ctx, e, e.Status); err != nil {
		return nil, err
	}
	return e, nil
}

// WorkSubmission is one delivery of work by the seller.
type WorkSubmission struct {
	Text   string
	Images []string
}

func (w WorkSubmission) empty() bool {
	return strings.TrimSpace(w.Text) == "" && len(w.Images) == 0
}

// SubmitWork records a new revision. The seller may submit again only after
// the buyer asks for a revision.
func (s *EscrowService) SubmitWork(ctx context.Context, escrowID, sellerID uuid.UUID, work WorkSubmission) (*models.EscrowTransaction, error) {
	if work.empty() {
		return nil, fmt.Errorf("%w: submission needs text or images", models.ErrInvalidInput)
	}
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = tx.Escrows().GetForUpdate(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.SellerID == nil || *e.SellerID != sellerID {
			return models.ErrNotAuthorized
		}
		if e.Status != models.EscrowActive {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidTransition, e.Status)
		}
		if e.WorkSubmitted {
			return fmt.Errorf("%w: revision %d is still awaiting review", models.ErrInvalidTransition, e.RevisionCount+1)
		}

		rev := &models.WorkRevision{
			ID:                  uuid.New(),
			EscrowTransactionID: e.ID,
			SellerID:            sellerID,
			RevisionNumber:      e.RevisionCount + 1,
			SubmittedText:       work.Text,
			SubmittedImages:     work.Images,
			Status:              models.RevisionPending,
		}
		if err := tx.Revisions().Insert(ctx, rev); err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}

		now := s.Now()
		e.WorkSubmitted = true
		e.WorkText = work.Text
		e.WorkImages = work.Images
		e.WorkSubmittedAt = &now
		if err := tx.Escrows().Update(ctx, e, e.Status); err != nil {
			return err
		}

		s.Notifier.AfterCommit(tx, notify.Event{
			UserID:        e.BuyerID,
			Type:          models.NotifyTransaction,
			Title:         "Work submitted",
			Message:       fmt.Sprintf("Revision %d is ready for review.", rev.RevisionNumber),
			ReferenceType: "escrow",
			ReferenceID:   e.ID,
		})
		return nil
	})
	return e, err
}

// RequestRevision sends submitted work back to the seller with feedback.
func (s *EscrowService) RequestRevision(ctx context.Context, escrowID, buyerID uuid.UUID, feedback string) (*models.EscrowTransaction, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, fmt.Errorf("%w: feedback is required", models.ErrInvalidInput)
	}
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.lockForSettlement(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if e.BuyerID != buyerID {
			return models.ErrNotAuthorized
		}
		if e.Status != models.EscrowActive {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidTransition, e.Status)
		}
		if !e.WorkSubmitted {
			return models.ErrWorkNotSubmitted
		}

		if err := s.reviewLatest(ctx, tx, e.ID, models.RevisionRequested, feedback); err != nil {
			return err
		}
		e.WorkSubmitted = false
		e.RevisionCount++
		e.BuyerFeedback = feedback
		if err := tx.Escrows().Update(ctx, e, e.Status); err != nil {
			return err
		}

		s.Notifier.AfterCommit(tx, notify.Event{
			UserID:        derefID(e.SellerID),
			Type:          models.NotifyTransaction,
			Title:         "Revision requested",
			Message:       feedback,
			ReferenceType: "escrow",
			ReferenceID:   e.ID,
		})
		return nil
	})
	return e, err
}

// Approve pays the seller: the buyer's frozen amount is extinguished and the
// seller is credited the amount minus commission.
func (s *EscrowService) Approve(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.EscrowTransaction, error) {
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.lockForSettlement(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if e.BuyerID != buyerID {
			return models.ErrNotAuthorized
		}
		if e.Status != models.EscrowActive {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidTransition, e.Status)
		}
		if !e.WorkSubmitted {
			return models.ErrWorkNotSubmitted
		}
		if err := s.reviewLatest(ctx, tx, e.ID, models.RevisionApproved, ""); err != nil {
			return err
		}
		if err := s.payout(ctx, tx, e); err != nil {
			return err
		}
		now := s.Now()
		e.CompletedAt = &now
		if err := s.transition(ctx, tx, e, models.EscrowCompleted); err != nil {
			return err
		}
		if err := s.syncJob(ctx, tx, e, models.JobCompleted); err != nil {
			return err
		}

		s.Notifier.AfterCommit(tx, notify.Event{
			UserID:        derefID(e.SellerID),
			Type:          models.NotifyTransaction,
			Title:         "Work approved",
			Message:       fmt.Sprintf("%s has been released to your wallet.", e.Payout().StringFixed(2)),
			ReferenceType: "escrow",
			ReferenceID:   e.ID,
		})
		return nil
	})
	return e, err
}

// FileDispute freezes the escrow's workflow until an admin decides.
func (s *EscrowService) FileDispute(ctx context.Context, escrowID, userID uuid.UUID, reason string) (*models.EscrowTransaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", models.ErrInvalidInput)
	}
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.lockForSettlement(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		party, ok := e.PartyOf(userID)
		if !ok {
			return models.ErrNotAuthorized
		}
		if err := s.checkTransition(e, models.EscrowDisputed); err != nil {
			return err
		}
		now := s.Now()
		e.DisputeReason = reason
		e.DisputeFiledBy = party
		e.DisputedAt = &now
		if err := s.transition(ctx, tx, e, models.EscrowDisputed); err != nil {
			return err
		}

		other := e.BuyerID
		if party == models.PartyBuyer {
			other = derefID(e.SellerID)
		}
		s.Notifier.AfterCommit(tx, notify.Event{
			UserID:        other,
			Type:          models.NotifyDispute,
			Title:         "Dispute filed",
			Message:       reason,
			ReferenceType: "escrow",
			ReferenceID:   e.ID,
		})
		return nil
	})
	return e, err
}

// ResolveDispute settles a disputed escrow. Only admins may call it.
func (s *EscrowService) ResolveDispute(ctx context.Context, actor models.Actor, escrowID uuid.UUID, outcome models.DisputeOutcome, notes string) (*models.EscrowTransaction, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: outcome %q", models.ErrInvalidInput, outcome)
	}
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.lockForSettlement(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if e.Status != models.EscrowDisputed {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidTransition, e.Status)
		}

		now := s.Now()
		adminID := actor.UserID
		e.AdminNotes = notes
		e.ResolvedBy = &adminID
		e.ResolvedAt = &now

		var next models.EscrowStatus
		var job models.JobStatus
		switch outcome {
		case models.OutcomeRefundBuyer:
			ref := wallet.Ref{Type: models.RefRefund, ID: e.ReferenceID, Description: "Dispute resolved: refund to buyer"}
			if err := s.Wallets.Release(ctx, tx, e.BuyerID, e.Amount, ref); err != nil {
				return err
			}
			next, job = models.EscrowRefunded, models.JobCancelled
		case models.OutcomePayoutSeller:
			if err := s.payout(ctx, tx, e); err != nil {
				return err
			}
			e.CompletedAt = &now
			next, job = models.EscrowCompleted, models.JobCompleted
		}
		if err := s.transition(ctx, tx, e, next); err != nil {
			return err
		}
		if err := s.syncJob(ctx, tx, e, job); err != nil {
			return err
		}

		msg := fmt.Sprintf("The dispute was resolved: %s.", outcome)
		s.Notifier.AfterCommit(tx,
			notify.Event{UserID: e.BuyerID, Type: models.NotifyDispute, Title: "Dispute resolved", Message: msg, ReferenceType: "escrow", ReferenceID: e.ID},
			notify.Event{UserID: derefID(e.SellerID), Type: models.NotifyDispute, Title: "Dispute resolved", Message: msg, ReferenceType: "escrow", ReferenceID: e.ID},
		)
		return nil
	})
	return e, err
}

// Cancel runs CancelTx in its own transaction.
func (s *EscrowService) Cancel(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.EscrowTransaction, error) {
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = s.CancelTx(ctx, tx, escrowID, buyerID)
		return err
	})
	return e, err
}

// CancelTx returns the frozen funds to the buyer. Only escrows that never got
// a seller can be cancelled; once a seller is attached the buyer must dispute.
func (s *EscrowService) CancelTx(ctx context.Context, tx store.Tx, escrowID, buyerID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := s.lockForSettlement(ctx, tx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.BuyerID != buyerID {
		return nil, models.ErrNotAuthorized
	}
	if err := s.checkTransition(e, models.EscrowCancelled); err != nil {
		return nil, err
	}
	if e.SellerID != nil {
		return nil, fmt.Errorf("%w: a seller is already assigned", models.ErrInvalidTransition)
	}
	refType := models.RefRefund
	if e.ReferenceType == models.EscrowRefJob {
		refType = models.RefCancel
	}
	ref := wallet.Ref{Type: refType, ID: e.ReferenceID, Description: "Escrow cancelled: funds returned"}
	if err := s.Wallets.Release(ctx, tx, e.BuyerID, e.Amount, ref); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, tx, e, models.EscrowCancelled); err != nil {
		return nil, err
	}
	if err := s.syncJob(ctx, tx, e, models.JobCancelled); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the escrow if actor is a party to it or an admin.
func (s *EscrowService) Get(ctx context.Context, actor models.Actor, escrowID uuid.UUID) (*models.EscrowTransaction, error) {
	var e *models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = tx.Escrows().Get(ctx, escrowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if _, ok := e.PartyOf(actor.UserID); !ok && !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	return e, nil
}

// ListForUser returns the escrows in which userID is buyer or seller.
func (s *EscrowService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.EscrowTransaction, error) {
	var out []*models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Escrows().ListByUser(ctx, userID)
		return err
	})
	return out, err
}

// ListByStatus returns every escrow in the given status.
func (s *EscrowService) ListByStatus(ctx context.Context, status models.EscrowStatus) ([]*models.EscrowTransaction, error) {
	var out []*models.EscrowTransaction
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Escrows().ListByStatus(ctx, status)
		return err
	})
	return out, err
}

// ListRevisions returns the escrow's revisions to its parties and admins.
func (s *EscrowService) ListRevisions(ctx context.Context, actor models.Actor, escrowID uuid.UUID) ([]*models.WorkRevision, error) {
	if _, err := s.Get(ctx, actor, escrowID); err != nil {
		return nil, err
	}
	var out []*models.WorkRevision
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Revisions().ListByEscrow(ctx, escrowID)
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------

// lockForSettlement locks the escrow row for an operation that may also
// update its job posting. Job rows are always locked before escrow rows, the
// same order AcceptBid and CancelJob use.
func (s *EscrowService) lockForSettlement(ctx context.Context, tx store.Tx, escrowID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := tx.Escrows().Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.ReferenceType == models.EscrowRefJob {
		if _, err := tx.Jobs().GetForUpdate(ctx, e.ReferenceID); err != nil {
			return nil, fmt.Errorf("lock job for escrow %s: %w", e.ID, err)
		}
	}
	return tx.Escrows().GetForUpdate(ctx, escrowID)
}

// payout extinguishes the buyer's frozen amount and credits the seller.
// Both wallets are locked in deterministic order first.
func (s *EscrowService) payout(ctx context.Context, tx store.Tx, e *models.EscrowTransaction) error {
	if e.SellerID == nil {
		return fmt.Errorf("%w: no seller assigned", models.ErrInvalidTransition)
	}
	seller := *e.SellerID
	if err := s.Wallets.Lock(ctx, tx, e.BuyerID, seller); err != nil {
		return err
	}
	buyerRef := wallet.Ref{Type: buyerRefType(e, true), ID: e.ReferenceID, Description: "Escrow released to seller"}
	if err := s.Wallets.Extinguish(ctx, tx, e.BuyerID, e.Amount, buyerRef); err != nil {
		return err
	}
	sellerRef := wallet.Ref{Type: sellerRefType(e), ID: e.ReferenceID, Description: fmt.Sprintf("Payout after %s commission", e.Commission.StringFixed(2))}
	if payout := e.Payout(); payout.IsPositive() {
		return s.Wallets.Credit(ctx, tx, seller, payout, sellerRef)
	}
	return nil
}

func (s *EscrowService) checkTransition(e *models.EscrowTransaction, next models.EscrowStatus) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, e.Status, next)
	}
	return nil
}

func (s *EscrowService) transition(ctx context.Context, tx store.Tx, e *models.EscrowTransaction, next models.EscrowStatus) error {
	if err := s.checkTransition(e, next); err != nil {
		return err
	}
	prev := e.Status
	e.Status = next
	return tx.Escrows().Update(ctx, e, prev)
}

func (s *EscrowService) reviewLatest(ctx context.Context, tx store.Tx, escrowID uuid.UUID, status models.RevisionStatus, feedback string) error {
	rev, err := tx.Revisions().Latest(ctx, escrowID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := s.Now()
	rev.Status = status
	rev.BuyerFeedback = feedback
	rev.ReviewedAt = &now
	return tx.Revisions().Update(ctx, rev)
}

// syncJob keeps a job posting's status in step with its escrow. Cancelling a
// job also rejects its pending bids.
func (s *EscrowService) syncJob(ctx context.Context, tx store.Tx, e *models.EscrowTransaction, next models.JobStatus) error {
	if e.ReferenceType != models.EscrowRefJob {
		return nil
	}
	j, err := tx.Jobs().GetForUpdate(ctx, e.ReferenceID)
	if err != nil {
		return fmt.Errorf("load job for escrow %s: %w", e.ID, err)
	}
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: job %s -> %s", models.ErrInvalidTransition, j.Status, next)
	}
	prev := j.Status
	j.Status = next
	if err := tx.Jobs().Update(ctx, j, prev); err != nil {
		return err
	}
	if next == models.JobCancelled {
		if _, err := tx.Bids().RejectPending(ctx, j.ID, uuid.Nil); err != nil {
			return err
		}
	}
	return nil
}

func buyerRefType(e *models.EscrowTransaction, completion bool) models.ReferenceType {
	if e.ReferenceType == models.EscrowRefJob {
		if completion {
			return models.RefJobCompletion
		}
		return models.RefJobPost
	}
	return models.RefPurchase
}

func sellerRefType(e *models.EscrowTransaction) models.ReferenceType {
	if e.ReferenceType == models.EscrowRefJob {
		return models.RefJobCompletion
	}
	return models.RefSale
}

func derefID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
