package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/notify"
	"github.com/hmos/marketplace/internal/services"
	"github.com/hmos/marketplace/internal/store"
)

// PostJobInput carries a buyer's new job posting.
type PostJobInput struct {
	BuyerID     uuid.UUID
	Title       string
	Description string
	Category    string
	Budget      decimal.Decimal
	MaxBids     int
}

// BidInput carries a seller's bid on an open job.
type BidInput struct {
	JobID    uuid.UUID
	SellerID uuid.UUID
	Amount   decimal.Decimal
	Proposal string
}

type Service interface {
	PostJob(ctx context.Context, in PostJobInput) (*models.JobPosting, error)
	PlaceBid(ctx context.Context, in BidInput) (*models.JobBid, error)
	AcceptBid(ctx context.Context, jobID, buyerID, bidID uuid.UUID) (*models.JobPosting, error)
	SubmitWork(ctx context.Context, jobID, sellerID uuid.UUID, work services.WorkSubmission) (*models.EscrowTransaction, error)
	ApproveWork(ctx context.Context, jobID, buyerID uuid.UUID) (*models.EscrowTransaction, error)
	CancelJob(ctx context.Context, jobID, buyerID uuid.UUID) (*models.JobPosting, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobPosting, error)
	ListOpenJobs(ctx context.Context) ([]*models.JobPosting, error)
	ListBids(ctx context.Context, actor models.Actor, jobID uuid.UUID) ([]*models.JobBid, error)
}

type service struct {
	store    store.Store
	escrow   *services.EscrowService
	notifier *notify.Notifier
}

// NewService returns a new job Service.
func NewService(st store.Store, escrow *services.EscrowService, notifier *notify.Notifier) *service {
	return &service{store: st, escrow: escrow, notifier: notifier}
}

var _ Service = (*service)(nil)

// PostJob creates the job and its escrow in one transaction. The job id is
// generated up front so the escrow can reference it before the job row exists.
func (s *service) PostJob(ctx context.Context, in PostJobInput) (*models.JobPosting, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" || in.Description == "" {
		return nil, fmt.Errorf("%w: title and description are required", models.ErrInvalidInput)
	}
	if !in.Budget.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if in.MaxBids == 0 {
		in.MaxBids = models.DefaultMaxBids
	}
	if in.MaxBids < 1 {
		return nil, fmt.Errorf("%w: max_bids must be at least 1", models.ErrInvalidInput)
	}

	job := &models.JobPosting{
		ID:          uuid.New(),
		BuyerID:     in.BuyerID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Budget:      in.Budget,
		Status:      models.JobOpen,
		MaxBids:     in.MaxBids,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := s.escrow.OpenTx(ctx, tx, services.OpenParams{
			BuyerID:       in.BuyerID,
			ReferenceType: models.EscrowRefJob,
			ReferenceID:   job.ID,
			Amount:        in.Budget,
			Description:   "Funds frozen for job: " + in.Title,
		})
		if err != nil {
			return err
		}
		job.EscrowTransactionID = e.ID
		if err := tx.Jobs().Insert(ctx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// PlaceBid records a seller's bid while the job is open, its escrow is active
// and the bid limit has not been reached.
func (s *service) PlaceBid(ctx context.Context, in BidInput) (*models.JobBid, error) {
	if !in.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	bid := &models.JobBid{
		ID:        uuid.New(),
		JobID:     in.JobID,
		SellerID:  in.SellerID,
		BidAmount: in.Amount,
		Proposal:  strings.TrimSpace(in.Proposal),
		Status:    models.BidPending,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		job, err := tx.Jobs().GetForUpdate(ctx, in.JobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobOpen {
			return fmt.Errorf("%w: job is %s", models.ErrInvalidTransition, job.Status)
		}
		if job.BuyerID == in.SellerID {
			return fmt.Errorf("%w: cannot bid on your own job", models.ErrNotAuthorized)
		}
		e, err := tx.Escrows().Get(ctx, job.EscrowTransactionID)
		if err != nil {
			return fmt.Errorf("load escrow for job %s: %w", job.ID, err)
		}
		if e.Status != models.EscrowActive {
			return fmt.Errorf("%w: job escrow is %s", models.ErrInvalidTransition, e.Status)
		}
		// A repeat bid is a duplicate even once the job has filled up.
		dup, err := tx.Bids().HasBid(ctx, job.ID, in.SellerID)
		if err != nil {
			return err
		}
		if dup {
			return models.ErrDuplicateBid
		}
		n, err := tx.Bids().CountByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if n >= job.MaxBids {
			return models.ErrBiddingClosed
		}
		if err := tx.Bids().Insert(ctx, bid); err != nil {
			return err
		}
		s.notifier.AfterCommit(tx, notify.Event{
			UserID:        job.BuyerID,
			Type:          models.NotifyTransaction,
			Title:         "New bid received",
			Message:       fmt.Sprintf("A seller bid %s on %q.", bid.BidAmount.StringFixed(2), job.Title),
			ReferenceType: "job",
			ReferenceID:   job.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// AcceptBid assigns the bid's seller to the job and its escrow. The escrow
// keeps the posted budget as its amount.
func (s *service) AcceptBid(ctx context.Context, jobID, buyerID, bidID uuid.UUID) (*models.JobPosting, error) {
	var job *models.JobPosting
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		job, err = tx.Jobs().GetForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.BuyerID != buyerID {
			return models.ErrNotAuthorized
		}
		if job.Status != models.JobOpen {
			return fmt.Errorf("%w: job is %s", models.ErrInvalidTransition, job.Status)
		}
		bid, err := tx.Bids().Get(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.JobID != job.ID {
			return fmt.Errorf("bid %s on job %s: %w", bidID, jobID, models.ErrNotFound)
		}
		if bid.Status != models.BidPending {
			return fmt.Errorf("%w: bid is %s", models.ErrInvalidTransition, bid.Status)
		}

		if _, err := s.escrow.AssignSellerTx(ctx, tx, job.EscrowTransactionID, bid.SellerID); err != nil {
			return err
		}
		if err := tx.Bids().UpdateStatus(ctx, bid.ID, models.BidAccepted); err != nil {
			return err
		}
		if _, err := tx.Bids().RejectPending(ctx, job.ID, bid.ID); err != nil {
			return err
		}
		seller := bid.SellerID
		job.AcceptedSellerID = &seller
		job.Status = models.JobInProgress
		if err := tx.Jobs().Update(ctx, job, models.JobOpen); err != nil {
			return err
		}

		s.notifier.AfterCommit(tx, notify.Event{
			UserID:        seller,
			Type:          models.NotifyTransaction,
			Title:         "Your bid was accepted",
			Message:       fmt.Sprintf("You have been hired for %q.", job.Title),
			ReferenceType: "job",
			ReferenceID:   job.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *service) SubmitWork(ctx context.Context, jobID, sellerID uuid.UUID, work services.WorkSubmission) (*models.EscrowTransaction, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.escrow.SubmitWork(ctx, job.EscrowTransactionID, sellerID, work)
}

// ApproveWork releases payment; the escrow engine completes the job in the
// same transaction.
func (s *service) ApproveWork(ctx context.Context, jobID, buyerID uuid.UUID) (*models.EscrowTransaction, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.BuyerID != buyerID {
		return nil, models.ErrNotAuthorized
	}
	return s.escrow.Approve(ctx, job.EscrowTransactionID, buyerID)
}

// CancelJob withdraws an open job; the escrow cancellation releases the budget,
// marks the job cancelled and rejects pending bids.
func (s *service) CancelJob(ctx context.Context, jobID, buyerID uuid.UUID) (*models.JobPosting, error) {
	var job *models.JobPosting
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.Jobs().GetForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if j.BuyerID != buyerID {
			return models.ErrNotAuthorized
		}
		if j.Status != models.JobOpen {
			return fmt.Errorf("%w: job is %s", models.ErrInvalidTransition, j.Status)
		}
		if _, err := s.escrow.CancelTx(ctx, tx, j.EscrowTransactionID, buyerID); err != nil {
			return err
		}
		job, err = tx.Jobs().Get(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobPosting, error) {
	var job *models.JobPosting
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		job, err = tx.Jobs().Get(ctx, jobID)
		return err
	})
	return job, err
}

func (s *service) ListOpenJobs(ctx context.Context) ([]*models.JobPosting, error) {
	var out []*models.JobPosting
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Jobs().ListByStatus(ctx, models.JobOpen)
		return err
	})
	return out, err
}

// ListBids returns every bid to the job's buyer or an admin, and only the
// caller's own bid to anyone else.
func (s *service) ListBids(ctx context.Context, actor models.Actor, jobID uuid.UUID) ([]*models.JobBid, error) {
	var out []*models.JobBid
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		job, err := tx.Jobs().Get(ctx, jobID)
		if err != nil {
			return err
		}
		bids, err := tx.Bids().ListByJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.BuyerID == actor.UserID || actor.IsAdmin() {
			out = bids
			return nil
		}
		for _, b := range bids {
			if b.SellerID == actor.UserID {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}
