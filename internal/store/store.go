// Package store defines the transactional persistence boundary used by the
// wallet, escrow, job and payment services. Implementations live in
// internal/repository (Postgres) and internal/repository/memory.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
)

// Store runs fn inside a single database transaction. If fn returns an error
// the transaction is rolled back and the error is returned unchanged.
// Hooks registered with Tx.AfterCommit run only after a successful commit.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ReadSnapshot runs fn in a read-only transaction in which every read
	// sees the same committed state. Writes through tx fail.
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Wallets() WalletRepo
	Ledger() LedgerRepo
	Escrows() EscrowRepo
	Revisions() RevisionRepo
	Jobs() JobRepo
	Bids() BidRepo
	Payments() PaymentRepo

	// AfterCommit registers fn to run once the transaction commits.
	AfterCommit(fn func(ctx context.Context))
}

type WalletRepo interface {
	// Ensure returns the user's wallet, creating it with zero balances on
	// first access, and holds its row lock for the rest of the transaction.
	Ensure(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// Adjust adds delta to one balance. It returns models.ErrInsufficientFunds
	// and changes nothing if the balance would go negative.
	Adjust(ctx context.Context, userID uuid.UUID, bt models.BalanceType, delta decimal.Decimal) (*models.Wallet, error)
	List(ctx context.Context) ([]*models.Wallet, error)
}

type LedgerRepo interface {
	Append(ctx context.Context, e *models.WalletTransaction) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
	// ForEach streams every entry in insertion order.
	ForEach(ctx context.Context, fn func(e *models.WalletTransaction) error) error
}

type EscrowRepo interface {
	Insert(ctx context.Context, e *models.EscrowTransaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	// Update persists every mutable field if the stored status still equals
	// prev, and returns models.ErrConflict otherwise.
	Update(ctx context.Context, e *models.EscrowTransaction, prev models.EscrowStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.EscrowTransaction, error)
	ListByStatus(ctx context.Context, status models.EscrowStatus) ([]*models.EscrowTransaction, error)
}

type RevisionRepo interface {
	Insert(ctx context.Context, r *models.WorkRevision) error
	Latest(ctx context.Context, escrowID uuid.UUID) (*models.WorkRevision, error)
	Update(ctx context.Context, r *models.WorkRevision) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*models.WorkRevision, error)
}

type JobRepo interface {
	Insert(ctx context.Context, j *models.JobPosting) error
	Get(ctx context.Context, id uuid.UUID) (*models.JobPosting, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.JobPosting, error)
	Update(ctx context.Context, j *models.JobPosting, prev models.JobStatus) error
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.JobPosting, error)
}

type BidRepo interface {
	// Insert returns models.ErrDuplicateBid if the seller already bid on the job.
	Insert(ctx context.Context, b *models.JobBid) error
	Get(ctx context.Context, id uuid.UUID) (*models.JobBid, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobBid, error)
	HasBid(ctx context.Context, jobID, sellerID uuid.UUID) (bool, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BidStatus) error
	// RejectPending marks every pending bid on the job except keep as rejected.
	RejectPending(ctx context.Context, jobID, keep uuid.UUID) (int, error)
}

type PaymentRepo interface {
	Insert(ctx context.Context, p *models.PaymentRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error)
	Update(ctx context.Context, p *models.PaymentRequest, prev models.PaymentStatus) error
	ListByStatus(ctx context.Context, status models.PaymentStatus) ([]*models.PaymentRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRequest, error)
}
