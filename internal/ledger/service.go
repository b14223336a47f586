package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

type Service interface {
	// Record appends one entry inside the caller's transaction.
	Record(ctx context.Context, tx store.Tx, e *models.WalletTransaction) error
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
	Reconcile(ctx context.Context) (*Report, error)
}

type service struct {
	store store.Store
}

func NewService(st store.Store) Service {
	return &service{store: st}
}

var _ Service = (*service)(nil)

func (s *service) Record(ctx context.Context, tx store.Tx, e *models.WalletTransaction) error {
	if !e.Amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	if _, err := models.SignedDelta(e.Kind, e.BalanceType, e.Amount); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := tx.Ledger().Append(ctx, e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultHistoryLimit
	}
	var out []*models.WalletTransaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Ledger().ListByUser(ctx, userID, limit)
		return err
	})
	return out, err
}

// Mismatch is a wallet balance that differs from the sum of its ledger entries.
type Mismatch struct {
	UserID      uuid.UUID          `json:"user_id"`
	BalanceType models.BalanceType `json:"balance_type"`
	Stored      decimal.Decimal    `json:"stored"`
	Replayed    decimal.Decimal    `json:"replayed"`
}

type Report struct {
	Wallets    int        `json:"wallets"`
	Entries    int        `json:"entries"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

type balanceKey struct {
	user uuid.UUID
	bt   models.BalanceType
}

var balanceTypes = []models.BalanceType{models.BalanceAvailable, models.BalancePending, models.BalanceFrozen}

// Reconcile replays the whole ledger and compares each wallet balance with
// the sum of the signed deltas recorded against it. Both reads share one
// snapshot so movements committed mid-scan cannot show up as drift.
func (s *service) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{}
	err := s.store.ReadSnapshot(ctx, func(ctx context.Context, tx store.Tx) error {
		replayed := map[balanceKey]decimal.Decimal{}
		if err := tx.Ledger().ForEach(ctx, func(e *models.WalletTransaction) error {
			report.Entries++
			k := balanceKey{e.UserID, e.BalanceType}
			replayed[k] = replayed[k].Add(e.Delta())
			return nil
		}); err != nil {
			return fmt.Errorf("replay ledger: %w", err)
		}

		wallets, err := tx.Wallets().List(ctx)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}
		report.Wallets = len(wallets)
		for _, w := range wallets {
			for _, bt := range balanceTypes {
				got := replayed[balanceKey{w.UserID, bt}]
				if !got.Equal(w.Balance(bt)) {
					report.Mismatches = append(report.Mismatches, Mismatch{
						UserID: w.UserID, BalanceType: bt, Stored: w.Balance(bt), Replayed: got,
					})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
