// Package wallet owns every balance mutation. Each movement pairs the balance
// update with its ledger entry inside the caller's transaction.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

// Ref describes the business event behind a movement.
type Ref struct {
	Type        models.ReferenceType
	ID          uuid.UUID
	Description string
}

// Service moves money between wallet balances and records each movement.
type Service struct {
	store    store.Store
	ledger   ledger.Service
	cache    BalanceCache
	currency string
}

// NewService returns a new Service. A nil cache disables balance caching.
func NewService(st store.Store, led ledger.Service, cache BalanceCache, currency string) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{store: st, ledger: led, cache: cache, currency: currency}
}

// Get returns the user's wallet, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if w, err := s.cache.Get(ctx, userID); err == nil {
		return w, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("balance cache read failed", "user_id", userID, "error", err)
	}

	var w *models.Wallet
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		w, err = tx.Wallets().Ensure(ctx, userID, s.currency)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if err := s.cache.Set(ctx, w); err != nil {
		slog.Warn("balance cache write failed", "user_id", userID, "error", err)
	}
	return w, nil
}

// writeThrough caches a committed snapshot. If that fails the entry is dropped
// so readers fall back to the store.
func (s *Service) writeThrough(ctx context.Context, w *models.Wallet) {
	err := s.cache.Set(ctx, w)
	if err == nil {
		return
	}
	slog.Warn("balance cache write failed", "user_id", w.UserID, "error", err)
	if err := s.cache.Invalidate(ctx, w.UserID); err != nil {
		slog.Warn("balance cache invalidate failed", "user_id", w.UserID, "error", err)
	}
}

// Lock takes the row locks of every given wallet in UUID order so that two
// transactions touching the same pair can never deadlock.
func (s *Service) Lock(ctx context.Context, tx store.Tx, userIDs ...uuid.UUID) error {
	ids := append([]uuid.UUID(nil), userIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		if _, err := tx.Wallets().Ensure(ctx, id, s.currency); err != nil {
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
	}
	return nil
}

// Adjust applies one ledger-backed change to a single balance.
func (s *Service) Adjust(ctx context.Context, tx store.Tx, userID uuid.UUID, bt models.BalanceType, kind models.EntryKind, amount decimal.Decimal, ref Ref) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	delta, err := models.SignedDelta(kind, bt, amount)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Wallets().Ensure(ctx, userID, s.currency); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := tx.Wallets().Adjust(ctx, userID, bt, delta)
	if err != nil {
		return nil, err
	}
	entry := &models.WalletTransaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		BalanceType:   bt,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   ref.Description,
		BalanceAfter:  w.Balance(bt),
	}
	if err := s.ledger.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	snap := *w
	tx.AfterCommit(func(ctx context.Context) { s.writeThrough(ctx, &snap) })
	return w, nil
}

// Freeze moves amount from available to frozen.
func (s *Service) Freeze(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	if _, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryFreeze, amount, ref); err != nil {
		return err
	}
	_, err := s.Adjust(ctx, tx, userID, models.BalanceFrozen, models.EntryFreeze, amount, ref)
	return err
}

// Release moves amount from frozen back to available.
func (s *Service) Release(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	if _, err := s.Adjust(ctx, tx, userID, models.BalanceFrozen, models.EntryUnfreeze, amount, ref); err != nil {
		return err
	}
	_, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryUnfreeze, amount, ref)
	return err
}

// Extinguish removes amount from frozen without returning it to the owner;
// the money leaves the wallet as a payout.
func (s *Service) Extinguish(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	_, err := s.Adjust(ctx, tx, userID, models.BalanceFrozen, models.EntryUnfreeze, amount, ref)
	return err
}

// Credit adds amount to available.
func (s *Service) Credit(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	_, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryCredit, amount, ref)
	return err
}

// Debit removes amount from available.
func (s *Service) Debit(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	_, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryDebit, amount, ref)
	return err
}

// Hold parks amount in pending while a withdrawal waits for approval.
func (s *Service) Hold(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	if _, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryDebit, amount, ref); err != nil {
		return err
	}
	_, err := s.Adjust(ctx, tx, userID, models.BalancePending, models.EntryCredit, amount, ref)
	return err
}

// Settle pays a held amount out of pending.
func (s *Service) Settle(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	_, err := s.Adjust(ctx, tx, userID, models.BalancePending, models.EntryDebit, amount, ref)
	return err
}

// Unhold returns a held amount to available.
func (s *Service) Unhold(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal, ref Ref) error {
	if _, err := s.Adjust(ctx, tx, userID, models.BalancePending, models.EntryDebit, amount, ref); err != nil {
		return err
	}
	_, err := s.Adjust(ctx, tx, userID, models.BalanceAvailable, models.EntryCredit, amount, ref)
	return err
}
