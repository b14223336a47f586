package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := uuid.New()
	boom := errors.New("boom")
	hookRan := false

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().Ensure(ctx, user, "USD"); err != nil {
			return err
		}
		if _, err := tx.Wallets().Adjust(ctx, user, models.BalanceAvailable, decimal.NewFromInt(50)); err != nil {
			return err
		}
		tx.AfterCommit(func(context.Context) { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.Wallet(user); ok {
		t.Error("wallet should not exist after rollback")
	}
	if hookRan {
		t.Error("after-commit hook ran on rollback")
	}
}

func TestInTxCommitsAndRunsHooks(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := uuid.New()
	hookRan := false

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().Ensure(ctx, user, "USD"); err != nil {
			return err
		}
		tx.AfterCommit(func(context.Context) { hookRan = true })
		_, err := tx.Wallets().Adjust(ctx, user, models.BalanceAvailable, decimal.NewFromInt(50))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, ok := s.Wallet(user)
	if !ok || !w.AvailableBalance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected committed balance 50, got %+v", w)
	}
	if !hookRan {
		t.Error("after-commit hook did not run")
	}
}

func TestAdjustRejectsNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := uuid.New()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().Ensure(ctx, user, "USD"); err != nil {
			return err
		}
		_, err := tx.Wallets().Adjust(ctx, user, models.BalanceAvailable, decimal.NewFromInt(-1))
		return err
	})
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestEscrowUpdateCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &models.EscrowTransaction{ID: uuid.New(), BuyerID: uuid.New(), Status: models.EscrowActive}

	if err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Escrows().Insert(ctx, e)
	}); err != nil {
		t.Fatal(err)
	}

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cp, err := tx.Escrows().Get(ctx, e.ID)
		if err != nil {
			return err
		}
		cp.Status = models.EscrowCompleted
		return tx.Escrows().Update(ctx, cp, models.EscrowDisputed)
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDuplicateBid(t *testing.T) {
	s := New()
	ctx := context.Background()
	job, seller := uuid.New(), uuid.New()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Bids().Insert(ctx, &models.JobBid{ID: uuid.New(), JobID: job, SellerID: seller}); err != nil {
			return err
		}
		return tx.Bids().Insert(ctx, &models.JobBid{ID: uuid.New(), JobID: job, SellerID: seller})
	})
	if !errors.Is(err, models.ErrDuplicateBid) {
		t.Fatalf("expected ErrDuplicateBid, got %v", err)
	}
}

func TestFailOnIsSingleShot(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("disk full")
	s.FailOn("jobs.insert", boom)

	insert := func() error {
		return s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.Jobs().Insert(ctx, &models.JobPosting{ID: uuid.New()})
		})
	}
	if err := insert(); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := insert(); err != nil {
		t.Fatalf("second insert should succeed, got %v", err)
	}
	if s.JobCount() != 1 {
		t.Errorf("expected 1 job, got %d", s.JobCount())
	}
}

func TestReadSnapshotRejectsWrites(t *testing.T) {
	st := New()
	ctx := context.Background()
	user := uuid.New()
	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Wallets().Ensure(ctx, user, "USD")
		return err
	}); err != nil {
		t.Fatal(err)
	}

	err := st.ReadSnapshot(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().Get(ctx, user); err != nil {
			t.Errorf("read in snapshot: %v", err)
		}
		if _, err := tx.Wallets().Adjust(ctx, user, models.BalanceAvailable, decimal.NewFromInt(5)); err == nil {
			t.Error("adjust in snapshot should fail")
		}
		if _, err := tx.Jobs().GetForUpdate(ctx, uuid.New()); err == nil {
			t.Error("row lock in snapshot should fail")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if w, _ := st.Wallet(user); !w.AvailableBalance.IsZero() {
		t.Errorf("snapshot write leaked: %s", w.AvailableBalance)
	}
}
