package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/repository/memory"
	"github.com/hmos/marketplace/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*models.Wallet
	invalidated []uuid.UUID
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[uuid.UUID]*models.Wallet{}}
}

func (c *recordingCache) Get(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	cp := *w
	return &cp, nil
}

func (c *recordingCache) Set(_ context.Context, w *models.Wallet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[w.UserID]; ok && cur.UpdatedAt.After(w.UpdatedAt) {
		return nil
	}
	cp := *w
	c.entries[w.UserID] = &cp
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func newTestService(cache BalanceCache) (*Service, *memory.Store) {
	st := memory.New()
	return NewService(st, ledger.NewService(st), cache, "USD"), st
}

func fund(t *testing.T, svc *Service, st *memory.Store, user uuid.UUID, amount string) {
	t.Helper()
	err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return svc.Credit(ctx, tx, user, dec(amount), Ref{Type: models.RefDeposit, ID: uuid.New()})
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func assertBalances(t *testing.T, st *memory.Store, user uuid.UUID, available, pending, frozen string) {
	t.Helper()
	w, ok := st.Wallet(user)
	if !ok {
		t.Fatalf("wallet for %s not found", user)
	}
	if !w.AvailableBalance.Equal(dec(available)) || !w.PendingBalance.Equal(dec(pending)) || !w.FrozenBalance.Equal(dec(frozen)) {
		t.Fatalf("balances = %s/%s/%s, want %s/%s/%s",
			w.AvailableBalance, w.PendingBalance, w.FrozenBalance, available, pending, frozen)
	}
}

// ---------------------------------------------------------------------------
// 1. Freeze / Release
// ---------------------------------------------------------------------------

func TestFreezeThenReleaseRoundTrip(t *testing.T) {
	svc, st := newTestService(nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "100.00")

	ref := Ref{Type: models.RefJobPost, ID: uuid.New()}
	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Freeze(ctx, tx, user, dec("40.00"), ref)
	}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	assertBalances(t, st, user, "60", "0", "40")

	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Release(ctx, tx, user, dec("40.00"), ref)
	}); err != nil {
		t.Fatalf("release: %v", err)
	}
	assertBalances(t, st, user, "100", "0", "0")

	// credit + 2 freeze + 2 unfreeze
	entries := st.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(entries))
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Delta())
	}
	if !sum.Equal(dec("100")) {
		t.Errorf("signed ledger sum = %s, want 100", sum)
	}
}

func TestFreezeInsufficientLeavesNoTrace(t *testing.T) {
	svc, st := newTestService(nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "10.00")

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Freeze(ctx, tx, user, dec("10.01"), Ref{Type: models.RefJobPost, ID: uuid.New()})
	})
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	assertBalances(t, st, user, "10", "0", "0")
	if n := len(st.Entries()); n != 1 {
		t.Errorf("expected only the funding entry, got %d entries", n)
	}
}

func TestAdjustRejectsNonPositiveAmount(t *testing.T) {
	svc, st := newTestService(nil)
	for _, amt := range []string{"0", "-5"} {
		err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return svc.Credit(ctx, tx, uuid.New(), dec(amt), Ref{Type: models.RefDeposit})
		})
		if !errors.Is(err, models.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

// ---------------------------------------------------------------------------
// 2. Ledger pairing
// ---------------------------------------------------------------------------

func TestEveryMovementWritesOneEntryWithBalanceAfter(t *testing.T) {
	svc, st := newTestService(nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "50.00")

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ref := Ref{Type: models.RefWithdraw, ID: uuid.New()}
		if err := svc.Hold(ctx, tx, user, dec("20.00"), ref); err != nil {
			return err
		}
		return svc.Settle(ctx, tx, user, dec("20.00"), ref)
	})
	if err != nil {
		t.Fatal(err)
	}
	assertBalances(t, st, user, "30", "0", "0")

	entries := st.Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	want := []struct {
		kind  models.EntryKind
		bt    models.BalanceType
		after string
	}{
		{models.EntryCredit, models.BalanceAvailable, "50"},
		{models.EntryDebit, models.BalanceAvailable, "30"},
		{models.EntryCredit, models.BalancePending, "20"},
		{models.EntryDebit, models.BalancePending, "0"},
	}
	for i, w := range want {
		e := entries[i]
		if e.Kind != w.kind || e.BalanceType != w.bt || !e.BalanceAfter.Equal(dec(w.after)) {
			t.Errorf("entry %d = %s/%s after %s, want %s/%s after %s",
				i, e.Kind, e.BalanceType, e.BalanceAfter, w.kind, w.bt, w.after)
		}
	}
}

func TestUnholdReturnsFunds(t *testing.T) {
	svc, st := newTestService(nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "50.00")

	ref := Ref{Type: models.RefWithdraw, ID: uuid.New()}
	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Hold(ctx, tx, user, dec("50.00"), ref)
	}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, st, user, "0", "50", "0")

	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Unhold(ctx, tx, user, dec("50.00"), ref)
	}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, st, user, "50", "0", "0")
}

func TestLedgerFailureRollsBackBalance(t *testing.T) {
	svc, st := newTestService(nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "50.00")

	boom := errors.New("ledger unavailable")
	st.FailOn("ledger.append", boom)
	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return svc.Debit(ctx, tx, user, dec("5.00"), Ref{Type: models.RefPurchase, ID: uuid.New()})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	assertBalances(t, st, user, "50", "0", "0")
}

// ---------------------------------------------------------------------------
// 3. Get / cache
// ---------------------------------------------------------------------------

func TestGetCreatesWalletLazily(t *testing.T) {
	svc, st := newTestService(nil)
	user := uuid.New()

	w, err := svc.Get(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if !w.AvailableBalance.IsZero() || w.Currency != "USD" {
		t.Errorf("unexpected new wallet %+v", w)
	}
	if _, ok := st.Wallet(user); !ok {
		t.Error("wallet should be persisted after Get")
	}
}

func TestCommittedChangeWritesThroughCache(t *testing.T) {
	cache := newRecordingCache()
	svc, st := newTestService(cache)
	ctx := context.Background()
	user := uuid.New()

	if _, err := svc.Get(ctx, user); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, user); err != nil {
		t.Fatalf("expected cached wallet after Get, got %v", err)
	}

	fund(t, svc, st, user, "5.00")
	cached, err := cache.Get(ctx, user)
	if err != nil {
		t.Fatalf("expected committed wallet in cache, got %v", err)
	}
	if !cached.AvailableBalance.Equal(dec("5")) {
		t.Errorf("cached balance = %s, want 5", cached.AvailableBalance)
	}

	w, err := svc.Get(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if !w.AvailableBalance.Equal(dec("5")) {
		t.Errorf("Get after credit = %s, want 5", w.AvailableBalance)
	}
}

func TestLateReadDoesNotOverwriteNewerBalance(t *testing.T) {
	cache := newRecordingCache()
	svc, st := newTestService(cache)
	ctx := context.Background()
	user := uuid.New()
	fund(t, svc, st, user, "5.00")

	// A reader loaded the wallet before the next credit but writes the cache
	// only after that credit has committed.
	stale, ok := st.Wallet(user)
	if !ok {
		t.Fatal("wallet missing")
	}
	stale.UpdatedAt = stale.UpdatedAt.Add(-time.Millisecond)
	fund(t, svc, st, user, "3.00")
	if err := cache.Set(ctx, stale); err != nil {
		t.Fatal(err)
	}

	w, err := svc.Get(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if !w.AvailableBalance.Equal(dec("8")) {
		t.Errorf("Get = %s, want 8", w.AvailableBalance)
	}
}

type failingCache struct {
	*recordingCache
}

func (failingCache) Set(context.Context, *models.Wallet) error { return errors.New("redis down") }

func TestFailedWriteThroughDropsEntry(t *testing.T) {
	rc := newRecordingCache()
	svc, st := newTestService(failingCache{rc})
	user := uuid.New()
	rc.entries[user] = &models.Wallet{UserID: user, AvailableBalance: dec("1")}

	fund(t, svc, st, user, "5.00")
	if _, err := rc.Get(context.Background(), user); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected stale entry dropped, got %v", err)
	}
}

func TestRolledBackChangeKeepsCache(t *testing.T) {
	cache := newRecordingCache()
	svc, st := newTestService(cache)
	ctx := context.Background()
	user := uuid.New()

	_ = st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := svc.Credit(ctx, tx, user, dec("5"), Ref{Type: models.RefDeposit}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if _, err := cache.Get(ctx, user); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("rolled back balance reached the cache: %v", err)
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("expected no invalidation on rollback, got %d", len(cache.invalidated))
	}
}

func TestLockDeduplicatesAndSorts(t *testing.T) {
	svc, st := newTestService(nil)
	a, b := uuid.New(), uuid.New()
	err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return svc.Lock(ctx, tx, b, a, b)
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []uuid.UUID{a, b} {
		if _, ok := st.Wallet(id); !ok {
			t.Errorf("wallet %s not created by Lock", id)
		}
	}
}
