// Package repository is the Postgres implementation of store.Store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken with
// SELECT ... FOR UPDATE serialize competing writers on the same escrow,
// job, payment request or wallet.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("rollback failed", "error", err)
		}
	}()

	t := &pgTx{tx: tx}
	if err := fn(ctx, t); err != nil {
		return conflictOnAbort(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return conflictOnAbort(fmt.Errorf("commit tx: %w", err))
	}
	for _, h := range t.hooks {
		h(ctx)
	}
	return nil
}

// ReadSnapshot runs fn in a REPEATABLE READ, READ ONLY transaction so that
// multi-statement reports see one consistent snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("rollback failed", "error", err)
		}
	}()
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
}

func (t *pgTx) Wallets() store.WalletRepo { return &WalletRepo{tx: t.tx} }
func (t *pgTx) Ledger() store.LedgerRepo { return &LedgerRepo{tx: t.tx} }
func (t *pgTx) Escrows() store.EscrowRepo { return &EscrowRepo{tx: t.tx} }
func (t *pgTx) Revisions() store.RevisionRepo { return &RevisionRepo{tx: t.tx} }
func (t *pgTx) Jobs() store.JobRepo { return &JobRepo{tx: t.tx} }
func (t *pgTx) Bids() store.BidRepo { return &BidRepo{tx: t.tx} }
func (t *pgTx) Payments() store.PaymentRepo { return &PaymentRepo{tx: t.tx} }

func (t *pgTx) AfterCommit(fn func(ctx context.Context)) { t.hooks = append(t.hooks, fn) }

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps pgx.ErrNoRows to models.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return err
}

// conflictOnAbort reports deadlock and serialization aborts as
// models.ErrConflict; the caller lost a race and may retry.
func conflictOnAbort(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
		return fmt.Errorf("%w: %w", models.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var list []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
