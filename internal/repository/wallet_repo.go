package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
)

const walletColumns = `id, user_id, available_balance, pending_balance, frozen_balance, currency, created_at, updated_at`

type WalletRepo struct {
	tx pgx.Tx
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.AvailableBalance, &w.PendingBalance, &w.FrozenBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepo) Ensure(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	if _, err := r.tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, currency); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	w, err := scanWallet(r.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "wallet for "+userID.String())
	}
	return w, nil
}

func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(r.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "wallet for "+userID.String())
	}
	return w, nil
}

// balanceColumn whitelists the column an Adjust may touch.
func balanceColumn(bt models.BalanceType) (string, error) {
	switch bt {
	case models.BalanceAvailable:
		return "available_balance", nil
	case models.BalancePending:
		return "pending_balance", nil
	case models.BalanceFrozen:
		return "frozen_balance", nil
	}
	return "", fmt.Errorf("%w: balance type %q", models.ErrInvalidInput, bt)
}

// Adjust applies delta with a guarded UPDATE so the balance can never go
// negative even if the caller skipped the row lock.
func (r *WalletRepo) Adjust(ctx context.Context, userID uuid.UUID, bt models.BalanceType, delta decimal.Decimal) (*models.Wallet, error) {
	col, err := balanceColumn(bt)
	if err != nil {
		return nil, err
	}
	w, err := scanWallet(r.tx.QueryRow(ctx, `
		UPDATE wallets SET `+col+` = `+col+` + $2, updated_at = clock_timestamp()
		WHERE user_id = $1 AND `+col+` + $2 >= 0
		RETURNING `+walletColumns, userID, delta))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("adjust %s: %w", col, err)
	}
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("wallet for %s: %w", userID, models.ErrNotFound)
	}
	return nil, models.ErrInsufficientFunds
}

func (r *WalletRepo) List(ctx context.Context) ([]*models.Wallet, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWallet)
}
