package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const ledgerColumns = `id, wallet_id, user_id, type, amount, balance_type, reference_type, reference_id, description, balance_after, created_at`

// LedgerRepo appends to wallet_transactions. Rows are never updated or deleted.
type LedgerRepo struct {
	tx pgx.Tx
}

func scanEntry(row rowScanner) (*models.WalletTransaction, error) {
	var e models.WalletTransaction
	err := row.Scan(&e.ID, &e.WalletID, &e.UserID, &e.Kind, &e.Amount, &e.BalanceType,
		&e.ReferenceType, &e.ReferenceID, &e.Description, &e.BalanceAfter, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepo) Append(ctx context.Context, e *models.WalletTransaction) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, user_id, type, amount, balance_type, reference_type, reference_id, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, e.ID, e.WalletID, e.UserID, e.Kind, e.Amount, e.BalanceType, e.ReferenceType, e.ReferenceID, e.Description, e.BalanceAfter).Scan(&e.CreatedAt)
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM wallet_transactions WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (r *LedgerRepo) ForEach(ctx context.Context, fn func(e *models.WalletTransaction) error) error {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM wallet_transactions ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
