package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const paymentColumns = `id, user_id, type, method, amount, status, destination, admin_id, admin_notes, created_at, processed_at`

type PaymentRepo struct {
	tx pgx.Tx
}

func scanPayment(row rowScanner) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := row.Scan(&p.ID, &p.UserID, &p.Kind, &p.Method, &p.Amount, &p.Status, &p.Destination,
		&p.AdminID, &p.AdminNotes, &p.CreatedAt, &p.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) Insert(ctx context.Context, p *models.PaymentRequest) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO payment_requests (id, user_id, type, method, amount, status, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.UserID, p.Kind, p.Method, p.Amount, p.Status, p.Destination).Scan(&p.CreatedAt)
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "payment request "+id.String())
	}
	return p, nil
}

func (r *PaymentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "payment request "+id.String())
	}
	return p, nil
}

func (r *PaymentRepo) Update(ctx context.Context, p *models.PaymentRequest, prev models.PaymentStatus) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE payment_requests SET status = $3, admin_id = $4, admin_notes = $5, processed_at = $6
		WHERE id = $1 AND status = $2
	`, p.ID, prev, p.Status, p.AdminID, p.AdminNotes, p.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment request %s no longer %s: %w", p.ID, prev, models.ErrConflict)
	}
	return nil
}

func (r *PaymentRepo) ListByStatus(ctx context.Context, status models.PaymentStatus) ([]*models.PaymentRequest, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

func (r *PaymentRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRequest, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

