package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const escrowColumns = `id, buyer_id, seller_id, reference_type, reference_id, amount, commission, status,
	work_submitted, work_text, work_images, revision_count, buyer_feedback, dispute_reason, dispute_filed_by,
	admin_notes, resolved_by, created_at, updated_at, work_submitted_at, completed_at, disputed_at, resolved_at`

type EscrowRepo struct {
	tx pgx.Tx
}

func scanEscrow(row rowScanner) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.BuyerID, &e.SellerID, &e.ReferenceType, &e.ReferenceID, &e.Amount, &e.Commission, &e.Status,
		&e.WorkSubmitted, &e.WorkText, &e.WorkImages, &e.RevisionCount, &e.BuyerFeedback, &e.DisputeReason, &e.DisputeFiledBy,
		&e.AdminNotes, &e.ResolvedBy, &e.CreatedAt, &e.UpdatedAt, &e.WorkSubmittedAt, &e.CompletedAt, &e.DisputedAt, &e.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Insert(ctx context.Context, e *models.EscrowTransaction) error {
	images := e.WorkImages
	if images == nil {
		images = []string{}
	}
	return r.tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, buyer_id, seller_id, reference_type, reference_id, amount, commission, status, work_images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, e.ID, e.BuyerID, e.SellerID, e.ReferenceType, e.ReferenceID, e.Amount, e.Commission, e.Status, images).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) Get(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(r.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "escrow "+id.String())
	}
	return e, nil
}

func (r *EscrowRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(r.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "escrow "+id.String())
	}
	return e, nil
}

// Update writes every mutable column if the row still has status prev.
func (r *EscrowRepo) Update(ctx context.Context, e *models.EscrowTransaction, prev models.EscrowStatus) error {
	images := e.WorkImages
	if images == nil {
		images = []string{}
	}
	err := r.tx.QueryRow(ctx, `
		UPDATE escrow_transactions SET
			seller_id = $3, status = $4, work_submitted = $5, work_text = $6, work_images = $7,
			revision_count = $8, buyer_feedback = $9, dispute_reason = $10, dispute_filed_by = $11,
			admin_notes = $12, resolved_by = $13, work_submitted_at = $14, completed_at = $15,
			disputed_at = $16, resolved_at = $17, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`, e.ID, prev, e.SellerID, e.Status, e.WorkSubmitted, e.WorkText, images,
		e.RevisionCount, e.BuyerFeedback, e.DisputeReason, e.DisputeFiledBy,
		e.AdminNotes, e.ResolvedBy, e.WorkSubmittedAt, e.CompletedAt,
		e.DisputedAt, e.ResolvedAt).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("escrow %s no longer %s: %w", e.ID, prev, models.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *EscrowRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.EscrowTransaction, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEscrow)
}

func (r *EscrowRepo) ListByStatus(ctx context.Context, status models.EscrowStatus) ([]*models.EscrowTransaction, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE status = $1 ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEscrow)
}
