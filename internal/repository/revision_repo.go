package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const revisionColumns = `id, escrow_transaction_id, seller_id, revision_number, submitted_text, submitted_images,
	buyer_feedback, status, submitted_at, reviewed_at`

type RevisionRepo struct {
	tx pgx.Tx
}

func scanRevision(row rowScanner) (*models.WorkRevision, error) {
	var rev models.WorkRevision
	err := row.Scan(&rev.ID, &rev.EscrowTransactionID, &rev.SellerID, &rev.RevisionNumber, &rev.SubmittedText, &rev.SubmittedImages,
		&rev.BuyerFeedback, &rev.Status, &rev.SubmittedAt, &rev.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func (r *RevisionRepo) Insert(ctx context.Context, rev *models.WorkRevision) error {
	images := rev.SubmittedImages
	if images == nil {
		images = []string{}
	}
	return r.tx.QueryRow(ctx, `
		INSERT INTO work_revisions (id, escrow_transaction_id, seller_id, revision_number, submitted_text, submitted_images, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING submitted_at
	`, rev.ID, rev.EscrowTransactionID, rev.SellerID, rev.RevisionNumber, rev.SubmittedText, images, rev.Status).Scan(&rev.SubmittedAt)
}

func (r *RevisionRepo) Latest(ctx context.Context, escrowID uuid.UUID) (*models.WorkRevision, error) {
	rev, err := scanRevision(r.tx.QueryRow(ctx, `
		SELECT `+revisionColumns+` FROM work_revisions
		WHERE escrow_transaction_id = $1 ORDER BY revision_number DESC LIMIT 1
	`, escrowID))
	if err != nil {
		return nil, notFound(err, "revision for escrow "+escrowID.String())
	}
	return rev, nil
}

func (r *RevisionRepo) Update(ctx context.Context, rev *models.WorkRevision) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE work_revisions SET buyer_feedback = $2, status = $3, reviewed_at = $4
		WHERE id = $1
	`, rev.ID, rev.BuyerFeedback, rev.Status, rev.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revision %s: %w", rev.ID, models.ErrNotFound)
	}
	return nil
}

func (r *RevisionRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*models.WorkRevision, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+revisionColumns+` FROM work_revisions
		WHERE escrow_transaction_id = $1 ORDER BY revision_number
	`, escrowID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRevision)
}
