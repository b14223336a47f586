package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const bidColumns = `id, job_id, seller_id, bid_amount, proposal, status, created_at`

type BidRepo struct {
	tx pgx.Tx
}

func scanBid(row rowScanner) (*models.JobBid, error) {
	var b models.JobBid
	if err := row.Scan(&b.ID, &b.JobID, &b.SellerID, &b.BidAmount, &b.Proposal, &b.Status, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BidRepo) Insert(ctx context.Context, b *models.JobBid) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO job_bids (id, job_id, seller_id, bid_amount, proposal, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, b.ID, b.JobID, b.SellerID, b.BidAmount, b.Proposal, b.Status).Scan(&b.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicateBid
	}
	return err
}

func (r *BidRepo) Get(ctx context.Context, id uuid.UUID) (*models.JobBid, error) {
	b, err := scanBid(r.tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM job_bids WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "bid "+id.String())
	}
	return b, nil
}

func (r *BidRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobBid, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+bidColumns+` FROM job_bids WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBid)
}

func (r *BidRepo) HasBid(ctx context.Context, jobID, sellerID uuid.UUID) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM job_bids WHERE job_id = $1 AND seller_id = $2)`, jobID, sellerID).Scan(&ok)
	return ok, err
}

func (r *BidRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT count(*) FROM job_bids WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

func (r *BidRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BidStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE job_bids SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *BidRepo) RejectPending(ctx context.Context, jobID, keep uuid.UUID) (int, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE job_bids SET status = $3
		WHERE job_id = $1 AND id <> $2 AND status = $4
	`, jobID, keep, models.BidRejected, models.BidPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
