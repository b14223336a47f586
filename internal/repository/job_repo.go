package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmos/marketplace/internal/models"
)

const jobColumns = `id, buyer_id, title, description, category, budget, status, escrow_transaction_id,
	accepted_seller_id, max_bids, created_at, updated_at`

type JobRepo struct {
	tx pgx.Tx
}

func scanJob(row rowScanner) (*models.JobPosting, error) {
	var j models.JobPosting
	err := row.Scan(&j.ID, &j.BuyerID, &j.Title, &j.Description, &j.Category, &j.Budget, &j.Status, &j.EscrowTransactionID,
		&j.AcceptedSellerID, &j.MaxBids, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) Insert(ctx context.Context, j *models.JobPosting) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO job_postings (id, buyer_id, title, description, category, budget, status, escrow_transaction_id, max_bids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, j.ID, j.BuyerID, j.Title, j.Description, j.Category, j.Budget, j.Status, j.EscrowTransactionID, j.MaxBids).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*models.JobPosting, error) {
	j, err := scanJob(r.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_postings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "job "+id.String())
	}
	return j, nil
}

func (r *JobRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.JobPosting, error) {
	j, err := scanJob(r.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_postings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "job "+id.String())
	}
	return j, nil
}

func (r *JobRepo) Update(ctx context.Context, j *models.JobPosting, prev models.JobStatus) error {
	err := r.tx.QueryRow(ctx, `
		UPDATE job_postings SET status = $3, accepted_seller_id = $4, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`, j.ID, prev, j.Status, j.AcceptedSellerID).Scan(&j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s no longer %s: %w", j.ID, prev, models.ErrConflict)
	}
	return err
}

func (r *JobRepo) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.JobPosting, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+jobColumns+` FROM job_postings
		WHERE status = $1 ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanJob)
}
