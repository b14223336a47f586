package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/hmos/marketplace/internal/models"
)

// DisputeService is the admin-facing view over disputed escrows.
type DisputeService struct {
	Escrow *EscrowService
}

func NewDisputeService(escrow *EscrowService) *DisputeService {
	return &DisputeService{Escrow: escrow}
}

func (s *DisputeService) ListDisputed(ctx context.Context, actor models.Actor) ([]*models.EscrowTransaction, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	return s.Escrow.ListByStatus(ctx, models.EscrowDisputed)
}

func (s *DisputeService) Resolve(ctx context.Context, actor models.Actor, escrowID uuid.UUID, outcome models.DisputeOutcome, notes string) (*models.EscrowTransaction, error) {
	return s.Escrow.ResolveDispute(ctx, actor, escrowID, outcome, notes)
}
