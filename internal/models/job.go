package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	JobOpen       JobStatus = "open"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobOpen:       {JobInProgress, JobCancelled},
	JobInProgress: {JobCompleted, JobCancelled},
}

func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// DefaultMaxBids caps bids per job when the poster gives no limit.
const DefaultMaxBids = 10

type JobPosting struct {
	ID                  uuid.UUID       `json:"id"`
	BuyerID             uuid.UUID       `json:"buyer_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Category            string          `json:"category,omitempty"`
	Budget              decimal.Decimal `json:"budget"`
	Status              JobStatus       `json:"status"`
	EscrowTransactionID uuid.UUID       `json:"escrow_transaction_id"`
	AcceptedSellerID    *uuid.UUID      `json:"accepted_seller_id,omitempty"`
	MaxBids             int             `json:"max_bids"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type JobBid struct {
	ID        uuid.UUID       `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	Proposal  string          `json:"proposal"`
	Status    BidStatus       `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}
