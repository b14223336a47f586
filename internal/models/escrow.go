package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowActive    EscrowStatus = "active"
	EscrowCompleted EscrowStatus = "completed"
	EscrowDisputed  EscrowStatus = "disputed"
	EscrowRefunded  EscrowStatus = "refunded"
	EscrowCancelled EscrowStatus = "cancelled"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowActive:   {EscrowCompleted, EscrowDisputed, EscrowCancelled},
	EscrowDisputed: {EscrowCompleted, EscrowRefunded},
}

// CanTransition reports whether s may move to next.
func (s EscrowStatus) CanTransition(next EscrowStatus) bool {
	for _, allowed := range escrowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s EscrowStatus) Terminal() bool {
	return len(escrowTransitions[s]) == 0
}

// EscrowReference is what an escrow pays for.
type EscrowReference string

const (
	EscrowRefProduct EscrowReference = "product"
	EscrowRefAsset   EscrowReference = "asset"
	EscrowRefJob     EscrowReference = "job"
)

func (r EscrowReference) Valid() bool {
	return r == EscrowRefProduct || r == EscrowRefAsset || r == EscrowRefJob
}

// Party is a side of an escrow.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// DisputeOutcome is an admin's decision on a disputed escrow.
type DisputeOutcome string

const (
	OutcomeRefundBuyer  DisputeOutcome = "refund_buyer"
	OutcomePayoutSeller DisputeOutcome = "payout_seller"
)

func (o DisputeOutcome) Valid() bool {
	return o == OutcomeRefundBuyer || o == OutcomePayoutSeller
}

// DefaultCommissionRate is the platform's cut of every escrow.
var DefaultCommissionRate = decimal.RequireFromString("0.10")

// Commission is amount*rate rounded half away from zero to cents.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

type EscrowTransaction struct {
	ID              uuid.UUID       `json:"id"`
	BuyerID         uuid.UUID       `json:"buyer_id"`
	SellerID        *uuid.UUID      `json:"seller_id,omitempty"`
	ReferenceType   EscrowReference `json:"reference_type"`
	ReferenceID     uuid.UUID       `json:"reference_id"`
	Amount          decimal.Decimal `json:"amount"`
	Commission      decimal.Decimal `json:"commission"`
	Status          EscrowStatus    `json:"status"`
	WorkSubmitted   bool            `json:"work_submitted"`
	WorkText        string          `json:"work_text,omitempty"`
	WorkImages      []string        `json:"work_images,omitempty"`
	RevisionCount   int             `json:"revision_count"`
	BuyerFeedback   string          `json:"buyer_feedback,omitempty"`
	DisputeReason   string          `json:"dispute_reason,omitempty"`
	DisputeFiledBy  Party           `json:"dispute_filed_by,omitempty"`
	AdminNotes      string          `json:"admin_notes,omitempty"`
	ResolvedBy      *uuid.UUID      `json:"resolved_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	WorkSubmittedAt *time.Time      `json:"work_submitted_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DisputedAt      *time.Time      `json:"disputed_at,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// Payout is what the seller receives on completion.
func (e *EscrowTransaction) Payout() decimal.Decimal {
	return e.Amount.Sub(e.Commission)
}

// PartyOf returns which side userID is on, if any.
func (e *EscrowTransaction) PartyOf(userID uuid.UUID) (Party, bool) {
	if e.BuyerID == userID {
		return PartyBuyer, true
	}
	if e.SellerID != nil && *e.SellerID == userID {
		return PartySeller, true
	}
	return "", false
}

type RevisionStatus string

const (
	RevisionPending   RevisionStatus = "pending"
	RevisionRequested RevisionStatus = "revision_requested"
	RevisionApproved  RevisionStatus = "approved"
)

// WorkRevision is one submission of work against an escrow.
type WorkRevision struct {
	ID                  uuid.UUID      `json:"id"`
	EscrowTransactionID uuid.UUID      `json:"escrow_transaction_id"`
	SellerID            uuid.UUID      `json:"seller_id"`
	RevisionNumber      int            `json:"revision_number"`
	SubmittedText       string         `json:"submitted_text,omitempty"`
	SubmittedImages     []string       `json:"submitted_images,omitempty"`
	BuyerFeedback       string         `json:"buyer_feedback,omitempty"`
	Status              RevisionStatus `json:"status"`
	SubmittedAt         time.Time      `json:"submitted_at"`
	ReviewedAt          *time.Time     `json:"reviewed_at,omitempty"`
}
