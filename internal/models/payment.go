package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentKind string

const (
	PaymentDeposit  PaymentKind = "deposit"
	PaymentWithdraw PaymentKind = "withdraw"
)

type PaymentMethod string

const (
	MethodMpesa   PaymentMethod = "mpesa"
	MethodBinance PaymentMethod = "binance"
	MethodPaypal  PaymentMethod = "paypal"
	MethodAirtm   PaymentMethod = "airtm"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodMpesa, MethodBinance, MethodPaypal, MethodAirtm:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRequest is a deposit or withdrawal waiting on an admin decision.
type PaymentRequest struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Kind        PaymentKind     `json:"type"`
	Method      PaymentMethod   `json:"payment_method"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	Destination string          `json:"destination,omitempty"`
	AdminID     *uuid.UUID      `json:"admin_id,omitempty"`
	AdminNotes  string          `json:"admin_notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
