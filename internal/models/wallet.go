package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceType names one of the three balances a wallet carries.
type BalanceType string

const (
	BalanceAvailable BalanceType = "available"
	BalancePending   BalanceType = "pending"
	BalanceFrozen    BalanceType = "frozen"
)

func (b BalanceType) Valid() bool {
	switch b {
	case BalanceAvailable, BalancePending, BalanceFrozen:
		return true
	}
	return false
}

// EntryKind is the ledger entry kind.
type EntryKind string

const (
	EntryCredit   EntryKind = "credit"
	EntryDebit    EntryKind = "debit"
	EntryFreeze   EntryKind = "freeze"
	EntryUnfreeze EntryKind = "unfreeze"
)

// ReferenceType ties a ledger entry back to the business event that produced it.
type ReferenceType string

const (
	RefJobPost       ReferenceType = "job_post"
	RefJobCompletion ReferenceType = "job_completion"
	RefCancel        ReferenceType = "cancel"
	RefPurchase      ReferenceType = "purchase"
	RefSale          ReferenceType = "sale"
	RefRefund        ReferenceType = "refund"
	RefDeposit       ReferenceType = "deposit"
	RefWithdraw      ReferenceType = "withdraw"
)

type Wallet struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	FrozenBalance    decimal.Decimal `json:"frozen_balance"`
	Currency         string          `json:"currency"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Balance returns the named balance.
func (w *Wallet) Balance(bt BalanceType) decimal.Decimal {
	switch bt {
	case BalancePending:
		return w.PendingBalance
	case BalanceFrozen:
		return w.FrozenBalance
	default:
		return w.AvailableBalance
	}
}

// SetBalance overwrites the named balance.
func (w *Wallet) SetBalance(bt BalanceType, v decimal.Decimal) {
	switch bt {
	case BalancePending:
		w.PendingBalance = v
	case BalanceFrozen:
		w.FrozenBalance = v
	default:
		w.AvailableBalance = v
	}
}

// WalletTransaction is one append-only ledger row. Amount is always positive;
// the direction is implied by Kind and BalanceType (see SignedDelta).
type WalletTransaction struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Kind          EntryKind       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceType   BalanceType     `json:"balance_type"`
	ReferenceType ReferenceType   `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
	Description   string          `json:"description"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SignedDelta returns the change an entry of kind applies to balance bt.
// freeze and unfreeze only move money between available and frozen.
func SignedDelta(kind EntryKind, bt BalanceType, amount decimal.Decimal) (decimal.Decimal, error) {
	if !bt.Valid() {
		return decimal.Zero, fmt.Errorf("%w: balance type %q", ErrInvalidInput, bt)
	}
	switch kind {
	case EntryCredit:
		return amount, nil
	case EntryDebit:
		return amount.Neg(), nil
	case EntryFreeze:
		switch bt {
		case BalanceAvailable:
			return amount.Neg(), nil
		case BalanceFrozen:
			return amount, nil
		}
	case EntryUnfreeze:
		switch bt {
		case BalanceAvailable:
			return amount, nil
		case BalanceFrozen:
			return amount.Neg(), nil
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: entry kind %q", ErrInvalidInput, kind)
	}
	return decimal.Zero, fmt.Errorf("%w: %s does not apply to %s balance", ErrInvalidInput, kind, bt)
}

// Delta is SignedDelta for a recorded entry. Entries are validated on write,
// so an invalid combination here yields zero.
func (t *WalletTransaction) Delta() decimal.Decimal {
	d, err := SignedDelta(t.Kind, t.BalanceType, t.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}
