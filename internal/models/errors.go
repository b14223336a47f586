package models

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrDuplicateBid      = errors.New("seller already bid on this job")
	ErrBiddingClosed     = errors.New("bidding closed")
	ErrWorkNotSubmitted  = errors.New("work not submitted")
	// ErrConflict is returned when a row changed status underneath a compare-and-swap update.
	ErrConflict      = errors.New("concurrent update conflict")
	ErrNotFound      = errors.New("not found")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidInput  = errors.New("invalid input")
)
