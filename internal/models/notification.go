package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotifyTransaction NotificationType = "transaction"
	NotifyDispute     NotificationType = "dispute"
	NotifySystem      NotificationType = "system"
)

// Notification is a persisted user-facing message.
type Notification struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"user_id"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	ReferenceType string           `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID       `json:"reference_id,omitempty"`
	Read          bool             `json:"is_read"`
	CreatedAt     time.Time        `json:"created_at"`
}
