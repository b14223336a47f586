// Package notify delivers user-facing notifications for escrow, job and
// payment events. Delivery happens after the business transaction commits and
// never affects its outcome.
package notify

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

// Upper bounds on Event text, in characters. Emit clips longer text so every
// sink accepts the event.
const (
	MaxTitleLen   = 200
	MaxMessageLen = 2000
)

type Event struct {
	UserID        uuid.UUID               `json:"user_id"`
	Type          models.NotificationType `json:"type"`
	Title         string                  `json:"title"`
	Message       string                  `json:"message"`
	ReferenceType string                  `json:"reference_type,omitempty"`
	ReferenceID   uuid.UUID               `json:"reference_id"`
}

// clipped returns e with Title and Message cut to their maximum lengths.
func (e Event) clipped() Event {
	e.Title = clip(e.Title, MaxTitleLen)
	e.Message = clip(e.Message, MaxMessageLen)
	return e
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}

func (e Event) Notification() *models.Notification {
	n := &models.Notification{
		ID:            uuid.New(),
		UserID:        e.UserID,
		Type:          e.Type,
		Title:         e.Title,
		Message:       e.Message,
		ReferenceType: e.ReferenceType,
	}
	if e.ReferenceID != uuid.Nil {
		id := e.ReferenceID
		n.ReferenceID = &id
	}
	return n
}

// Sink hands one event to a delivery backend.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

type Notifier struct {
	sink Sink
}

func NewNotifier(sink Sink) *Notifier {
	if sink == nil {
		sink = LogSink{}
	}
	return &Notifier{sink: sink}
}

// Emit sends each event, clipped to the text limits, and logs failures.
func (n *Notifier) Emit(ctx context.Context, events ...Event) {
	for _, e := range events {
		if e.UserID == uuid.Nil {
			continue
		}
		e = e.clipped()
		if err := n.sink.Send(ctx, e); err != nil {
			slog.Error("notification delivery failed",
				"type", e.Type, "user_id", e.UserID, "reference_id", e.ReferenceID, "error", err)
		}
	}
}

// AfterCommit queues events to be emitted once tx commits.
func (n *Notifier) AfterCommit(tx store.Tx, events ...Event) {
	if n == nil || len(events) == 0 {
		return
	}
	tx.AfterCommit(func(ctx context.Context) { n.Emit(ctx, events...) })
}

// LogSink writes events to the structured log only.
type LogSink struct{}

func (LogSink) Send(_ context.Context, e Event) error {
	slog.Info("notification", "type", e.Type, "user_id", e.UserID, "title", e.Title, "reference_id", e.ReferenceID)
	return nil
}
