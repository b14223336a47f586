package notify

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/hmos/marketplace/internal/models"
)

type DeliverArgs struct {
	Event Event `json:"event"`
}

func (DeliverArgs) Kind() string { return "deliver_notification" }

// InsertFunc enqueues a delivery job. It is set once the River client exists.
type InsertFunc func(ctx context.Context, args DeliverArgs) error

// RiverSink enqueues each event as a River job; DeliverWorker persists it.
type RiverSink struct {
	insert InsertFunc
}

func NewRiverSink(insert InsertFunc) *RiverSink {
	return &RiverSink{insert: insert}
}

func (s *RiverSink) Send(ctx context.Context, e Event) error {
	if err := s.insert(ctx, DeliverArgs{Event: e}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// NotificationRepo stores delivered notifications.
type NotificationRepo interface {
	Insert(ctx context.Context, n *models.Notification) error
}

type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	repo NotificationRepo
}

func NewDeliverWorker(repo NotificationRepo) *DeliverWorker {
	return &DeliverWorker{repo: repo}
}

func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	n := job.Args.Event.Notification()
	if err := w.repo.Insert(ctx, n); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	return nil
}
