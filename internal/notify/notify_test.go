package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/segmentio/kafka-go"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/repository/memory"
	"github.com/hmos/marketplace/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestEmitSwallowsSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	n := NewNotifier(sink)

	n.Emit(context.Background(),
		Event{UserID: uuid.New(), Type: models.NotifyTransaction},
		Event{UserID: uuid.New(), Type: models.NotifyTransaction},
	)
	if len(sink.events) != 2 {
		t.Errorf("expected both events attempted, got %d", len(sink.events))
	}
}

func TestEmitSkipsEventsWithoutRecipient(t *testing.T) {
	sink := &recordingSink{}
	NewNotifier(sink).Emit(context.Background(), Event{Type: models.NotifyDispute})
	if len(sink.events) != 0 {
		t.Errorf("expected no delivery, got %d", len(sink.events))
	}
}

func TestAfterCommitOnlyOnCommit(t *testing.T) {
	sink := &recordingSink{}
	n := NewNotifier(sink)
	st := memory.New()
	ctx := context.Background()
	ev := Event{UserID: uuid.New(), Type: models.NotifyTransaction}

	_ = st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n.AfterCommit(tx, ev)
		return errors.New("rollback")
	})
	if len(sink.events) != 0 {
		t.Fatalf("rolled back transaction delivered %d events", len(sink.events))
	}

	if err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n.AfterCommit(tx, ev)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(sink.events))
	}
}

// ---------------------------------------------------------------------------
// River
// ---------------------------------------------------------------------------

type memNotificationRepo struct {
	saved []*models.Notification
	err   error
}

func (r *memNotificationRepo) Insert(_ context.Context, n *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, n)
	return nil
}

func TestRiverSinkEnqueues(t *testing.T) {
	var got []DeliverArgs
	sink := NewRiverSink(func(_ context.Context, args DeliverArgs) error {
		got = append(got, args)
		return nil
	})
	ev := Event{UserID: uuid.New(), Type: models.NotifyTransaction, Title: "Bid accepted"}
	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Event != ev {
		t.Fatalf("unexpected enqueued args %+v", got)
	}
	if (DeliverArgs{}).Kind() != "deliver_notification" {
		t.Error("job kind changed")
	}
}

func TestDeliverWorkerPersists(t *testing.T) {
	repo := &memNotificationRepo{}
	w := NewDeliverWorker(repo)
	ref := uuid.New()
	ev := Event{UserID: uuid.New(), Type: models.NotifyDispute, Title: "Dispute resolved", ReferenceType: "escrow", ReferenceID: ref}

	if err := w.Work(context.Background(), &river.Job[DeliverArgs]{Args: DeliverArgs{Event: ev}}); err != nil {
		t.Fatal(err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.saved))
	}
	n := repo.saved[0]
	if n.UserID != ev.UserID || n.Type != ev.Type || n.ReferenceID == nil || *n.ReferenceID != ref {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestDeliverWorkerReturnsErrorForRetry(t *testing.T) {
	repo := &memNotificationRepo{err: errors.New("db down")}
	err := NewDeliverWorker(repo).Work(context.Background(), &river.Job[DeliverArgs]{Args: DeliverArgs{Event: Event{UserID: uuid.New()}}})
	if err == nil {
		t.Fatal("expected error so River retries the job")
	}
}

// ---------------------------------------------------------------------------
// Kafka
// ---------------------------------------------------------------------------

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaSinkKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	user := uuid.New()
	ev := Event{UserID: user, Type: models.NotifyTransaction, Title: "Deposit", Message: "Deposit approved"}

	if err := NewKafkaSink(w).Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != user.String() {
		t.Errorf("key = %s, want %s", msg.Key, user)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != ev {
		t.Errorf("decoded %+v, want %+v", decoded, ev)
	}
}

func TestKafkaSinkRejectsOffContractEvents(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)
	cases := map[string]Event{
		"no title":     {UserID: uuid.New(), Type: models.NotifyTransaction},
		"unknown type": {UserID: uuid.New(), Type: "marketing", Title: "Sale"},
		"nil user":     {Type: models.NotifySystem, Title: "Maintenance"},
	}
	for name, ev := range cases {
		err := sink.Send(context.Background(), ev)
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("%s: expected ErrInvalidEvent, got %v", name, err)
		}
	}
	if len(w.msgs) != 0 {
		t.Errorf("invalid events reached the broker: %d", len(w.msgs))
	}
}

func TestEmitClipsLongTextForKafka(t *testing.T) {
	w := &fakeWriter{}
	ev := Event{
		UserID:  uuid.New(),
		Type:    models.NotifyDispute,
		Title:   strings.Repeat("t", 250),
		Message: strings.Repeat("é", 3000),
	}
	NewNotifier(NewKafkaSink(w)).Emit(context.Background(), ev)

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	var decoded Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(decoded.Message); n != MaxMessageLen {
		t.Errorf("message length = %d, want %d", n, MaxMessageLen)
	}
	if n := utf8.RuneCountInString(decoded.Title); n != MaxTitleLen {
		t.Errorf("title length = %d, want %d", n, MaxTitleLen)
	}
	if !strings.HasPrefix(decoded.Message, strings.Repeat("é", 100)) {
		t.Error("clipped message lost its prefix")
	}
}

func TestClipLeavesShortTextAlone(t *testing.T) {
	s := strings.Repeat("x", MaxMessageLen)
	if got := clip(s, MaxMessageLen); got != s {
		t.Error("text at the limit was changed")
	}
}

func TestValidateEventJSON(t *testing.T) {
	ok := `{"user_id":"` + uuid.NewString() + `","type":"dispute","title":"Dispute filed","message":"","reference_type":"escrow","reference_id":"` + uuid.NewString() + `"}`
	if err := ValidateEventJSON([]byte(ok)); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}
	if err := ValidateEventJSON([]byte(`{"user_id":`)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("truncated JSON: expected ErrInvalidEvent, got %v", err)
	}
	extra := `{"user_id":"` + uuid.NewString() + `","type":"system","title":"x","message":"","reference_id":"` + uuid.NewString() + `","amount":"5"}`
	if err := ValidateEventJSON([]byte(extra)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("unknown field: expected ErrInvalidEvent, got %v", err)
	}
}
