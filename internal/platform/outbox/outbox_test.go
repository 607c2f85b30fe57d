package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrun/internal/domain/payroll"
	"payrun/internal/platform/querier"
	"payrun/internal/requestctx"
)

type fakeStore struct {
	ListPendingFn func(ctx context.Context, limit int) ([]Event, error)
	sent          []string
	failed        map[string]string
}

func (f *fakeStore) ListPending(ctx context.Context, limit int) ([]Event, error) {
	return f.ListPendingFn(ctx, limit)
}

func (f *fakeStore) MarkSent(_ context.Context, id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, reason string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = reason
	return nil
}

type fakePublisher struct {
	PublishFn func(ctx context.Context, event Event) error
}

func (f fakePublisher) Publish(ctx context.Context, event Event) error {
	return f.PublishFn(ctx, event)
}

// fakeQuerier stands in for a pgx.Tx; the journal only passes it along.
type fakeQuerier struct {
	querier.Querier
}

type fakeCreator struct {
	events []Event
}

func (f *fakeCreator) Create(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	f.events = append(f.events, event)
	return nil
}

func TestWorkerMarksSentAndFailed(t *testing.T) {
	store := &fakeStore{
		ListPendingFn: func(_ context.Context, limit int) ([]Event, error) {
			assert.Equal(t, 10, limit)
			return []Event{
				{ID: "e1", Topic: "payroll.runs", EventType: payroll.EventRunTransitioned},
				{ID: "e2", Topic: "payroll.runs", EventType: payroll.EventRunTransitioned},
				{ID: "e3", Topic: "payroll.runs", EventType: payroll.EventRunTransitioned},
			}, nil
		},
	}
	publisher := fakePublisher{PublishFn: func(_ context.Context, event Event) error {
		if event.ID == "e2" {
			return errors.New("broker unavailable")
		}
		return nil
	}}

	w := NewWorker(store, publisher, zap.NewNop(), time.Second, 10)
	sent, failed, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"e1", "e3"}, store.sent)
	assert.Equal(t, map[string]string{"e2": "broker unavailable"}, store.failed)
}

func TestWorkerReturnsListError(t *testing.T) {
	store := &fakeStore{ListPendingFn: func(context.Context, int) ([]Event, error) {
		return nil, errors.New("db down")
	}}
	w := NewWorker(store, fakePublisher{}, zap.NewNop(), 0, 0)
	assert.Equal(t, 50, w.BatchSize)
	assert.Equal(t, 3*time.Second, w.PollInterval)

	_, _, err := w.ProcessOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{ListPendingFn: func(context.Context, int) ([]Event, error) { return nil, nil }}
	w := NewWorker(store, fakePublisher{}, zap.NewNop(), time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestJournalWritesPendingEventThroughCallerQuerier(t *testing.T) {
	creator := &fakeCreator{}
	tx := &fakeQuerier{}
	journal := NewJournal("payroll.runs")
	var bound querier.Querier
	journal.NewCreator = func(q querier.Querier) Creator {
		bound = q
		return creator
	}

	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	event := payroll.TransitionEvent{
		RunID:    "run-1",
		Entity:   "acme",
		Period:   "2025-03",
		From:     payroll.StatusDraft,
		To:       payroll.StatusUnderReview,
		Action:   payroll.ActionPublish,
		ActorID:  "u-1",
		Role:     payroll.RoleSpecialist,
		NextRole: payroll.RoleManager,
	}
	require.NoError(t, journal.Append(ctx, tx, event))
	assert.Same(t, tx, bound)
	require.Len(t, creator.events, 1)

	got := creator.events[0]
	assert.Equal(t, "run-1", got.AggregateID)
	assert.Equal(t, AggregatePayrollRun, got.AggregateType)
	assert.Equal(t, payroll.EventRunTransitioned, got.EventType)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "payroll.runs", got.Topic)
	assert.Equal(t, "req-1", got.RequestID)
	assert.NotEmpty(t, got.ID)

	var decoded payroll.TransitionEvent
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	assert.Equal(t, payroll.StatusUnderReview, decoded.To)
	assert.Equal(t, payroll.RoleManager, decoded.NextRole)
}

func TestJournalDefaultCreatorUsesRepository(t *testing.T) {
	tx := &fakeQuerier{}
	repo, ok := NewJournal("payroll.runs").NewCreator(tx).(*Repository)
	require.True(t, ok)
	assert.Same(t, tx, repo.DB)
}

func TestMessageKeysByAggregate(t *testing.T) {
	msg := Message(Event{ID: "e1", AggregateID: "run-7", Topic: "payroll.runs", EventType: "x", Payload: []byte(`{}`)})
	assert.Equal(t, "payroll.runs", msg.Topic)
	assert.Equal(t, []byte("run-7"), msg.Key)
	assert.Equal(t, "event_id", msg.Headers[0].Key)
}

func TestEventValidate(t *testing.T) {
	valid := Event{ID: "e1", Topic: "t", Payload: []byte(`{}`), Status: StatusPending}
	assert.NoError(t, valid.Validate())

	missingTopic := valid
	missingTopic.Topic = ""
	assert.Error(t, missingTopic.Validate())

	badStatus := valid
	badStatus.Status = "queued"
	assert.Error(t, badStatus.Validate())
}
