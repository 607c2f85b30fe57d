package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"payrun/internal/domain/payroll"
	"payrun/internal/platform/querier"
	"payrun/internal/requestctx"
)

type Creator interface {
	Create(ctx context.Context, event Event) error
}

// Journal turns run transitions into pending outbox rows written by the
// transaction that applies the transition.
type Journal struct {
	Topic string
	// NewCreator binds a repository to the caller's transaction.
	NewCreator func(q querier.Querier) Creator
}

var _ payroll.EventJournal = (*Journal)(nil)

func NewJournal(topic string) *Journal {
	return &Journal{
		Topic:      topic,
		NewCreator: func(q querier.Querier) Creator { return NewRepository(q) },
	}
}

func (j *Journal) Append(ctx context.Context, q querier.Querier, event payroll.TransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return j.NewCreator(q).Create(ctx, Event{
		ID:            uuid.NewString(),
		RequestID:     requestctx.GetRequestID(ctx),
		AggregateType: AggregatePayrollRun,
		AggregateID:   event.RunID,
		EventType:     payroll.EventRunTransitioned,
		Topic:         j.Topic,
		Payload:       payload,
		Status:        StatusPending,
	})
}
