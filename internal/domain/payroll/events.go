package payroll

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payrun/internal/platform/querier"
)

const EventRunTransitioned = "payroll.run.transitioned"

// TransitionEvent is emitted after a status change has been committed.
// PreviousRunID is set when a regenerated draft supersedes a rejected run.
type TransitionEvent struct {
	RunID         string    `json:"runId"`
	PreviousRunID string    `json:"previousRunId,omitempty"`
	Entity        string    `json:"entity"`
	Period        string    `json:"payrollPeriod"`
	From          RunStatus `json:"from"`
	To            RunStatus `json:"to"`
	Action        Action    `json:"action"`
	ActorID       string    `json:"actorId"`
	Role          Role      `json:"role"`
	NextRole      Role      `json:"nextRole,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// TransitionedEvent describes a status change applied by t to run.
func TransitionedEvent(t Transition, run PayrollRun) TransitionEvent {
	return TransitionEvent{
		RunID:      run.ID,
		Entity:     run.Entity,
		Period:     FormatPeriod(run.PayrollPeriod),
		From:       t.From,
		To:         t.To,
		Action:     t.Action,
		ActorID:    t.ActorID,
		Role:       t.Role,
		NextRole:   NextRole(t.To),
		Reason:     t.Reason,
		OccurredAt: t.At,
	}
}

// RegeneratedEvent describes a new draft that supersedes a rejected run.
// It returns false for runs that supersede nothing.
func RegeneratedEvent(run PayrollRun) (TransitionEvent, bool) {
	if run.SupersedesRunID == nil {
		return TransitionEvent{}, false
	}
	return TransitionEvent{
		RunID:         run.ID,
		PreviousRunID: *run.SupersedesRunID,
		Entity:        run.Entity,
		Period:        FormatPeriod(run.PayrollPeriod),
		From:          StatusRejected,
		To:            StatusDraft,
		Action:        ActionRegenerate,
		ActorID:       run.SpecialistID,
		Role:          RoleSpecialist,
		NextRole:      NextRole(StatusDraft),
		OccurredAt:    run.CreatedAt,
	}, true
}

// EventJournal records transition events with the same querier, and so the
// same transaction, that applies the status change. A failed append rolls the
// change back.
type EventJournal interface {
	Append(ctx context.Context, q querier.Querier, event TransitionEvent) error
}

// TransitionListener is notified of committed transitions. Errors are logged
// and never undo the transition.
type TransitionListener interface {
	RunTransitioned(ctx context.Context, event TransitionEvent) error
}

type ListenerFunc func(ctx context.Context, event TransitionEvent) error

func (f ListenerFunc) RunTransitioned(ctx context.Context, event TransitionEvent) error {
	return f(ctx, event)
}

// LogListener writes each transition to log.
func LogListener(log *zap.Logger) TransitionListener {
	return ListenerFunc(func(_ context.Context, event TransitionEvent) error {
		log.Info("payroll run transitioned",
			zap.String("run_id", event.RunID),
			zap.String("entity", event.Entity),
			zap.String("period", event.Period),
			zap.String("from", string(event.From)),
			zap.String("to", string(event.To)),
			zap.String("action", string(event.Action)),
			zap.String("actor_id", event.ActorID),
			zap.String("next_role", string(event.NextRole)),
		)
		return nil
	})
}

// Recorder receives engine counters.
type Recorder interface {
	DraftGenerated(employees, skipped int)
	Transitioned(action Action)
	TransitionRejected(action Action)
}

type nopRecorder struct{}

func (nopRecorder) DraftGenerated(int, int)   {}
func (nopRecorder) Transitioned(Action)       {}
func (nopRecorder) TransitionRejected(Action) {}
