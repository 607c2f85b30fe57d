// Package outbox stores integration events in Postgres and relays them to
// Kafka from a separate worker process.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payrun/internal/platform/querier"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"

	AggregatePayrollRun = "payroll_run"
)

type Event struct {
	ID            string
	RequestID     string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	Status        string
	RetryCount    int
	NextRetryAt   time.Time
}

func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("outbox id is required")
	}
	if e.Topic == "" {
		return errors.New("outbox topic is required")
	}
	if len(e.Payload) == 0 {
		return errors.New("outbox payload is required")
	}
	switch e.Status {
	case StatusPending, StatusSent, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid outbox status: %s", e.Status)
	}
}

type Repository struct {
	DB querier.Querier
}

func NewRepository(db querier.Querier) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) Create(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `
    INSERT INTO outbox_events (id, request_id, aggregate_type, aggregate_id, event_type, topic, payload, status)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, event.ID, event.RequestID, event.AggregateType, event.AggregateID, event.EventType, event.Topic, event.Payload, event.Status)
	return err
}

// ListPending returns events that are due, oldest first. Failed events come
// back once their backoff has elapsed.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.DB.Query(ctx, `
    SELECT id::text, COALESCE(request_id, ''), aggregate_type, aggregate_id, event_type, topic, payload, status, retry_count,
           COALESCE(next_retry_at, created_at)
    FROM outbox_events
    WHERE status IN ($1, $2)
      AND (next_retry_at IS NULL OR next_retry_at <= now())
    ORDER BY created_at ASC
    LIMIT $3
  `, StatusPending, StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RequestID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Topic, &e.Payload, &e.Status, &e.RetryCount, &e.NextRetryAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkSent(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `
    UPDATE outbox_events
    SET status = $2, processed_at = now(), error_message = NULL, updated_at = now()
    WHERE id = $1
  `, id, StatusSent)
	return err
}

// MarkFailed schedules a retry with linear backoff capped at 150 seconds.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.DB.Exec(ctx, `
    UPDATE outbox_events
    SET status = $2,
        retry_count = retry_count + 1,
        error_message = LEFT($3, 500),
        next_retry_at = now() + (LEAST(retry_count + 1, 10) * INTERVAL '15 seconds'),
        updated_at = now()
    WHERE id = $1
  `, id, StatusFailed, reason)
	return err
}
