package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Store interface {
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type Worker struct {
	Store        Store
	Publisher    Publisher
	Logger       *zap.Logger
	PollInterval time.Duration
	BatchSize    int
}

func NewWorker(store Store, publisher Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		Store:        store,
		Publisher:    publisher,
		Logger:       logger.Named("outbox.worker"),
		PollInterval: pollInterval,
		BatchSize:    batchSize,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	w.Logger.Info("outbox worker started", zap.Duration("poll_interval", w.PollInterval))
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, _, err := w.ProcessOnce(ctx); err != nil {
				w.Logger.Error("process outbox events failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce relays one batch and reports how many events were sent and
// how many were scheduled for retry.
func (w *Worker) ProcessOnce(ctx context.Context) (sent, failed int, err error) {
	events, err := w.Store.ListPending(ctx, w.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, event := range events {
		if err := w.Publisher.Publish(ctx, event); err != nil {
			failed++
			w.Logger.Error("publish outbox event failed",
				zap.String("outbox_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.String("topic", event.Topic),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err),
			)
			if markErr := w.Store.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				w.Logger.Error("mark outbox failed failed", zap.String("outbox_id", event.ID), zap.Error(markErr))
			}
			continue
		}
		if err := w.Store.MarkSent(ctx, event.ID); err != nil {
			w.Logger.Error("mark outbox sent failed", zap.String("outbox_id", event.ID), zap.Error(err))
			continue
		}
		sent++
		w.Logger.Debug("outbox event sent",
			zap.String("outbox_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
		)
	}
	return sent, failed, nil
}
