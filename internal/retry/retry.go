// Package retry periodically retries undelivered bus publishes recorded in
// the failed_outgoing_messages table, moving them to the dead-letter table
// once they reach the configured attempt ceiling.
package retry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sankey-copier/relay-server/internal/persist"
	"go.uber.org/zap"
)

const batchSize = 50

// RawDeliverer is the synchronous delivery surface the retry worker needs:
// a real success/failure signal per attempt, unlike the fire-and-forget
// Publisher interface the router uses.
type RawDeliverer interface {
	TryDeliver(topic string, payload []byte) error
}

// Worker retries failed sends on a fixed interval.
type Worker struct {
	store       *persist.Store
	deliverer   RawDeliverer
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

// New builds a retry Worker.
func New(store *persist.Store, deliverer RawDeliverer, interval time.Duration, maxAttempts int, log *zap.Logger) *Worker {
	return &Worker{store: store, deliverer: deliverer, interval: interval, maxAttempts: maxAttempts, log: log}
}

// Run cycles once immediately, then on every tick, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.cycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	pending, err := w.store.FetchPendingFailedSends(ctx, batchSize)
	if err != nil {
		w.log.Error("fetch pending failed sends", zap.Error(err))
		return
	}

	for _, f := range pending {
		if err := w.deliverer.TryDeliver(f.Topic, f.Payload); err != nil {
			w.log.Warn("retry publish failed", zap.String("topic", f.Topic), zap.Error(err))
			w.bumpOrDeadLetter(ctx, f)
			continue
		}
		if err := w.store.MarkFailedSendProcessed(ctx, f.ID); err != nil {
			w.log.Error("mark failed send processed", zap.String("id", f.ID), zap.Error(err))
		}
	}
}

func (w *Worker) bumpOrDeadLetter(ctx context.Context, f persist.FailedOutgoing) {
	attempts, err := w.store.IncrementFailedSendAttempts(ctx, f.ID)
	if err != nil {
		w.log.Error("increment failed send attempts", zap.String("id", f.ID), zap.Error(err))
		return
	}
	if attempts < w.maxAttempts {
		return
	}
	f.Attempts = attempts
	if err := w.store.MoveFailedToDeadLetter(ctx, uuid.NewString(), f); err != nil {
		w.log.Error("move failed send to dead letter", zap.String("id", f.ID), zap.Error(err))
	}
}
