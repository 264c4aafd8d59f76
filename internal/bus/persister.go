package bus

import (
	"context"

	"github.com/google/uuid"
	"github.com/sankey-copier/relay-server/internal/persist"
	"go.uber.org/zap"
)

// RunFailurePersister drains b's failure channel into store, giving every
// failed publish exactly one failed_outgoing_messages row. Blocks until ctx
// is cancelled.
func RunFailurePersister(ctx context.Context, b *Bus, store *persist.Store, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-b.Failures():
			row := persist.FailedOutgoing{
				ID:      uuid.NewString(),
				Topic:   f.Topic,
				Payload: f.Payload,
				Error:   f.Error,
			}
			if err := store.RecordFailedSend(ctx, row); err != nil {
				log.Error("persist failed send", zap.String("topic", f.Topic), zap.Error(err))
			}
		}
	}
}
