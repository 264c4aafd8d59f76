package retry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sankey-copier/relay-server/internal/persist"
	"go.uber.org/zap"
)

type fakeDeliverer struct {
	shouldFail func(topic string) bool
}

func (f *fakeDeliverer) TryDeliver(topic string, payload []byte) error {
	if f.shouldFail != nil && f.shouldFail(topic) {
		return errors.New("simulated delivery failure")
	}
	return nil
}

func openTestStore(t *testing.T) *persist.Store {
	t.Helper()
	s, err := persist.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCycleMarksSuccessfulRetryProcessed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.RecordFailedSend(ctx, persist.FailedOutgoing{ID: "f1", Topic: "trade/a/b", Payload: []byte("x"), Error: "boom"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	w := New(store, &fakeDeliverer{}, time.Second, 5, zap.NewNop())
	w.cycle(ctx)

	pending, err := store.FetchPendingFailedSends(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected row marked processed, got %+v", pending)
	}
}

func TestCycleDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.RecordFailedSend(ctx, persist.FailedOutgoing{ID: "f1", Topic: "trade/a/b", Payload: []byte("x"), Error: "boom"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	alwaysFail := &fakeDeliverer{shouldFail: func(string) bool { return true }}
	w := New(store, alwaysFail, time.Second, 2, zap.NewNop())

	w.cycle(ctx) // attempts -> 2, hits max, moves to dead letter

	pending, err := store.FetchPendingFailedSends(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected row moved to dead letter, got %+v", pending)
	}

	var count int
	row := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_outgoing_dead_letters WHERE original_id = ?`, "f1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one dead letter row, got %d", count)
	}
}
