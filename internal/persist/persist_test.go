package persist

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTradeGroup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.CreateTradeGroup(ctx, TradeGroup{ID: "MASTER_1", WebUIEnabled: true, ConfigVersion: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetTradeGroup(ctx, "MASTER_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != "MASTER_1" || !got.WebUIEnabled {
		t.Fatalf("unexpected group: %+v", got)
	}
}

func TestGetTradeGroupMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetTradeGroup(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

// P7: inserting a member whose trade_group_id does not exist fails with a
// referential-integrity error.
func TestAddMemberWithoutParentFails(t *testing.T) {
	s := openTestStore(t)
	err := s.AddMember(context.Background(), Member{TradeGroupID: "GHOST", SlaveAccountID: "SLAVE_1", ConfigVersion: 1})
	if err == nil {
		t.Fatal("expected error")
	}
}

// P6: deleting a trade group deletes all its members (cascade).
func TestDeleteTradeGroupCascadesMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateTradeGroup(ctx, TradeGroup{ID: "MASTER_1", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddMember(ctx, Member{TradeGroupID: "MASTER_1", SlaveAccountID: "SLAVE_1", ConfigVersion: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if err := s.DeleteTradeGroup(ctx, "MASTER_1"); err != nil {
		t.Fatalf("delete group: %v", err)
	}

	members, err := s.ListMembers(ctx, "MASTER_1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected members cascade-deleted, got %+v", members)
	}
}

func TestUniqueMemberPerGroup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTradeGroup(ctx, TradeGroup{ID: "MASTER_1", ConfigVersion: 1}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddMember(ctx, Member{TradeGroupID: "MASTER_1", SlaveAccountID: "SLAVE_1", ConfigVersion: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	err := s.AddMember(ctx, Member{TradeGroupID: "MASTER_1", SlaveAccountID: "SLAVE_1", ConfigVersion: 1})
	if err == nil {
		t.Fatal("expected duplicate member insert to fail")
	}
}

func TestUpdateMasterStatusesEnabledOnlyDemotesConnected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTradeGroup(ctx, TradeGroup{ID: "MASTER_1", ConfigVersion: 1}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddMember(ctx, Member{TradeGroupID: "MASTER_1", SlaveAccountID: "CONNECTED_SLAVE", Status: 2, ConfigVersion: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.AddMember(ctx, Member{TradeGroupID: "MASTER_1", SlaveAccountID: "DISABLED_SLAVE", Status: 0, ConfigVersion: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	affected, err := s.UpdateMasterStatusesEnabled(ctx, "MASTER_1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(affected) != 1 || affected[0] != "CONNECTED_SLAVE" {
		t.Fatalf("expected only CONNECTED_SLAVE affected, got %v", affected)
	}

	members, err := s.ListMembers(ctx, "MASTER_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	statuses := map[string]int{}
	for _, m := range members {
		statuses[m.SlaveAccountID] = m.Status
	}
	if statuses["CONNECTED_SLAVE"] != 1 {
		t.Fatalf("expected CONNECTED_SLAVE demoted to 1, got %d", statuses["CONNECTED_SLAVE"])
	}
	if statuses["DISABLED_SLAVE"] != 0 {
		t.Fatalf("expected DISABLED_SLAVE untouched at 0, got %d", statuses["DISABLED_SLAVE"])
	}
}

// P3: after a successful send no FailedOutgoing row exists; after a failure
// exactly one exists with attempts=1.
func TestRecordFailedSendThenProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordFailedSend(ctx, FailedOutgoing{ID: "f1", Topic: "trade/a/b", Payload: []byte("x"), Error: "boom"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	pending, err := s.FetchPendingFailedSends(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("expected one pending row with attempts=1, got %+v", pending)
	}

	if err := s.MarkFailedSendProcessed(ctx, "f1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	pending, err = s.FetchPendingFailedSends(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows after processing, got %+v", pending)
	}
}

// P9: the retry worker moves a row to dead-letter iff attempts >= 5.
func TestMoveFailedToDeadLetter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := FailedOutgoing{ID: "f1", Topic: "trade/a/b", Payload: []byte("x"), Error: "boom", Attempts: 5}
	if err := s.RecordFailedSend(ctx, f); err != nil {
		t.Fatalf("record: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := s.IncrementFailedSendAttempts(ctx, "f1"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	if err := s.MoveFailedToDeadLetter(ctx, "dl1", f); err != nil {
		t.Fatalf("move to dead letter: %v", err)
	}

	pending, err := s.FetchPendingFailedSends(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected original row removed, got %+v", pending)
	}

	var count int
	row := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_outgoing_dead_letters WHERE original_id = ?`, "f1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one dead letter row, got %d", count)
	}
}

func TestGlobalSettingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetGlobalSetting(ctx, "vlogs_enabled"); err != nil || ok {
		t.Fatalf("expected no value yet, got ok=%v err=%v", ok, err)
	}

	if err := s.SetGlobalSetting(ctx, "vlogs_enabled", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := s.GetGlobalSetting(ctx, "vlogs_enabled")
	if err != nil || !ok || val != "true" {
		t.Fatalf("expected true, got val=%q ok=%v err=%v", val, ok, err)
	}
}
