package timeoutmon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"github.com/sankey-copier/relay-server/internal/wire"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	published map[string]any
}

func (p *recordingPublisher) PublishToTopic(topic string, msg any) error {
	if p.published == nil {
		p.published = make(map[string]any)
	}
	p.published[topic] = msg
	return nil
}

func (p *recordingPublisher) PublishRaw(topic string, payload []byte) error { return nil }

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

func seedConnectedCluster(t *testing.T, ctx context.Context, store *persist.Store, conns *conntrack.Tracker, pub *recordingPublisher) {
	t.Helper()
	if err := store.CreateTradeGroup(ctx, persist.TradeGroup{ID: "MASTER", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := store.AddMember(ctx, persist.Member{TradeGroupID: "MASTER", SlaveAccountID: "SLAVE", WebUIEnabled: true, ConfigVersion: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "SLAVE", Role: wire.RoleSlave, IsTradeAllowed: true})

	u := statusupdater.New(store, conns, pub, zap.NewNop())
	if err := u.RecomputeCluster(ctx, "MASTER"); err != nil {
		t.Fatalf("seed recompute: %v", err)
	}
	members, _ := store.ListMembers(ctx, "MASTER")
	if members[0].Status != 2 {
		t.Fatalf("expected seeded member Connected(2), got %d", members[0].Status)
	}
}

func TestSweepMasterTimeoutDemotesAllMembers(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	conns := conntrack.New(10 * time.Millisecond)
	pub := &recordingPublisher{}
	seedConnectedCluster(t, ctx, store, conns, pub)

	time.Sleep(20 * time.Millisecond)
	// slave stays fresh: re-heartbeat after the sleep window so only the master goes stale.
	conns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "SLAVE", Role: wire.RoleSlave, IsTradeAllowed: true})
	// forget the seed's publishes so the check below sees only the sweep's.
	pub.published = nil
	u := statusupdater.New(store, conns, pub, zap.NewNop())
	mon := New(conns, u, time.Hour, zap.NewNop())

	mon.sweep(ctx)

	members, err := store.ListMembers(ctx, "MASTER")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if members[0].Status != 1 {
		t.Fatalf("expected member demoted to Enabled(1) after master timeout, got %d", members[0].Status)
	}
	if _, ok := pub.published["config/SLAVE"]; !ok {
		t.Fatal("expected a SlaveConfig republished on config/SLAVE")
	}
}

func TestSweepSlaveTimeoutAffectsOnlyItself(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	conns := conntrack.New(time.Hour)
	pub := &recordingPublisher{}
	seedConnectedCluster(t, ctx, store, conns, pub)

	tightConns := conntrack.New(10 * time.Millisecond)
	tightConns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})
	tightConns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "SLAVE", Role: wire.RoleSlave, IsTradeAllowed: true})
	time.Sleep(20 * time.Millisecond)
	// master stays fresh: re-heartbeat after the sleep window so only the slave goes stale.
	tightConns.UpdateFromHeartbeat(&wire.Heartbeat{AccountID: "MASTER", Role: wire.RoleMaster, IsTradeAllowed: true})

	u := statusupdater.New(store, tightConns, pub, zap.NewNop())
	mon := New(tightConns, u, time.Hour, zap.NewNop())

	mon.sweep(ctx)

	members, err := store.ListMembers(ctx, "MASTER")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if members[0].Status != 1 {
		t.Fatalf("expected member demoted to Enabled(1) after its own timeout, got %d", members[0].Status)
	}
	group, err := store.GetTradeGroup(ctx, "MASTER")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Status != 2 {
		t.Fatalf("expected master status untouched by slave-only timeout, got %d", group.Status)
	}
}
