// Package snapshot broadcasts a full system-state snapshot to UI clients on
// a timer that only runs while at least one client is subscribed, grounded
// on the ref-counted client registry pattern the connection manager uses
// for fan-out.
package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"go.uber.org/zap"
)

// Topic is the bus topic snapshots are published on.
const Topic = "snapshot"

// SystemStateSnapshot is the full point-in-time view handed to UI clients.
type SystemStateSnapshot struct {
	Connections []conntrack.Record  `msgpack:"connections"`
	TradeGroups []persist.TradeGroup `msgpack:"trade_groups"`
	Members     []persist.Member    `msgpack:"members"`
}

// Broadcaster owns a single on-demand timer, started on the 0->1 subscriber
// transition and stopped on the 1->0 transition. At most one compose runs at
// a time; a tick that lands while a compose is still in flight is dropped,
// never queued.
type Broadcaster struct {
	conns    *conntrack.Tracker
	store    *persist.Store
	pub      bus.Publisher
	interval time.Duration
	log      *zap.Logger

	mu          sync.Mutex
	subscribers int
	cancel      context.CancelFunc

	composing atomic.Bool
}

// New builds a Broadcaster. No timer runs until the first Subscribe call.
func New(conns *conntrack.Tracker, store *persist.Store, pub bus.Publisher, interval time.Duration, log *zap.Logger) *Broadcaster {
	return &Broadcaster{conns: conns, store: store, pub: pub, interval: interval, log: log}
}

// Subscribe registers one interested UI client. The first subscriber starts
// the timer.
func (b *Broadcaster) Subscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers++
	if b.subscribers == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.run(ctx)
	}
}

// Unsubscribe removes one interested UI client. The last subscriber leaving
// stops the timer.
func (b *Broadcaster) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == 0 {
		return
	}
	b.subscribers--
	if b.subscribers == 0 && b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// SubscriberCount reports the current reference count, mainly for tests.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers
}

func (b *Broadcaster) run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// TriggerNow composes and publishes a snapshot immediately, outside the
// regular timer cadence (e.g. right after a heartbeat changes a cluster's
// status). It shares tick's in-flight guard, so it coalesces harmlessly
// with a timer tick that is already composing.
func (b *Broadcaster) TriggerNow(ctx context.Context) {
	b.tick(ctx)
}

func (b *Broadcaster) tick(ctx context.Context) {
	if b.SubscriberCount() == 0 {
		return
	}
	if !b.composing.CompareAndSwap(false, true) {
		return
	}
	defer b.composing.Store(false)

	snap, err := b.compose(ctx)
	if err != nil {
		b.log.Error("compose system state snapshot", zap.Error(err))
		return
	}
	if err := b.pub.PublishToTopic(Topic, snap); err != nil {
		b.log.Warn("publish system state snapshot", zap.Error(err))
	}
}

func (b *Broadcaster) compose(ctx context.Context) (*SystemStateSnapshot, error) {
	groups, err := b.store.ListTradeGroups(ctx)
	if err != nil {
		return nil, err
	}

	var members []persist.Member
	for _, g := range groups {
		ms, err := b.store.ListMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		members = append(members, ms...)
	}

	return &SystemStateSnapshot{
		Connections: b.conns.List(),
		TradeGroups: groups,
		Members:     members,
	}, nil
}
