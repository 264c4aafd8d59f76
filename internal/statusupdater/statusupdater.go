// Package statusupdater is the thin orchestrator that recomputes runtime
// status for a cluster (one master and its members): it reads connection
// state and operator intent, runs the pure status engine, diffs against
// stored values, and emits config pushes only for what actually changed.
package statusupdater

import (
	"context"
	"sync/atomic"

	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/status"
	"github.com/sankey-copier/relay-server/internal/wire"
	"go.uber.org/zap"
)

// Counters tracks observability counters across every RecomputeCluster call.
type Counters struct {
	SuccessfulEvals int64
	FailedEvals     int64
	ClusterSize     int64
	BundlesBuilt    int64
}

// Updater recomputes and persists runtime status for clusters.
type Updater struct {
	store   *persist.Store
	conns   *conntrack.Tracker
	pub     bus.Publisher
	log     *zap.Logger
	counters Counters
}

// New builds an Updater.
func New(store *persist.Store, conns *conntrack.Tracker, pub bus.Publisher, log *zap.Logger) *Updater {
	return &Updater{store: store, conns: conns, pub: pub, log: log}
}

// Counters returns a snapshot of the observability counters.
func (u *Updater) Counters() Counters {
	return Counters{
		SuccessfulEvals: atomic.LoadInt64(&u.counters.SuccessfulEvals),
		FailedEvals:     atomic.LoadInt64(&u.counters.FailedEvals),
		ClusterSize:     atomic.LoadInt64(&u.counters.ClusterSize),
		BundlesBuilt:    atomic.LoadInt64(&u.counters.BundlesBuilt),
	}
}

func connSnapshot(rec conntrack.Record, ok bool) status.ConnectionSnapshot {
	if !ok {
		return status.ConnectionSnapshot{ConnectionStatus: status.ConnNone}
	}
	var cs status.ConnectionStatus
	switch rec.Status {
	case conntrack.StatusOnline:
		cs = status.ConnOnline
	case conntrack.StatusTimeout:
		cs = status.ConnTimeout
	case conntrack.StatusOffline:
		cs = status.ConnOffline
	default:
		cs = status.ConnNone
	}
	return status.ConnectionSnapshot{ConnectionStatus: cs, IsTradeAllowed: rec.IsTradeAllowed}
}

// RecomputeCluster reads the master's trade group and members, recomputes
// status for each, persists only the changes, and publishes fresh config to
// every member (and the master) whose status changed. A missing trade group
// is not an error: there is simply nothing to recompute.
func (u *Updater) RecomputeCluster(ctx context.Context, masterAccountID string) error {
	group, err := u.store.GetTradeGroup(ctx, masterAccountID)
	if err != nil {
		atomic.AddInt64(&u.counters.FailedEvals, 1)
		return err
	}
	if group == nil {
		return nil
	}

	masterConn, masterOK := u.conns.Get(masterAccountID)
	masterResult := status.EvaluateMaster(status.MasterIntent{WebUIEnabled: group.WebUIEnabled}, connSnapshot(masterConn, masterOK))

	if masterResult.Status != group.Status || !sameWarnings(masterResult.WarningCodes, group.WarningCodes) {
		newVersion := group.ConfigVersion + 1
		if err := u.store.UpdateMasterStatus(ctx, group.ID, masterResult.Status, masterResult.WarningCodes, newVersion); err != nil {
			atomic.AddInt64(&u.counters.FailedEvals, 1)
			return err
		}
		group.Status = masterResult.Status
		group.WarningCodes = masterResult.WarningCodes
		group.ConfigVersion = newVersion
		u.pub.PublishToTopic("config/"+group.ID, BuildMasterConfig(*group))
		atomic.AddInt64(&u.counters.BundlesBuilt, 1)
	}

	members, err := u.store.ListMembers(ctx, group.ID)
	if err != nil {
		atomic.AddInt64(&u.counters.FailedEvals, 1)
		return err
	}
	atomic.AddInt64(&u.counters.ClusterSize, int64(len(members)))

	for _, m := range members {
		slaveConn, slaveOK := u.conns.Get(m.SlaveAccountID)
		memberResult := status.EvaluateMember(status.SlaveIntent{WebUIEnabled: m.WebUIEnabled}, connSnapshot(slaveConn, slaveOK), masterResult)

		if memberResult.Status == m.Status && sameWarnings(memberResult.WarningCodes, m.WarningCodes) {
			continue
		}

		newVersion := m.ConfigVersion + 1
		if err := u.store.UpdateMemberStatus(ctx, m.ID, memberResult.Status, memberResult.WarningCodes, newVersion); err != nil {
			atomic.AddInt64(&u.counters.FailedEvals, 1)
			continue
		}
		m.Status = memberResult.Status
		m.WarningCodes = memberResult.WarningCodes
		m.ConfigVersion = newVersion

		u.pub.PublishToTopic("config/"+m.SlaveAccountID, BuildSlaveConfig(m, group.ID))
		atomic.AddInt64(&u.counters.BundlesBuilt, 1)
	}

	atomic.AddInt64(&u.counters.SuccessfulEvals, 1)
	return nil
}

// RecomputeAccount recomputes whichever cluster(s) accountID affects: if it
// is a master, its own cluster; if it is a slave, every trade group it is a
// member of (in practice exactly one, per the membership invariant, but the
// lookup is shaped as a list for generality). Used by the router on
// heartbeat/unregister and by the timeout monitor, so both converge state
// the same way regardless of what triggered the recompute.
func (u *Updater) RecomputeAccount(ctx context.Context, role wire.Role, accountID string) error {
	if role == wire.RoleSlave {
		memberships, err := u.store.GetSettingsForSlave(ctx, accountID)
		if err != nil {
			atomic.AddInt64(&u.counters.FailedEvals, 1)
			return err
		}
		for _, m := range memberships {
			if err := u.RecomputeCluster(ctx, m.TradeGroupID); err != nil {
				return err
			}
		}
		return nil
	}
	return u.RecomputeCluster(ctx, accountID)
}

func sameWarnings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BuildMasterConfig projects a persisted TradeGroup into the outbound wire
// message.
func BuildMasterConfig(g persist.TradeGroup) *wire.MasterConfig {
	return &wire.MasterConfig{
		Envelope:      wire.Envelope{MessageType: wire.TypeMasterConfig},
		Enabled:       g.WebUIEnabled,
		SymbolPrefix:  g.SymbolPrefix,
		SymbolSuffix:  g.SymbolSuffix,
		ConfigVersion: g.ConfigVersion,
		Status:        g.Status,
		WarningCodes:  g.WarningCodes,
	}
}

// BuildSlaveConfig projects a persisted Member into the outbound wire
// message.
func BuildSlaveConfig(m persist.Member, masterAccountID string) *wire.SlaveConfig {
	mappings := make([]wire.SymbolMapping, len(m.SymbolMappings))
	for i, sm := range m.SymbolMappings {
		mappings[i] = wire.SymbolMapping{Source: sm.Source, Target: sm.Target}
	}
	return &wire.SlaveConfig{
		Envelope:             wire.Envelope{MessageType: wire.TypeSlaveConfig},
		MasterAccountID:      masterAccountID,
		Status:               m.Status,
		WarningCodes:         m.WarningCodes,
		EnabledFlag:          m.WebUIEnabled,
		ConfigVersion:        m.ConfigVersion,
		LotCalculationMode:   m.LotCalculationMode,
		LotMultiplier:        m.LotMultiplier,
		ReverseTrade:         m.ReverseTrade,
		SymbolPrefix:         m.SymbolPrefix,
		SymbolSuffix:         m.SymbolSuffix,
		SymbolMappings:       mappings,
		AllowedSymbols:       m.AllowedSymbols,
		BlockedSymbols:       m.BlockedSymbols,
		AllowedMagicNumbers:  m.AllowedMagicNumbers,
		BlockedMagicNumbers:  m.BlockedMagicNumbers,
		SourceLotMin:         m.SourceLotMin,
		SourceLotMax:         m.SourceLotMax,
		SyncMode:             m.SyncMode,
		LimitOrderExpiryMin:  m.LimitOrderExpiryMin,
		MarketSyncMaxPips:    m.MarketSyncMaxPips,
		MaxSlippage:          m.MaxSlippage,
		CopyPendingOrders:    m.CopyPendingOrders,
		MaxRetries:           m.MaxRetries,
		MaxSignalDelayMs:     m.MaxSignalDelayMs,
		UsePendingForDelayed: m.UsePendingForDelayed,
	}
}
