// Package router is the server's single inbound entry point: it decodes
// nothing itself (the gateway already did that) but dispatches each decoded
// EA message by concrete type, updates connection and persisted state, and
// publishes whatever the cluster's new status requires.
package router

import (
	"context"

	"github.com/sankey-copier/relay-server/internal/apperr"
	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/copyengine"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/snapshot"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"github.com/sankey-copier/relay-server/internal/symbol"
	"github.com/sankey-copier/relay-server/internal/ticketmap"
	"github.com/sankey-copier/relay-server/internal/wire"
	"go.uber.org/zap"
)

// Router dispatches decoded wire messages to the right handler.
type Router struct {
	store   *persist.Store
	conns   *conntrack.Tracker
	pub     bus.Publisher
	updater *statusupdater.Updater
	tickets *ticketmap.Store
	snap    *snapshot.Broadcaster
	log     *zap.Logger
}

// New builds a Router.
func New(store *persist.Store, conns *conntrack.Tracker, pub bus.Publisher, updater *statusupdater.Updater, tickets *ticketmap.Store, snap *snapshot.Broadcaster, log *zap.Logger) *Router {
	return &Router{store: store, conns: conns, pub: pub, updater: updater, tickets: tickets, snap: snap, log: log}
}

// HandleMessage is the gateway's Dispatcher entry point.
func (r *Router) HandleMessage(ctx context.Context, kind wire.MessageType, msg any) {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		r.handleHeartbeat(ctx, m)
	case *wire.Register:
		r.handleRegister(ctx, m)
	case *wire.Unregister:
		r.handleUnregister(ctx, m)
	case *wire.RequestConfig:
		r.handleRequestConfig(ctx, m)
	case *wire.TradeSignal:
		r.handleTradeSignal(ctx, m)
	case *wire.PositionSnapshot:
		r.handlePositionSnapshot(ctx, m)
	case *wire.SyncRequest:
		r.handleSyncRequest(ctx, m)
	default:
		r.log.Warn("unhandled message kind", zap.String("kind", string(kind)))
	}
}

func (r *Router) handleHeartbeat(ctx context.Context, hb *wire.Heartbeat) {
	if hb.AccountID == "" {
		r.log.Warn("dropping heartbeat with empty account_id")
		return
	}
	r.conns.UpdateFromHeartbeat(hb)

	if err := r.updater.RecomputeAccount(ctx, hb.Role, hb.AccountID); err != nil {
		r.log.Error("recompute account after heartbeat", zap.String("account_id", hb.AccountID), zap.Error(err))
		return
	}
	r.snap.TriggerNow(ctx)
}

func (r *Router) handleRegister(ctx context.Context, reg *wire.Register) {
	if reg.AccountID == "" {
		r.log.Warn("dropping register with empty account_id")
		return
	}
	r.conns.RegisterExplicit(reg)
}

func (r *Router) handleUnregister(ctx context.Context, unreg *wire.Unregister) {
	if unreg.AccountID == "" {
		r.log.Warn("dropping unregister with empty account_id")
		return
	}
	r.conns.MarkOffline(unreg.AccountID, unreg.Role)
	if unreg.Role == wire.RoleSlave {
		r.tickets.DropSlave(unreg.AccountID)
	}

	if err := r.updater.RecomputeAccount(ctx, unreg.Role, unreg.AccountID); err != nil {
		r.log.Error("recompute account after unregister", zap.String("account_id", unreg.AccountID), zap.Error(err))
		return
	}
	r.snap.TriggerNow(ctx)
}

func (r *Router) handleRequestConfig(ctx context.Context, req *wire.RequestConfig) {
	if req.AccountID == "" {
		r.log.Warn("dropping request_config with empty account_id")
		return
	}

	switch req.EAType {
	case wire.RoleMaster:
		group, err := r.store.GetTradeGroup(ctx, req.AccountID)
		if err != nil {
			r.log.Error("load trade group for request_config", zap.String("account_id", req.AccountID), zap.Error(err))
			return
		}
		if group == nil {
			r.log.Warn("request_config for unknown master", zap.String("account_id", req.AccountID))
			return
		}
		r.pub.PublishToTopic("config/"+req.AccountID, statusupdater.BuildMasterConfig(*group))

	case wire.RoleSlave:
		memberships, err := r.store.GetSettingsForSlave(ctx, req.AccountID)
		if err != nil {
			r.log.Error("load slave memberships for request_config", zap.String("account_id", req.AccountID), zap.Error(err))
			return
		}
		if len(memberships) == 0 {
			r.log.Warn("request_config for unknown slave", zap.String("account_id", req.AccountID))
			return
		}
		m := memberships[0]
		r.pub.PublishToTopic("config/"+req.AccountID, statusupdater.BuildSlaveConfig(m, m.TradeGroupID))

	default:
		r.log.Warn("request_config with unknown ea_type", zap.String("ea_type", string(req.EAType)))
	}
}

func (r *Router) handleTradeSignal(ctx context.Context, sig *wire.TradeSignal) {
	if sig.SourceAccount == "" {
		r.log.Warn("dropping trade signal with empty source_account")
		return
	}

	group, err := r.store.GetTradeGroup(ctx, sig.SourceAccount)
	if err != nil {
		r.log.Error("load trade group for trade signal", zap.String("master", sig.SourceAccount), zap.Error(err))
		return
	}
	if group == nil {
		r.log.Warn("trade signal from master with no trade group", zap.String("master", sig.SourceAccount))
		return
	}

	members, err := r.store.ListMembers(ctx, group.ID)
	if err != nil {
		r.log.Error("load members for trade signal", zap.String("master", sig.SourceAccount), zap.Error(err))
		return
	}

	r.pub.PublishToTopic("ui/trade_received", sig)

	for _, m := range members {
		filter := copyengine.MemberFilter{
			RuntimeStatus:       m.Status,
			AllowedSymbols:      m.AllowedSymbols,
			BlockedSymbols:      m.BlockedSymbols,
			AllowedMagicNumbers: m.AllowedMagicNumbers,
			BlockedMagicNumbers: m.BlockedMagicNumbers,
		}
		if !copyengine.ShouldCopy(sig, filter) {
			continue
		}

		memberConverter := symbol.NewConverter(group.SymbolPrefix, group.SymbolSuffix, m.SymbolPrefix, m.SymbolSuffix)
		mappings := make([]symbol.Mapping, len(m.SymbolMappings))
		for i, sm := range m.SymbolMappings {
			mappings[i] = symbol.Mapping{Source: sm.Source, Target: sm.Target}
		}

		settings := copyengine.MemberSettings{
			LotMultiplier: m.LotMultiplier,
			ReverseTrade:  m.ReverseTrade,
			Converter:     memberConverter,
			Mappings:      mappings,
		}

		transformed, err := copyengine.Transform(sig, settings)
		if err != nil {
			if kind, ok := apperr.KindOf(err); ok && kind == apperr.KindValidation {
				r.log.Warn("transform trade signal", zap.String("slave", m.SlaveAccountID), zap.Error(err))
			} else {
				r.log.Error("transform trade signal", zap.String("slave", m.SlaveAccountID), zap.Error(err))
			}
			continue
		}

		topic := "trade/" + sig.SourceAccount + "/" + m.SlaveAccountID
		r.pub.PublishToTopic(topic, transformed)
		r.pub.PublishToTopic("ui/trade_copied", transformed)
	}
}

func (r *Router) handlePositionSnapshot(ctx context.Context, snap *wire.PositionSnapshot) {
	if snap.SourceAccount == "" {
		r.log.Warn("dropping position snapshot with empty source_account")
		return
	}

	group, err := r.store.GetTradeGroup(ctx, snap.SourceAccount)
	if err != nil {
		r.log.Error("load trade group for position snapshot", zap.String("master", snap.SourceAccount), zap.Error(err))
		return
	}
	if group == nil {
		return
	}

	members, err := r.store.ListMembers(ctx, group.ID)
	if err != nil {
		r.log.Error("load members for position snapshot", zap.String("master", snap.SourceAccount), zap.Error(err))
		return
	}

	for _, m := range members {
		topic := "sync/" + snap.SourceAccount + "/" + m.SlaveAccountID
		r.pub.PublishToTopic(topic, snap)
	}
}

func (r *Router) handleSyncRequest(ctx context.Context, req *wire.SyncRequest) {
	if req.SlaveAccount == "" || req.MasterAccount == "" {
		r.log.Warn("dropping sync request with missing identity")
		return
	}

	memberships, err := r.store.GetSettingsForSlave(ctx, req.SlaveAccount)
	if err != nil {
		r.log.Error("load slave memberships for sync request", zap.String("slave", req.SlaveAccount), zap.Error(err))
		return
	}

	member := false
	for _, m := range memberships {
		if m.TradeGroupID == req.MasterAccount {
			member = true
			break
		}
	}
	if !member {
		r.log.Warn("sync request from non-member slave", zap.String("slave", req.SlaveAccount), zap.String("master", req.MasterAccount))
		return
	}

	r.pub.PublishToTopic("config/"+req.MasterAccount, req)
}
