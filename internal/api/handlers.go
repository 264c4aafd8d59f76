package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sankey-copier/relay-server/internal/apperr"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"go.uber.org/zap"
)

// tradeGroupView is a trade group plus its members, the shape every
// single-group read returns. Status and WarningCodes are already the live,
// statusupdater-maintained values stored on the row — no extra computation
// happens here.
type tradeGroupView struct {
	persist.TradeGroup
	Members []persist.Member `json:"members"`
}

func (s *Server) loadView(ctx context.Context, id string) (*tradeGroupView, error) {
	group, err := s.store.GetTradeGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, apperr.Validationf("TradeGroupNotFound", "trade group %q not found", id)
	}
	members, err := s.store.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &tradeGroupView{TradeGroup: *group, Members: members}, nil
}

func (s *Server) handleListTradeGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListTradeGroups(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetTradeGroup(w http.ResponseWriter, r *http.Request) {
	view, err := s.loadView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteTradeGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTradeGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type masterSettingsInput struct {
	Enabled      bool   `json:"enabled"`
	SymbolPrefix string `json:"symbol_prefix"`
	SymbolSuffix string `json:"symbol_suffix"`
}

type memberInput struct {
	SlaveAccountID       string                  `json:"slave_account_id"`
	Enabled              bool                    `json:"enabled"`
	LotCalculationMode   string                  `json:"lot_calculation_mode"`
	LotMultiplier        *float64                `json:"lot_multiplier"`
	ReverseTrade         bool                    `json:"reverse_trade"`
	SymbolPrefix         string                  `json:"symbol_prefix"`
	SymbolSuffix         string                  `json:"symbol_suffix"`
	SymbolMappings       []persist.SymbolMapping `json:"symbol_mappings"`
	AllowedSymbols       []string                `json:"allowed_symbols"`
	BlockedSymbols       []string                `json:"blocked_symbols"`
	AllowedMagicNumbers  []int64                 `json:"allowed_magic_numbers"`
	BlockedMagicNumbers  []int64                 `json:"blocked_magic_numbers"`
	SourceLotMin         *float64                `json:"source_lot_min"`
	SourceLotMax         *float64                `json:"source_lot_max"`
	SyncMode             string                  `json:"sync_mode"`
	LimitOrderExpiryMin  *int                    `json:"limit_order_expiry_min"`
	MarketSyncMaxPips    *float64                `json:"market_sync_max_pips"`
	MaxSlippage          *float64                `json:"max_slippage"`
	CopyPendingOrders    bool                    `json:"copy_pending_orders"`
	MaxRetries           int                     `json:"max_retries"`
	MaxSignalDelayMs     int                     `json:"max_signal_delay_ms"`
	UsePendingForDelayed bool                    `json:"use_pending_for_delayed"`
}

func (m memberInput) toMember(tradeGroupID string) persist.Member {
	return persist.Member{
		TradeGroupID:         tradeGroupID,
		SlaveAccountID:       m.SlaveAccountID,
		WebUIEnabled:         m.Enabled,
		ConfigVersion:        1,
		LotCalculationMode:   m.LotCalculationMode,
		LotMultiplier:        m.LotMultiplier,
		ReverseTrade:         m.ReverseTrade,
		SymbolPrefix:         m.SymbolPrefix,
		SymbolSuffix:         m.SymbolSuffix,
		SymbolMappings:       m.SymbolMappings,
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

type createTradeGroupRequest struct {
	ID             string              `json:"id"`
	MasterSettings masterSettingsInput `json:"master_settings"`
	Members        []memberInput       `json:"members"`
}

func (s *Server) handleCreateTradeGroup(w http.ResponseWriter, r *http.Request) {
	var req createTradeGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.Decodef("MalformedBody", "decode create trade group request: %v", err))
		return
	}
	if req.ID == "" {
		writeErr(w, r, apperr.Validationf("MissingID", "id is required"))
		return
	}

	group := persist.TradeGroup{
		ID:            req.ID,
		WebUIEnabled:  req.MasterSettings.Enabled,
		SymbolPrefix:  req.MasterSettings.SymbolPrefix,
		SymbolSuffix:  req.MasterSettings.SymbolSuffix,
		ConfigVersion: 1,
	}
	if err := s.store.CreateTradeGroup(r.Context(), group); err != nil {
		writeErr(w, r, err)
		return
	}

	for _, mi := range req.Members {
		if err := s.store.AddMember(r.Context(), mi.toMember(req.ID)); err != nil {
			s.log.Warn("add initial member on create", zap.String("trade_group_id", req.ID), zap.String("slave_account_id", mi.SlaveAccountID), zap.Error(err))
		}
	}

	view, err := s.loadView(r.Context(), req.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var mi memberInput
	if err := json.NewDecoder(r.Body).Decode(&mi); err != nil {
		writeErr(w, r, apperr.Decodef("MalformedBody", "decode add member request: %v", err))
		return
	}
	if mi.SlaveAccountID == "" {
		writeErr(w, r, apperr.Validationf("MissingSlaveAccountID", "slave_account_id is required"))
		return
	}
	if err := s.store.AddMember(r.Context(), mi.toMember(id)); err != nil {
		writeErr(w, r, err)
		return
	}
	view, err := s.loadView(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetMasterEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.Decodef("MalformedBody", "decode set master enabled request: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.SetMasterEnabled(r.Context(), id, req.Enabled); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.updater.RecomputeCluster(r.Context(), id); err != nil {
		s.log.Warn("recompute cluster after master toggle", zap.String("trade_group_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMemberEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.Decodef("MalformedBody", "decode set member enabled request: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	slave := chi.URLParam(r, "slave")
	if err := s.store.SetMemberEnabled(r.Context(), id, slave, req.Enabled); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.updater.RecomputeCluster(r.Context(), id); err != nil {
		s.log.Warn("recompute cluster after member toggle", zap.String("trade_group_id", id), zap.String("slave_account_id", slave), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Connections []conntrack.Record `json:"connections"`
	}{Connections: s.conns.List()})
}

const logSettingKey = "victoria_logs_enabled"

func (s *Server) handleGetLogSetting(w http.ResponseWriter, r *http.Request) {
	value, ok, err := s.store.GetGlobalSetting(r.Context(), logSettingKey)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Enabled bool `json:"enabled"`
	}{Enabled: ok && value == "true"})
}

func (s *Server) handleSetLogSetting(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.Decodef("MalformedBody", "decode victoria logs settings request: %v", err))
		return
	}
	value := "false"
	if req.Enabled {
		value = "true"
	}
	if err := s.store.SetGlobalSetting(r.Context(), logSettingKey, value); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runtimeStatusMetrics struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	TrackedConnections  int     `json:"tracked_connections"`
	TradeGroups         int     `json:"trade_groups"`
	Members             int     `json:"members"`
	SnapshotSubscribers int     `json:"snapshot_subscribers"`
}

func (s *Server) handleRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListTradeGroups(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	memberCount := 0
	for _, g := range groups {
		members, err := s.store.ListMembers(r.Context(), g.ID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		memberCount += len(members)
	}

	writeJSON(w, http.StatusOK, runtimeStatusMetrics{
		UptimeSeconds:       time.Since(s.startAt).Seconds(),
		TrackedConnections:  len(s.conns.List()),
		TradeGroups:         len(groups),
		Members:             memberCount,
		SnapshotSubscribers: s.snap.SubscriberCount(),
	})
}
