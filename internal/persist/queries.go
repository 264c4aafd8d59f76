package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sankey-copier/relay-server/internal/apperr"
)

func marshalList[T any](v []T) string {
	if v == nil {
		v = []T{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalList[T any](s string) []T {
	var out []T
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateTradeGroup inserts a new master record.
func (s *Store) CreateTradeGroup(ctx context.Context, g TradeGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_groups (id, web_ui_enabled, symbol_prefix, symbol_suffix, config_version, status, warning_codes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.WebUIEnabled, g.SymbolPrefix, g.SymbolSuffix, g.ConfigVersion, g.Status, marshalList(g.WarningCodes))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Validationf("TradeGroupAlreadyExists", "trade group %q already exists", g.ID)
		}
		return apperr.Wrap(apperr.KindPersistence, "CreateTradeGroup", "insert trade group", err)
	}
	return nil
}

func scanTradeGroup(row interface {
	Scan(dest ...any) error
}) (*TradeGroup, error) {
	var g TradeGroup
	var warningCodes string
	if err := row.Scan(&g.ID, &g.WebUIEnabled, &g.SymbolPrefix, &g.SymbolSuffix, &g.ConfigVersion, &g.Status, &warningCodes); err != nil {
		return nil, err
	}
	g.WarningCodes = unmarshalList[string](warningCodes)
	return &g, nil
}

// GetTradeGroup fetches a single trade group by id. Returns nil, nil if not
// found.
func (s *Store) GetTradeGroup(ctx context.Context, id string) (*TradeGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, web_ui_enabled, symbol_prefix, symbol_suffix, config_version, status, warning_codes
		FROM trade_groups WHERE id = ?`, id)
	g, err := scanTradeGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "GetTradeGroup", "query trade group", err)
	}
	return g, nil
}

// ListTradeGroups returns every trade group.
func (s *Store) ListTradeGroups(ctx context.Context) ([]TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, web_ui_enabled, symbol_prefix, symbol_suffix, config_version, status, warning_codes
		FROM trade_groups ORDER BY id`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "ListTradeGroups", "query trade groups", err)
	}
	defer rows.Close()

	var out []TradeGroup
	for rows.Next() {
		g, err := scanTradeGroup(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "ListTradeGroups", "scan trade group", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// DeleteTradeGroup deletes a trade group; members cascade via the foreign
// key.
func (s *Store) DeleteTradeGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trade_groups WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "DeleteTradeGroup", "delete trade group", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Validationf("TradeGroupNotFound", "trade group %q not found", id)
	}
	return nil
}

// SetMasterEnabled writes the master's operator-intent flag, the same
// web_ui_enabled column the status engine reads as MasterIntent.
func (s *Store) SetMasterEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trade_groups SET web_ui_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "SetMasterEnabled", "update trade group", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Validationf("TradeGroupNotFound", "trade group %q not found", id)
	}
	return nil
}

// AddMember inserts a new member of a trade group. Fails with
// KindValidation if the parent trade group does not exist.
func (s *Store) AddMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_group_members (
			trade_group_id, slave_account_id, web_ui_enabled, status, warning_codes, config_version,
			lot_calculation_mode, lot_multiplier, reverse_trade, symbol_prefix, symbol_suffix, symbol_mappings,
			allowed_symbols, blocked_symbols, allowed_magic_numbers, blocked_magic_numbers,
			source_lot_min, source_lot_max, sync_mode, limit_order_expiry_min, market_sync_max_pips, max_slippage,
			copy_pending_orders, max_retries, max_signal_delay_ms, use_pending_for_delayed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TradeGroupID, m.SlaveAccountID, m.WebUIEnabled, m.Status, marshalList(m.WarningCodes), m.ConfigVersion,
		m.LotCalculationMode, m.LotMultiplier, m.ReverseTrade, m.SymbolPrefix, m.SymbolSuffix, marshalList(m.SymbolMappings),
		marshalList(m.AllowedSymbols), marshalList(m.BlockedSymbols), marshalList(m.AllowedMagicNumbers), marshalList(m.BlockedMagicNumbers),
		m.SourceLotMin, m.SourceLotMax, m.SyncMode, m.LimitOrderExpiryMin, m.MarketSyncMaxPips, m.MaxSlippage,
		m.CopyPendingOrders, m.MaxRetries, m.MaxSignalDelayMs, m.UsePendingForDelayed)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.Validationf("TradeGroupNotFound", "trade group %q does not exist", m.TradeGroupID)
		}
		if isUniqueViolation(err) {
			return apperr.Validationf("MemberAlreadyExists", "slave %q is already a member of a trade group", m.SlaveAccountID)
		}
		return apperr.Wrap(apperr.KindPersistence, "AddMember", "insert member", err)
	}
	return nil
}

func scanMember(row interface {
	Scan(dest ...any) error
}) (*Member, error) {
	var m Member
	var warningCodes, symbolMappings, allowedSymbols, blockedSymbols, allowedMagic, blockedMagic string
	err := row.Scan(
		&m.ID, &m.TradeGroupID, &m.SlaveAccountID, &m.WebUIEnabled, &m.Status, &warningCodes, &m.ConfigVersion,
		&m.LotCalculationMode, &m.LotMultiplier, &m.ReverseTrade, &m.SymbolPrefix, &m.SymbolSuffix, &symbolMappings,
		&allowedSymbols, &blockedSymbols, &allowedMagic, &blockedMagic,
		&m.SourceLotMin, &m.SourceLotMax, &m.SyncMode, &m.LimitOrderExpiryMin, &m.MarketSyncMaxPips, &m.MaxSlippage,
		&m.CopyPendingOrders, &m.MaxRetries, &m.MaxSignalDelayMs, &m.UsePendingForDelayed,
	)
	if err != nil {
		return nil, err
	}
	m.WarningCodes = unmarshalList[string](warningCodes)
	m.SymbolMappings = unmarshalList[SymbolMapping](symbolMappings)
	m.AllowedSymbols = unmarshalList[string](allowedSymbols)
	m.BlockedSymbols = unmarshalList[string](blockedSymbols)
	m.AllowedMagicNumbers = unmarshalList[int64](allowedMagic)
	m.BlockedMagicNumbers = unmarshalList[int64](blockedMagic)
	return &m, nil
}

const memberColumns = `
	id, trade_group_id, slave_account_id, web_ui_enabled, status, warning_codes, config_version,
	lot_calculation_mode, lot_multiplier, reverse_trade, symbol_prefix, symbol_suffix, symbol_mappings,
	allowed_symbols, blocked_symbols, allowed_magic_numbers, blocked_magic_numbers,
	source_lot_min, source_lot_max, sync_mode, limit_order_expiry_min, market_sync_max_pips, max_slippage,
	copy_pending_orders, max_retries, max_signal_delay_ms, use_pending_for_delayed`

// ListMembers returns every member of a trade group.
func (s *Store) ListMembers(ctx context.Context, tradeGroupID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM trade_group_members WHERE trade_group_id = ? ORDER BY slave_account_id`, tradeGroupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "ListMembers", "query members", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "ListMembers", "scan member", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetSettingsForMaster fetches the trade group owned by masterID. Returns
// nil, nil if the master has no trade group.
func (s *Store) GetSettingsForMaster(ctx context.Context, masterID string) (*TradeGroup, error) {
	return s.GetTradeGroup(ctx, masterID)
}

// GetSettingsForSlave returns every membership row for a slave account. In
// practice a slave belongs to at most one group, but the signature returns a
// list since nothing in the storage layer enforces that beyond the model's
// own bookkeeping.
func (s *Store) GetSettingsForSlave(ctx context.Context, slaveAccountID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM trade_group_members WHERE slave_account_id = ?`, slaveAccountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "GetSettingsForSlave", "query memberships", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "GetSettingsForSlave", "scan member", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetMemberEnabled writes the member's operator-intent flag, the same
// web_ui_enabled column the status engine reads as SlaveIntent.
func (s *Store) SetMemberEnabled(ctx context.Context, tradeGroupID, slaveAccountID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_group_members SET web_ui_enabled = ? WHERE trade_group_id = ? AND slave_account_id = ?`,
		enabled, tradeGroupID, slaveAccountID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "SetMemberEnabled", "update member", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Validationf("MemberNotFound", "slave %q is not a member of %q", slaveAccountID, tradeGroupID)
	}
	return nil
}

// UpdateMemberStatus writes back a member's recomputed runtime_status and
// warning_codes, bumping config_version.
func (s *Store) UpdateMemberStatus(ctx context.Context, id int64, status int, warningCodes []string, configVersion int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_group_members SET status = ?, warning_codes = ?, config_version = ? WHERE id = ?`,
		status, marshalList(warningCodes), configVersion, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "UpdateMemberStatus", "update member status", err)
	}
	return nil
}

// UpdateMasterStatus writes back a master's recomputed status and
// warning_codes, bumping config_version.
func (s *Store) UpdateMasterStatus(ctx context.Context, id string, status int, warningCodes []string, configVersion int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_groups SET status = ?, warning_codes = ?, config_version = ? WHERE id = ?`,
		status, marshalList(warningCodes), configVersion, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "UpdateMasterStatus", "update master status", err)
	}
	return nil
}

// UpdateMasterStatusesEnabled bulk-demotes every Connected (2) member of
// masterID to Enabled (1). Disabled (0) members are left untouched, since
// demotion to Disabled only happens via operator action or a slave's own
// is_trade_allowed=false.
func (s *Store) UpdateMasterStatusesEnabled(ctx context.Context, masterID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slave_account_id FROM trade_group_members WHERE trade_group_id = ? AND status = 2`, masterID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "UpdateMasterStatusesEnabled", "select connected members", err)
	}
	var affected []string
	for rows.Next() {
		var slave string
		if err := rows.Scan(&slave); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindPersistence, "UpdateMasterStatusesEnabled", "scan slave account", err)
		}
		affected = append(affected, slave)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "UpdateMasterStatusesEnabled", "iterate connected members", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_group_members SET status = 1 WHERE trade_group_id = ? AND status = 2`, masterID); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "UpdateMasterStatusesEnabled", "demote connected members", err)
	}
	return affected, nil
}

// --- failed outgoing messages ---

// RecordFailedSend inserts a new failed send with attempts=1.
func (s *Store) RecordFailedSend(ctx context.Context, f FailedOutgoing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_outgoing_messages (id, topic, payload, error, attempts, processed)
		VALUES (?, ?, ?, ?, 1, 0)`, f.ID, f.Topic, f.Payload, f.Error)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "RecordFailedSend", "insert failed send", err)
	}
	return nil
}

// FetchPendingFailedSends returns the oldest limit unprocessed rows.
func (s *Store) FetchPendingFailedSends(ctx context.Context, limit int) ([]FailedOutgoing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, payload, error, attempts, processed FROM failed_outgoing_messages
		WHERE processed = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "FetchPendingFailedSends", "query failed sends", err)
	}
	defer rows.Close()

	var out []FailedOutgoing
	for rows.Next() {
		var f FailedOutgoing
		if err := rows.Scan(&f.ID, &f.Topic, &f.Payload, &f.Error, &f.Attempts, &f.Processed); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "FetchPendingFailedSends", "scan failed send", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkFailedSendProcessed marks a row processed after a successful retry.
func (s *Store) MarkFailedSendProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE failed_outgoing_messages SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "MarkFailedSendProcessed", "update failed send", err)
	}
	return nil
}

// IncrementFailedSendAttempts bumps attempts after a failed retry and
// returns the new attempt count.
func (s *Store) IncrementFailedSendAttempts(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE failed_outgoing_messages SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "IncrementFailedSendAttempts", "update failed send", err)
	}
	var attempts int
	row := s.db.QueryRowContext(ctx, `SELECT attempts FROM failed_outgoing_messages WHERE id = ?`, id)
	if err := row.Scan(&attempts); err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "IncrementFailedSendAttempts", "read attempts", err)
	}
	return attempts, nil
}

// MoveFailedToDeadLetter copies a failed send to the dead-letter table and
// removes it from failed_outgoing_messages, in one transaction.
func (s *Store) MoveFailedToDeadLetter(ctx context.Context, deadLetterID string, f FailedOutgoing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "MoveFailedToDeadLetter", "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO failed_outgoing_dead_letters (id, original_id, topic, payload, error, attempts)
		VALUES (?, ?, ?, ?, ?, ?)`, deadLetterID, f.ID, f.Topic, f.Payload, f.Error, f.Attempts); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "MoveFailedToDeadLetter", "insert dead letter", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failed_outgoing_messages WHERE id = ?`, f.ID); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "MoveFailedToDeadLetter", "delete failed send", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "MoveFailedToDeadLetter", "commit tx", err)
	}
	return nil
}

// --- global settings ---

// GetGlobalSetting returns a raw string value, or "" with ok=false if unset.
func (s *Store) GetGlobalSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM global_settings WHERE key = ?`, key)
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindPersistence, "GetGlobalSetting", "query global setting", err)
	}
	return value, true, nil
}

// SetGlobalSetting upserts a raw string value.
func (s *Store) SetGlobalSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "SetGlobalSetting", "upsert global setting", err)
	}
	return nil
}
