package persist

// schemaStatements is the full DDL, applied in order on every startup.
// Every statement is idempotent (IF NOT EXISTS) so Migrate is safe to rerun.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trade_groups (
		id             TEXT PRIMARY KEY,
		web_ui_enabled INTEGER NOT NULL DEFAULT 1,
		symbol_prefix  TEXT NOT NULL DEFAULT '',
		symbol_suffix  TEXT NOT NULL DEFAULT '',
		config_version INTEGER NOT NULL DEFAULT 1,
		status         INTEGER NOT NULL DEFAULT 0,
		warning_codes  TEXT NOT NULL DEFAULT '[]',
		created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE TABLE IF NOT EXISTS trade_group_members (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_group_id          TEXT NOT NULL REFERENCES trade_groups(id) ON DELETE CASCADE,
		slave_account_id        TEXT NOT NULL,
		web_ui_enabled          INTEGER NOT NULL DEFAULT 1,
		status                  INTEGER NOT NULL DEFAULT 0,
		warning_codes           TEXT NOT NULL DEFAULT '[]',
		config_version          INTEGER NOT NULL DEFAULT 1,
		lot_calculation_mode    TEXT NOT NULL DEFAULT 'fixed_multiplier',
		lot_multiplier          REAL,
		reverse_trade           INTEGER NOT NULL DEFAULT 0,
		symbol_prefix           TEXT NOT NULL DEFAULT '',
		symbol_suffix           TEXT NOT NULL DEFAULT '',
		symbol_mappings         TEXT NOT NULL DEFAULT '[]',
		allowed_symbols         TEXT NOT NULL DEFAULT '[]',
		blocked_symbols         TEXT NOT NULL DEFAULT '[]',
		allowed_magic_numbers   TEXT NOT NULL DEFAULT '[]',
		blocked_magic_numbers   TEXT NOT NULL DEFAULT '[]',
		source_lot_min          REAL,
		source_lot_max          REAL,
		sync_mode               TEXT NOT NULL DEFAULT 'market',
		limit_order_expiry_min  INTEGER,
		market_sync_max_pips    REAL,
		max_slippage            REAL,
		copy_pending_orders     INTEGER NOT NULL DEFAULT 0,
		max_retries             INTEGER NOT NULL DEFAULT 5,
		max_signal_delay_ms     INTEGER NOT NULL DEFAULT 5000,
		use_pending_for_delayed INTEGER NOT NULL DEFAULT 0,
		created_at              TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		UNIQUE (trade_group_id, slave_account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_slave_account ON trade_group_members(slave_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_members_status ON trade_group_members(status)`,
	`CREATE TABLE IF NOT EXISTS failed_outgoing_messages (
		id          TEXT PRIMARY KEY,
		topic       TEXT NOT NULL,
		payload     BLOB NOT NULL,
		error       TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 1,
		processed   INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_failed_outgoing_processed ON failed_outgoing_messages(processed)`,
	`CREATE TABLE IF NOT EXISTS failed_outgoing_dead_letters (
		id          TEXT PRIMARY KEY,
		original_id TEXT NOT NULL,
		topic       TEXT NOT NULL,
		payload     BLOB NOT NULL,
		error       TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE TABLE IF NOT EXISTS global_settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL
	)`,
}
