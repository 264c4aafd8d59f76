// Package wire implements the EA<->relay message bus codec: named-field
// MessagePack maps framed with a 4-byte length prefix. Each message kind is
// its own typed struct rather than one fixed-width record, since account
// lifecycle, trade signals, and config pushes vary widely in shape.
package wire

import "time"

// MessageType discriminates the wire envelope.
type MessageType string

const (
	TypeHeartbeat        MessageType = "Heartbeat"
	TypeRequestConfig     MessageType = "RequestConfig"
	TypeRegister          MessageType = "Register"
	TypeUnregister        MessageType = "Unregister"
	TypeTradeSignal       MessageType = "TradeSignal"
	TypePositionSnapshot  MessageType = "PositionSnapshot"
	TypeSyncRequest       MessageType = "SyncRequest"
	TypeMasterConfig      MessageType = "MasterConfig"
	TypeSlaveConfig       MessageType = "SlaveConfig"
	TypeVLogsConfig       MessageType = "VLogsConfig"
)

// Role mirrors the EA role enum.
type Role string

const (
	RoleMaster Role = "Master"
	RoleSlave  Role = "Slave"
)

// Platform mirrors the terminal platform enum.
type Platform string

const (
	PlatformMT4 Platform = "MT4"
	PlatformMT5 Platform = "MT5"
)

// TradeAction mirrors the TradeSignal action enum.
type TradeAction string

const (
	ActionOpen   TradeAction = "Open"
	ActionClose  TradeAction = "Close"
	ActionModify TradeAction = "Modify"
)

// OrderType mirrors the TradeSignal order_type enum.
type OrderType string

const (
	OrderBuy       OrderType = "Buy"
	OrderSell      OrderType = "Sell"
	OrderBuyLimit  OrderType = "BuyLimit"
	OrderSellLimit OrderType = "SellLimit"
	OrderBuyStop   OrderType = "BuyStop"
	OrderSellStop  OrderType = "SellStop"
)

// Envelope carries the fields common to every wire message.
type Envelope struct {
	MessageType MessageType `msgpack:"message_type"`
	Timestamp   time.Time   `msgpack:"timestamp"`
}

// Heartbeat is sent periodically by any EA; it is the sole source of
// liveness and, for unknown accounts, the source of auto-registration.
type Heartbeat struct {
	Envelope `msgpack:",inline"`

	AccountID     string   `msgpack:"account_id"`
	Role          Role     `msgpack:"role"`
	Platform      Platform `msgpack:"platform"`
	Broker        string   `msgpack:"broker"`
	AccountNumber string   `msgpack:"account_number"`
	AccountName   string   `msgpack:"account_name"`
	Server        string   `msgpack:"server"`
	Currency      string   `msgpack:"currency"`
	Leverage      int      `msgpack:"leverage"`

	Balance        float64 `msgpack:"balance"`
	Equity         float64 `msgpack:"equity"`
	OpenPositions  int     `msgpack:"open_positions"`
	IsTradeAllowed bool    `msgpack:"is_trade_allowed"`

	SymbolFilterHints []string `msgpack:"symbol_filter_hints,omitempty"`
}

// RequestConfig asks the server to (re-)send the effective config for the
// requesting EA.
type RequestConfig struct {
	Envelope `msgpack:",inline"`

	AccountID string `msgpack:"account_id"`
	EAType    Role   `msgpack:"ea_type"`
}

// Register is an explicit lifecycle announcement.
type Register struct {
	Envelope `msgpack:",inline"`

	AccountID     string   `msgpack:"account_id"`
	Role          Role     `msgpack:"role"`
	Platform      Platform `msgpack:"platform"`
	Broker        string   `msgpack:"broker"`
	AccountNumber string   `msgpack:"account_number"`
	AccountName   string   `msgpack:"account_name"`
	Server        string   `msgpack:"server"`
	Currency      string   `msgpack:"currency"`
	Leverage      int      `msgpack:"leverage"`
}

// Unregister is an explicit lifecycle teardown.
type Unregister struct {
	Envelope `msgpack:",inline"`

	AccountID string `msgpack:"account_id"`
	Role      Role   `msgpack:"role"`
}

// TradeSignal carries an open/close/modify instruction from a master.
type TradeSignal struct {
	Envelope `msgpack:",inline"`

	Action        TradeAction `msgpack:"action"`
	Ticket        uint64      `msgpack:"ticket"`
	Symbol        *string     `msgpack:"symbol,omitempty"`
	OrderType     *OrderType  `msgpack:"order_type,omitempty"`
	Lots          *float64    `msgpack:"lots,omitempty"`
	OpenPrice     *float64    `msgpack:"open_price,omitempty"`
	SL            *float64    `msgpack:"sl,omitempty"`
	TP            *float64    `msgpack:"tp,omitempty"`
	MagicNumber   *int64      `msgpack:"magic_number,omitempty"`
	Comment       string      `msgpack:"comment,omitempty"`
	SourceAccount string      `msgpack:"source_account"`
}

// Position describes a single open position within a PositionSnapshot.
type Position struct {
	Ticket      uint64    `msgpack:"ticket"`
	Symbol      string    `msgpack:"symbol"`
	OrderType   OrderType `msgpack:"order_type"`
	Lots        float64   `msgpack:"lots"`
	OpenPrice   float64   `msgpack:"open_price"`
	SL          float64   `msgpack:"sl,omitempty"`
	TP          float64   `msgpack:"tp,omitempty"`
	MagicNumber int64     `msgpack:"magic_number,omitempty"`
}

// PositionSnapshot carries a master's current position set, sent on
// reconnect or after gap detection.
type PositionSnapshot struct {
	Envelope `msgpack:",inline"`

	SourceAccount string     `msgpack:"source_account"`
	Positions     []Position `msgpack:"positions"`
}

// SyncRequest is sent by a slave, addressed to a named master.
type SyncRequest struct {
	Envelope `msgpack:",inline"`

	SlaveAccount  string `msgpack:"slave_account"`
	MasterAccount string `msgpack:"master_account"`
}

// SymbolMapping is a single source->target symbol rewrite rule.
type SymbolMapping struct {
	Source string `msgpack:"source"`
	Target string `msgpack:"target"`
}

// MasterConfig is sent outbound to a Master EA.
type MasterConfig struct {
	Envelope `msgpack:",inline"`

	Enabled       bool   `msgpack:"enabled"`
	SymbolPrefix  string `msgpack:"symbol_prefix,omitempty"`
	SymbolSuffix  string `msgpack:"symbol_suffix,omitempty"`
	ConfigVersion int64  `msgpack:"config_version"`
	Status        int    `msgpack:"status"`
	WarningCodes  []string `msgpack:"warning_codes"`
}

// SlaveConfig is sent outbound to a Slave EA; carries the fully resolved
// config plus current effective status and warning codes.
type SlaveConfig struct {
	Envelope `msgpack:",inline"`

	MasterAccountID string   `msgpack:"master_account_id"`
	Status          int      `msgpack:"status"`
	WarningCodes    []string `msgpack:"warning_codes"`
	EnabledFlag     bool     `msgpack:"enabled_flag"`
	ConfigVersion   int64    `msgpack:"config_version"`

	LotCalculationMode    string          `msgpack:"lot_calculation_mode"`
	LotMultiplier         *float64        `msgpack:"lot_multiplier,omitempty"`
	ReverseTrade          bool            `msgpack:"reverse_trade"`
	SymbolPrefix          string          `msgpack:"symbol_prefix,omitempty"`
	SymbolSuffix          string          `msgpack:"symbol_suffix,omitempty"`
	SymbolMappings        []SymbolMapping `msgpack:"symbol_mappings,omitempty"`
	AllowedSymbols        []string        `msgpack:"allowed_symbols,omitempty"`
	BlockedSymbols        []string        `msgpack:"blocked_symbols,omitempty"`
	AllowedMagicNumbers   []int64         `msgpack:"allowed_magic_numbers,omitempty"`
	BlockedMagicNumbers   []int64         `msgpack:"blocked_magic_numbers,omitempty"`
	SourceLotMin          *float64        `msgpack:"source_lot_min,omitempty"`
	SourceLotMax          *float64        `msgpack:"source_lot_max,omitempty"`
	SyncMode              string          `msgpack:"sync_mode"`
	LimitOrderExpiryMin   *int            `msgpack:"limit_order_expiry_min,omitempty"`
	MarketSyncMaxPips     *float64        `msgpack:"market_sync_max_pips,omitempty"`
	MaxSlippage           *float64        `msgpack:"max_slippage,omitempty"`
	CopyPendingOrders     bool            `msgpack:"copy_pending_orders"`
	MaxRetries            int             `msgpack:"max_retries"`
	MaxSignalDelayMs      int             `msgpack:"max_signal_delay_ms"`
	UsePendingForDelayed  bool            `msgpack:"use_pending_order_for_delayed"`
}

// VLogsConfig toggles the global log destination.
type VLogsConfig struct {
	Envelope `msgpack:",inline"`

	Enabled     bool   `msgpack:"enabled"`
	Destination string `msgpack:"destination,omitempty"`
}
