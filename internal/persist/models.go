package persist

// TradeGroup is a master account and the settings it publishes to its
// members. WebUIEnabled is the single operator-intent flag ("enabled_flag")
// the status engine and every toggle endpoint read and write; there is no
// separate enabled/disabled column.
type TradeGroup struct {
	ID            string
	WebUIEnabled  bool
	SymbolPrefix  string
	SymbolSuffix  string
	ConfigVersion int64
	Status        int
	WarningCodes  []string
}

// SymbolMapping is a single source->target symbol rewrite rule, stored as
// part of a member's settings.
type SymbolMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Member is one slave account's membership in a TradeGroup, along with the
// per-slave settings that govern what gets copied to it and how.
// WebUIEnabled is the single operator-intent flag, same role as
// TradeGroup.WebUIEnabled.
type Member struct {
	ID             int64
	TradeGroupID   string
	SlaveAccountID string
	WebUIEnabled   bool
	Status         int
	WarningCodes   []string
	ConfigVersion  int64

	LotCalculationMode  string
	LotMultiplier       *float64
	ReverseTrade        bool
	SymbolPrefix        string
	SymbolSuffix        string
	SymbolMappings      []SymbolMapping
	AllowedSymbols      []string
	BlockedSymbols      []string
	AllowedMagicNumbers []int64
	BlockedMagicNumbers []int64
	SourceLotMin        *float64
	SourceLotMax        *float64
	SyncMode            string
	LimitOrderExpiryMin *int
	MarketSyncMaxPips   *float64
	MaxSlippage         *float64
	CopyPendingOrders   bool
	MaxRetries          int
	MaxSignalDelayMs    int
	UsePendingForDelayed bool
}

// FailedOutgoing is one message the publisher could not deliver.
type FailedOutgoing struct {
	ID        string
	Topic     string
	Payload   []byte
	Error     string
	Attempts  int
	Processed bool
}
