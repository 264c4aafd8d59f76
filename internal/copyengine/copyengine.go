// Package copyengine decides, for a single trade signal and a single group
// member, whether that signal should be copied to the member and, if so,
// what the copied signal looks like once lot sizing, symbol conversion, and
// trade-direction reversal have been applied. Every function here is pure:
// no I/O, no clock, no randomness.
package copyengine

import (
	"math"

	"github.com/sankey-copier/relay-server/internal/apperr"
	"github.com/sankey-copier/relay-server/internal/status"
	"github.com/sankey-copier/relay-server/internal/symbol"
	"github.com/sankey-copier/relay-server/internal/wire"
)

// MemberFilter holds the symbol/magic-number allow and block lists and
// runtime status a member currently has, everything should_copy needs.
type MemberFilter struct {
	RuntimeStatus       int
	AllowedSymbols      []string
	BlockedSymbols      []string
	AllowedMagicNumbers []int64
	BlockedMagicNumbers []int64
}

// MemberSettings holds the per-member transform settings: lot sizing,
// direction reversal, and symbol decoration.
type MemberSettings struct {
	LotMultiplier *float64
	ReverseTrade  bool
	Converter     symbol.Converter
	Mappings      []symbol.Mapping
}

// ShouldCopy reports whether signal should be forwarded to a member with the
// given filter settings.
func ShouldCopy(signal *wire.TradeSignal, filter MemberFilter) bool {
	if filter.RuntimeStatus != status.StatusConnected {
		return false
	}

	if signal.Symbol != nil {
		if len(filter.AllowedSymbols) > 0 && !contains(filter.AllowedSymbols, *signal.Symbol) {
			return false
		}
		if contains(filter.BlockedSymbols, *signal.Symbol) {
			return false
		}
	}

	if signal.MagicNumber != nil {
		if len(filter.AllowedMagicNumbers) > 0 && !containsInt64(filter.AllowedMagicNumbers, *signal.MagicNumber) {
			return false
		}
		if containsInt64(filter.BlockedMagicNumbers, *signal.MagicNumber) {
			return false
		}
	}

	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsInt64(list []int64, v int64) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

var reverseOrderType = map[wire.OrderType]wire.OrderType{
	wire.OrderBuy:       wire.OrderSell,
	wire.OrderSell:      wire.OrderBuy,
	wire.OrderBuyLimit:  wire.OrderSellLimit,
	wire.OrderSellLimit: wire.OrderBuyLimit,
	wire.OrderBuyStop:   wire.OrderSellStop,
	wire.OrderSellStop:  wire.OrderBuyStop,
}

// Transform rewrites signal per MemberSettings: symbol conversion, lot
// scaling, and direction reversal. All other fields are copied unchanged.
func Transform(signal *wire.TradeSignal, settings MemberSettings) (*wire.TradeSignal, error) {
	out := *signal

	if signal.Symbol != nil {
		converted := settings.Converter.Convert(*signal.Symbol, settings.Mappings)
		out.Symbol = &converted
	}

	if signal.Lots != nil && settings.LotMultiplier != nil {
		scaled := math.Round(*signal.Lots**settings.LotMultiplier*100) / 100
		out.Lots = &scaled
	}

	if settings.ReverseTrade && signal.OrderType != nil {
		reversed, ok := reverseOrderType[*signal.OrderType]
		if !ok {
			return nil, apperr.Validationf("UnsupportedOrderType", "cannot reverse order type %q", *signal.OrderType)
		}
		out.OrderType = &reversed
	}

	return &out, nil
}
