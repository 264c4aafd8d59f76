package copyengine

import (
	"testing"

	"github.com/sankey-copier/relay-server/internal/apperr"
	"github.com/sankey-copier/relay-server/internal/status"
	"github.com/sankey-copier/relay-server/internal/symbol"
	"github.com/sankey-copier/relay-server/internal/wire"
)

func strp(s string) *string     { return &s }
func f64p(f float64) *float64   { return &f }
func i64p(i int64) *int64       { return &i }
func otp(o wire.OrderType) *wire.OrderType { return &o }

func TestShouldCopyRequiresConnectedMember(t *testing.T) {
	signal := &wire.TradeSignal{Symbol: strp("EURUSD")}
	if ShouldCopy(signal, MemberFilter{RuntimeStatus: status.StatusEnabledNotConnected}) {
		t.Fatal("expected false for a non-connected member")
	}
}

func TestShouldCopyRespectsAllowedSymbols(t *testing.T) {
	signal := &wire.TradeSignal{Symbol: strp("GBPUSD")}
	filter := MemberFilter{RuntimeStatus: status.StatusConnected, AllowedSymbols: []string{"EURUSD"}}
	if ShouldCopy(signal, filter) {
		t.Fatal("expected false: symbol not in allow list")
	}
}

func TestShouldCopyRespectsBlockedSymbols(t *testing.T) {
	signal := &wire.TradeSignal{Symbol: strp("EURUSD")}
	filter := MemberFilter{RuntimeStatus: status.StatusConnected, BlockedSymbols: []string{"EURUSD"}}
	if ShouldCopy(signal, filter) {
		t.Fatal("expected false: symbol blocked")
	}
}

func TestShouldCopyRespectsMagicNumberLists(t *testing.T) {
	signal := &wire.TradeSignal{MagicNumber: i64p(42)}
	allowed := MemberFilter{RuntimeStatus: status.StatusConnected, AllowedMagicNumbers: []int64{1, 2}}
	if ShouldCopy(signal, allowed) {
		t.Fatal("expected false: magic number not allowed")
	}
	blocked := MemberFilter{RuntimeStatus: status.StatusConnected, BlockedMagicNumbers: []int64{42}}
	if ShouldCopy(signal, blocked) {
		t.Fatal("expected false: magic number blocked")
	}
}

func TestShouldCopyPassesWithNoFiltersSet(t *testing.T) {
	signal := &wire.TradeSignal{Symbol: strp("EURUSD"), MagicNumber: i64p(42)}
	if !ShouldCopy(signal, MemberFilter{RuntimeStatus: status.StatusConnected}) {
		t.Fatal("expected true when no allow/block lists restrict the signal")
	}
}

func TestTransformAppliesLotMultiplierRoundedToTwoDecimals(t *testing.T) {
	signal := &wire.TradeSignal{Lots: f64p(1.005)}
	out, err := Transform(signal, MemberSettings{LotMultiplier: f64p(2.0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Lots == nil || *out.Lots != 2.01 {
		t.Fatalf("expected 2.01, got %v", out.Lots)
	}
}

func TestTransformConvertsSymbol(t *testing.T) {
	conv := symbol.NewConverter("MT5_", "", "", "")
	signal := &wire.TradeSignal{Symbol: strp("MT5_EURUSD")}
	out, err := Transform(signal, MemberSettings{Converter: conv})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Symbol == nil || *out.Symbol != "EURUSD" {
		t.Fatalf("expected EURUSD, got %v", out.Symbol)
	}
}

func TestTransformReversesOrderType(t *testing.T) {
	signal := &wire.TradeSignal{OrderType: otp(wire.OrderBuy)}
	out, err := Transform(signal, MemberSettings{ReverseTrade: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OrderType == nil || *out.OrderType != wire.OrderSell {
		t.Fatalf("expected Sell, got %v", out.OrderType)
	}
}

func TestTransformPreservesOtherFields(t *testing.T) {
	signal := &wire.TradeSignal{Ticket: 777, Comment: "hello", SourceAccount: "MASTER_1"}
	out, err := Transform(signal, MemberSettings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Ticket != 777 || out.Comment != "hello" || out.SourceAccount != "MASTER_1" {
		t.Fatalf("expected unchanged fields, got %+v", out)
	}
}

func TestTransformUnsupportedOrderTypeFails(t *testing.T) {
	bogus := wire.OrderType("Bogus")
	signal := &wire.TradeSignal{OrderType: &bogus}
	_, err := Transform(signal, MemberSettings{ReverseTrade: true})
	if err == nil {
		t.Fatal("expected error")
	}
	kind, ok := apperr.KindOf(err)
	if !ok || kind != apperr.KindValidation {
		t.Fatalf("expected KindValidation, got %v", kind)
	}
}
