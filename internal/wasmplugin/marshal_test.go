package wasmplugin

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"tesserun/internal/core"
)

func TestContextFromSignalRejectsNonFiniteConfidence(t *testing.T) {
	t.Parallel()

	signal := core.NewSignal("BTCUSDT", core.EnterLong, math.NaN())
	_, err := contextFromSignal("trend_follower", nil, signal, decimal.NewFromInt(1), core.RiskContext{})
	if err == nil {
		t.Fatal("contextFromSignal with NaN confidence = nil error, want error")
	}

	signal.Confidence = math.Inf(1)
	if _, err := contextFromSignal("trend_follower", nil, signal, decimal.NewFromInt(1), core.RiskContext{}); err == nil {
		t.Fatal("contextFromSignal with +Inf confidence = nil error, want error")
	}
}

func TestContextFromSignalCarriesStopLossAndTakeProfitInMetadata(t *testing.T) {
	t.Parallel()

	sl := decimal.NewFromFloat(95.5)
	tp := decimal.NewFromFloat(110.0)
	signal := core.NewSignal("BTCUSDT", core.EnterLong, 0.8)
	signal.StopLoss = &sl
	signal.TakeProfit = &tp

	ctx, err := contextFromSignal("trend_follower", nil, signal, decimal.NewFromInt(2), core.RiskContext{})
	if err != nil {
		t.Fatalf("contextFromSignal = %v", err)
	}

	if got := ctx.Metadata["stop_loss"]; got == nil || *got.(*string) != "95.5" {
		t.Errorf("metadata stop_loss = %v, want 95.5", got)
	}
	if got := ctx.Metadata["take_profit"]; got == nil || *got.(*string) != "110" {
		t.Errorf("metadata take_profit = %v, want 110", got)
	}
	if ctx.Signal.TargetQuantity != "2" {
		t.Errorf("target quantity = %s, want 2", ctx.Signal.TargetQuantity)
	}
	if ctx.Signal.Side != PluginBuy {
		t.Errorf("signal side = %s, want Buy", ctx.Signal.Side)
	}
	if ctx.Signal.Kind != "enter_long" {
		t.Errorf("signal kind = %s, want enter_long", ctx.Signal.Kind)
	}
}

func TestToPluginTickEncodesDecimalsExactly(t *testing.T) {
	t.Parallel()

	tick := core.Tick{
		Symbol: "ETHUSDT",
		Price:  decimal.RequireFromString("3123.456789"),
		Size:   decimal.RequireFromString("0.001"),
		Side:   core.Sell,
	}
	pt := toPluginTick(tick)
	if pt.Price != "3123.456789" || pt.Size != "0.001" || pt.Side != PluginSell {
		t.Errorf("toPluginTick = %+v", pt)
	}
}

func TestConvertOrderRequestRejectsUnknownOrderType(t *testing.T) {
	t.Parallel()

	_, err := convertOrderRequest(PluginOrderRequest{
		Symbol: "BTCUSDT", Side: PluginBuy, OrderType: "StopMarket", Quantity: "1",
	})
	if err == nil {
		t.Fatal("convertOrderRequest with unrecognized order type = nil error, want error")
	}
}

func TestConvertOrderRequestPostOnlyMapsToNilTimeInForce(t *testing.T) {
	t.Parallel()

	postOnly := PluginPostOnly
	req, err := convertOrderRequest(PluginOrderRequest{
		Symbol: "BTCUSDT", Side: PluginBuy, OrderType: PluginLimit, Quantity: "1", TimeInForce: &postOnly,
	})
	if err != nil {
		t.Fatalf("convertOrderRequest = %v", err)
	}
	if req.TimeInForce != nil {
		t.Errorf("TimeInForce = %v, want nil", req.TimeInForce)
	}
}

func TestConvertOrderRequestParsesOptionalDecimals(t *testing.T) {
	t.Parallel()

	price := "100.5"
	req, err := convertOrderRequest(PluginOrderRequest{
		Symbol: "BTCUSDT", Side: PluginSell, OrderType: PluginLimit, Quantity: "2", Price: &price,
	})
	if err != nil {
		t.Fatalf("convertOrderRequest = %v", err)
	}
	if req.Price == nil || !req.Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Price = %v, want 100.5", req.Price)
	}
	if req.Side != core.Sell {
		t.Errorf("Side = %s, want SELL", req.Side)
	}
}

func TestConvertOrderRequestRejectsMalformedDecimal(t *testing.T) {
	t.Parallel()

	_, err := convertOrderRequest(PluginOrderRequest{
		Symbol: "BTCUSDT", Side: PluginBuy, OrderType: PluginMarket, Quantity: "not-a-number",
	})
	if err == nil {
		t.Fatal("convertOrderRequest with malformed quantity = nil error, want error")
	}
}
