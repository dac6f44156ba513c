// marshal.go converts between the host's core vocabulary and the plugin
// wire schema, following spec.md §4.6's marshaling rules: decimals cross
// the boundary as exact strings, timestamps as epoch milliseconds, and the
// host refuses to serialize non-finite floats (confidence is the one bare
// float on the wire and is validated before encoding).
//
// Grounded on original_source/tesser-execution/src/wasm/adapter.rs's
// to_plugin_side/to_plugin_tick/to_plugin_fill/convert_order_request/
// convert_order_update/signal_kind_label free functions.
package wasmplugin

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"tesserun/internal/core"
)

// PluginSide is the guest-facing order side.
type PluginSide string

const (
	PluginBuy  PluginSide = "Buy"
	PluginSell PluginSide = "Sell"
)

func toPluginSide(s core.Side) PluginSide {
	if s == core.Sell {
		return PluginSell
	}
	return PluginBuy
}

func fromPluginSide(s PluginSide) core.Side {
	if s == PluginSell {
		return core.Sell
	}
	return core.Buy
}

// PluginOrderType is the guest-facing order type. Only Market and Limit are
// accepted; StopMarket is absent. The orchestrator sends plugin orders
// straight to risk and the broker — internal/engine's SL/TP attachment does
// not apply to them — so a guest's stop_loss/take_profit values travel only
// as fields of its own order request.
type PluginOrderType string

const (
	PluginMarket PluginOrderType = "Market"
	PluginLimit  PluginOrderType = "Limit"
)

// PluginTimeInForce is the guest-facing time-in-force. PostOnly is accepted
// on the wire but has no host-side equivalent and decodes to nil, matching
// the Rust adapter's `Some(PostOnly) => None` mapping.
type PluginTimeInForce string

const (
	PluginGTC      PluginTimeInForce = "Gtc"
	PluginIOC      PluginTimeInForce = "Ioc"
	PluginFOK      PluginTimeInForce = "Fok"
	PluginPostOnly PluginTimeInForce = "PostOnly"
)

// PluginTick is the wire shape of core.Tick.
type PluginTick struct {
	Symbol      string     `json:"symbol"`
	Price       string     `json:"price"`
	Size        string     `json:"size"`
	Side        PluginSide `json:"side"`
	TimestampMs int64      `json:"timestamp_ms"`
}

func toPluginTick(tick core.Tick) PluginTick {
	return PluginTick{
		Symbol:      string(tick.Symbol),
		Price:       tick.Price.String(),
		Size:        tick.Size.String(),
		Side:        toPluginSide(tick.Side),
		TimestampMs: tick.ExchangeTimestamp.UnixMilli(),
	}
}

// PluginFill is the wire shape of core.Fill.
type PluginFill struct {
	OrderID      string     `json:"order_id"`
	Symbol       string     `json:"symbol"`
	Side         PluginSide `json:"side"`
	FillPrice    string     `json:"fill_price"`
	FillQuantity string     `json:"fill_quantity"`
	Fee          string     `json:"fee"`
	FeeAsset     *string    `json:"fee_asset,omitempty"`
	TimestampMs  int64      `json:"timestamp_ms"`
}

func toPluginFill(fill core.Fill) PluginFill {
	return PluginFill{
		OrderID:      fill.OrderID,
		Symbol:       string(fill.Symbol),
		Side:         toPluginSide(fill.Side),
		FillPrice:    fill.FillPrice.String(),
		FillQuantity: fill.FillQuantity.String(),
		Fee:          fill.Fee.String(),
		FeeAsset:     fill.FeeAsset,
		TimestampMs:  fill.Timestamp.UnixMilli(),
	}
}

// PluginSignal is the wire shape of the signal that spawned this algorithm.
type PluginSignal struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Side           PluginSide `json:"side"`
	Kind           string     `json:"kind"`
	Confidence     float64    `json:"confidence"`
	TargetQuantity string     `json:"target_quantity"`
	Note           *string    `json:"note,omitempty"`
	GroupID        *string    `json:"group_id,omitempty"`
}

// PluginRiskContext is the wire shape of core.RiskContext.
type PluginRiskContext struct {
	LastPrice           string `json:"last_price"`
	PortfolioEquity     string `json:"portfolio_equity"`
	ExchangeEquity      string `json:"exchange_equity"`
	SignedPositionQty   string `json:"signed_position_qty"`
	BaseAvailable       string `json:"base_available"`
	QuoteAvailable      string `json:"quote_available"`
	SettlementAvailable string `json:"settlement_available"`
	InstrumentKind      string `json:"instrument_kind,omitempty"`
}

func toPluginRiskContext(ctx core.RiskContext) PluginRiskContext {
	return PluginRiskContext{
		LastPrice:           ctx.LastPrice.String(),
		PortfolioEquity:     ctx.PortfolioEquity.String(),
		ExchangeEquity:      ctx.ExchangeEquity.String(),
		SignedPositionQty:   ctx.SignedPositionQty.String(),
		BaseAvailable:       ctx.BaseAvailable.String(),
		QuoteAvailable:      ctx.QuoteAvailable.String(),
		SettlementAvailable: ctx.SettlementAvailable.String(),
		InstrumentKind:      string(ctx.InstrumentKind),
	}
}

// PluginInitContext is the payload passed to the guest's init entry point.
type PluginInitContext struct {
	Plugin   string            `json:"plugin"`
	Params   map[string]any    `json:"params"`
	Signal   PluginSignal      `json:"signal"`
	Risk     PluginRiskContext `json:"risk"`
	Metadata map[string]any    `json:"metadata"`
}

// contextFromSignal builds the init-time context a freshly submitted
// algorithm receives, mirroring WasmAlgorithm::context_from_signal.
func contextFromSignal(pluginName string, params map[string]any, signal core.Signal, totalQuantity decimal.Decimal, riskCtx core.RiskContext) (PluginInitContext, error) {
	if math.IsNaN(signal.Confidence) || math.IsInf(signal.Confidence, 0) {
		return PluginInitContext{}, fmt.Errorf("signal %s has non-finite confidence", signal.ID)
	}

	var groupID *string
	if signal.GroupID != nil {
		s := signal.GroupID.String()
		groupID = &s
	}

	return PluginInitContext{
		Plugin: pluginName,
		Params: params,
		Signal: PluginSignal{
			ID:             signal.ID.String(),
			Symbol:         string(signal.Symbol),
			Side:           toPluginSide(signal.Kind.Side()),
			Kind:           signalKindLabel(signal.Kind),
			Confidence:     signal.Confidence,
			TargetQuantity: totalQuantity.Abs().String(),
			Note:           signal.Note,
			GroupID:        groupID,
		},
		Risk: toPluginRiskContext(riskCtx),
		Metadata: map[string]any{
			"stop_loss":   decimalPtrString(signal.StopLoss),
			"take_profit": decimalPtrString(signal.TakeProfit),
		},
	}, nil
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func signalKindLabel(kind core.SignalKind) string {
	switch kind {
	case core.EnterLong:
		return "enter_long"
	case core.ExitLong:
		return "exit_long"
	case core.EnterShort:
		return "enter_short"
	case core.ExitShort:
		return "exit_short"
	case core.Flatten:
		return "flatten"
	default:
		return "unknown"
	}
}

// PluginOrderRequest is the wire shape a guest emits to place an order.
type PluginOrderRequest struct {
	Symbol          string             `json:"symbol"`
	Side            PluginSide         `json:"side"`
	OrderType       PluginOrderType    `json:"order_type"`
	Quantity        string             `json:"quantity"`
	Price           *string            `json:"price,omitempty"`
	TriggerPrice    *string            `json:"trigger_price,omitempty"`
	TimeInForce     *PluginTimeInForce `json:"time_in_force,omitempty"`
	ClientOrderID   *string            `json:"client_order_id,omitempty"`
	StopLoss        *string            `json:"stop_loss,omitempty"`
	TakeProfit      *string            `json:"take_profit,omitempty"`
	DisplayQuantity *string            `json:"display_quantity,omitempty"`
}

// PluginOrderUpdateRequest is the wire shape a guest emits to amend an order.
type PluginOrderUpdateRequest struct {
	OrderID     string     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Side        PluginSide `json:"side"`
	NewPrice    *string    `json:"new_price,omitempty"`
	NewQuantity *string    `json:"new_quantity,omitempty"`
}

// PluginChildOrderRequest is one entry of PluginResult.Orders: exactly one
// of Place/Amend is set, selected by Action.
type PluginChildOrderRequest struct {
	Action PluginAction              `json:"action"`
	Place  *PluginOrderRequest       `json:"place,omitempty"`
	Amend  *PluginOrderUpdateRequest `json:"amend,omitempty"`
}

// PluginAction discriminates PluginChildOrderRequest's payload.
type PluginAction string

const (
	PluginActionPlace PluginAction = "place"
	PluginActionAmend PluginAction = "amend"
)

// PluginResult is what the guest returns from every callback.
type PluginResult struct {
	Orders    []PluginChildOrderRequest `json:"orders"`
	Logs      []string                  `json:"logs"`
	Completed bool                      `json:"completed"`
}

func parseDecimalField(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return d, nil
}

func parseOptionalDecimal(field string, value *string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	d, err := parseDecimalField(field, *value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// convertOrderRequest decodes a guest-emitted place request into the host's
// OrderRequest vocabulary.
func convertOrderRequest(req PluginOrderRequest) (core.OrderRequest, error) {
	qty, err := parseDecimalField("quantity", req.Quantity)
	if err != nil {
		return core.OrderRequest{}, err
	}

	var orderType core.OrderType
	switch req.OrderType {
	case PluginMarket:
		orderType = core.Market
	case PluginLimit:
		orderType = core.Limit
	default:
		return core.OrderRequest{}, fmt.Errorf("unrecognized plugin order_type %q", req.OrderType)
	}

	price, err := parseOptionalDecimal("price", req.Price)
	if err != nil {
		return core.OrderRequest{}, err
	}
	trigger, err := parseOptionalDecimal("trigger_price", req.TriggerPrice)
	if err != nil {
		return core.OrderRequest{}, err
	}
	stopLoss, err := parseOptionalDecimal("stop_loss", req.StopLoss)
	if err != nil {
		return core.OrderRequest{}, err
	}
	takeProfit, err := parseOptionalDecimal("take_profit", req.TakeProfit)
	if err != nil {
		return core.OrderRequest{}, err
	}
	displayQty, err := parseOptionalDecimal("display_quantity", req.DisplayQuantity)
	if err != nil {
		return core.OrderRequest{}, err
	}

	var tif *core.TimeInForce
	if req.TimeInForce != nil {
		switch *req.TimeInForce {
		case PluginGTC:
			v := core.GoodTilCanceled
			tif = &v
		case PluginIOC:
			v := core.ImmediateOrCancel
			tif = &v
		case PluginFOK:
			v := core.FillOrKill
			tif = &v
		case PluginPostOnly:
			tif = nil
		}
	}

	var clientOrderID string
	if req.ClientOrderID != nil {
		clientOrderID = *req.ClientOrderID
	}

	return core.OrderRequest{
		Symbol:          core.Symbol(req.Symbol),
		Side:            fromPluginSide(req.Side),
		OrderType:       orderType,
		Quantity:        qty,
		Price:           price,
		TriggerPrice:    trigger,
		TimeInForce:     tif,
		ClientOrderID:   clientOrderID,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		DisplayQuantity: displayQty,
	}, nil
}

// convertOrderUpdate decodes a guest-emitted amend request.
func convertOrderUpdate(req PluginOrderUpdateRequest) (core.OrderUpdateRequest, error) {
	newPrice, err := parseOptionalDecimal("new_price", req.NewPrice)
	if err != nil {
		return core.OrderUpdateRequest{}, err
	}
	newQty, err := parseOptionalDecimal("new_quantity", req.NewQuantity)
	if err != nil {
		return core.OrderUpdateRequest{}, err
	}
	return core.OrderUpdateRequest{
		OrderID:     req.OrderID,
		Symbol:      core.Symbol(req.Symbol),
		Side:        fromPluginSide(req.Side),
		NewPrice:    newPrice,
		NewQuantity: newQty,
	}, nil
}
