// Package core defines the shared data vocabulary used across all execution
// packages — symbols, orders, fills, ticks, and signals. It has no
// dependencies on other internal packages, so it can be imported by any
// layer (money, sizer, risk, engine, orchestrator, broker, repository).
package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Symbol is an opaque market identifier, e.g. "BTCUSDT". Equality is by code.
type Symbol string

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates the supported order shapes.
type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopMarket OrderType = "STOP_MARKET"
)

// TimeInForce enumerates supported order durations.
type TimeInForce string

const (
	GoodTilCanceled   TimeInForce = "GTC"
	ImmediateOrCancel TimeInForce = "IOC"
	FillOrKill        TimeInForce = "FOK"
)

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest describes an order to be placed with the broker.
//
// Invariant: Market orders carry no Price; StopMarket orders carry a
// TriggerPrice. Quantity is always >= 0 — side encodes direction.
type OrderRequest struct {
	Symbol          Symbol
	Side            Side
	OrderType       OrderType
	Quantity        decimal.Decimal
	Price           *decimal.Decimal
	TriggerPrice    *decimal.Decimal
	TimeInForce     *TimeInForce
	ClientOrderID   string
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	DisplayQuantity *decimal.Decimal
}

// OrderUpdateRequest describes an in-place amendment to a live order.
type OrderUpdateRequest struct {
	OrderID     string
	Symbol      Symbol
	Side        Side
	NewPrice    *decimal.Decimal
	NewQuantity *decimal.Decimal
}

// Order is produced by the broker on successful placement.
type Order struct {
	ID        string
	Request   OrderRequest
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill is an append-only fact: part or all of an order was matched.
type Fill struct {
	OrderID      string
	Symbol       Symbol
	Side         Side
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal
	Fee          decimal.Decimal
	FeeAsset     *string
	Timestamp    time.Time
}

// Tick is a single trade print or quote update observed on the market.
type Tick struct {
	Symbol            Symbol
	Price             decimal.Decimal
	Size              decimal.Decimal
	Side              Side
	ExchangeTimestamp time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// SignalKind enumerates the exposure-change intents a strategy can emit.
type SignalKind string

const (
	EnterLong  SignalKind = "ENTER_LONG"
	ExitLong   SignalKind = "EXIT_LONG"
	EnterShort SignalKind = "ENTER_SHORT"
	ExitShort  SignalKind = "EXIT_SHORT"
	Flatten    SignalKind = "FLATTEN"
)

// Side returns the directional side a fresh position of this kind implies.
// Used only for plugin-boundary marshaling (spec §6: PluginSignal.side);
// it does not determine the parent order's side — see engine.sideForSignal.
func (k SignalKind) Side() Side {
	switch k {
	case EnterLong, ExitShort:
		return Buy
	default:
		return Sell
	}
}

// Signal is a strategy-emitted intent to change exposure.
type Signal struct {
	ID         uuid.UUID
	Symbol     Symbol
	Kind       SignalKind
	Confidence float64
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	GroupID    *uuid.UUID
	Note       *string
}

// NewSignal builds a signal with a freshly generated ID, mirroring the
// common `Signal::new(symbol, kind, confidence)` constructor shape.
func NewSignal(symbol Symbol, kind SignalKind, confidence float64) Signal {
	return Signal{
		ID:         uuid.New(),
		Symbol:     symbol,
		Kind:       kind,
		Confidence: confidence,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Risk context & limits
// ————————————————————————————————————————————————————————————————————————

// InstrumentKind optionally narrows risk behavior by instrument class.
type InstrumentKind string

const (
	InstrumentSpot    InstrumentKind = "SPOT"
	InstrumentPerp    InstrumentKind = "PERP"
	InstrumentOption  InstrumentKind = "OPTION"
	InstrumentUnknown InstrumentKind = ""
)

// RiskContext is a point-in-time snapshot of account/position state used to
// evaluate pre-trade risk and to build plugin risk contexts.
type RiskContext struct {
	SignedPositionQty    decimal.Decimal
	PortfolioEquity      decimal.Decimal
	ExchangeEquity       decimal.Decimal
	LastPrice            decimal.Decimal
	LiquidateOnly        bool
	BaseAvailable        decimal.Decimal
	QuoteAvailable       decimal.Decimal
	SettlementAvailable  decimal.Decimal
	InstrumentKind       InstrumentKind
}

// ————————————————————————————————————————————————————————————————————————
// Algorithms & snapshots
// ————————————————————————————————————————————————————————————————————————

// AlgoStatus enumerates the lifecycle states of a live algorithm. Terminal
// states (Completed, Cancelled, Failed) are sticky — no transition leaves
// them.
type AlgoStatus string

const (
	AlgoWorking   AlgoStatus = "WORKING"
	AlgoCompleted AlgoStatus = "COMPLETED"
	AlgoCancelled AlgoStatus = "CANCELLED"
	AlgoFailed    AlgoStatus = "FAILED"
)

// IsTerminal reports whether status has no outgoing transitions.
func (s AlgoStatus) IsTerminal() bool {
	return s == AlgoCompleted || s == AlgoCancelled || s == AlgoFailed
}

// ChildOrderAction enumerates what a ChildOrderRequest asks the orchestrator
// to do.
type ChildOrderAction string

const (
	ActionPlace ChildOrderAction = "PLACE"
	ActionAmend ChildOrderAction = "AMEND"
)

// ChildOrderRequest is one order action an algorithm asks the orchestrator
// to dispatch on its behalf.
type ChildOrderRequest struct {
	ParentAlgoID uuid.UUID
	Action       ChildOrderAction
	Place        *OrderRequest
	Amend        *OrderUpdateRequest
}

// AlgoSnapshot is the durable, opaque representation of one algorithm's
// state, as written to and read from a repository. Payload is restorable
// by the algorithm factory registered for Kind.
type AlgoSnapshot struct {
	AlgoID        uuid.UUID
	Kind          string
	Symbol        Symbol
	Status        AlgoStatus
	Payload       []byte
	NextClientSeq uint32
	UpdatedAt     time.Time
}

// RiskLimits bounds order size and net position size. Zero means disabled.
type RiskLimits struct {
	MaxOrderQuantity    decimal.Decimal
	MaxPositionQuantity decimal.Decimal
}

// Sanitized returns limits clamped to >= 0, with NaN-producing values
// (non-finite decimals can't occur by construction, but negative
// configuration input can) floored at zero — zero means "disabled".
func (l RiskLimits) Sanitized() RiskLimits {
	out := l
	if out.MaxOrderQuantity.IsNegative() {
		out.MaxOrderQuantity = decimal.Zero
	}
	if out.MaxPositionQuantity.IsNegative() {
		out.MaxPositionQuantity = decimal.Zero
	}
	return out
}
