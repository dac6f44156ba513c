// Package engine translates trading signals into orders: it sizes the
// signal, risk-checks the parent order, places it, and best-effort attaches
// protective stop-loss/take-profit legs.
//
// Adapted from 0xtitan6-polymarket-mm/internal/engine/engine.go: that
// Engine owned market-slot goroutines, WS dispatch, and the full bot
// lifecycle; this one keeps its constructor-injection and slog idiom but
// narrows its responsibility to the single HandleSignal operation — the
// orchestrator (internal/orchestrator) now owns the per-algorithm
// lifecycle the teacher's slot map used to.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"tesserun/internal/broker"
	"tesserun/internal/core"
	"tesserun/internal/risk"
	"tesserun/internal/sizer"
)

// Engine translates a Signal into a placed parent order, with best-effort
// protective legs. It holds no algorithm state — callers (the orchestrator,
// or a standalone strategy loop) own that.
type Engine struct {
	sizer   sizer.Sizer
	checker risk.Checker
	client  broker.Client
	logger  *slog.Logger
}

// New wires a sizer, risk checker, and broker client into an Engine.
func New(s sizer.Sizer, checker risk.Checker, client broker.Client, logger *slog.Logger) *Engine {
	return &Engine{
		sizer:   s,
		checker: checker,
		client:  client,
		logger:  logger.With("component", "engine"),
	}
}

// HandleSignal sizes, risk-checks, and places the parent order for signal,
// then best-effort attaches protective stop-loss/take-profit legs. Returns
// (nil, nil) when the sized quantity is non-positive — that is not an
// error, just nothing to do.
func (e *Engine) HandleSignal(ctx context.Context, signal core.Signal, riskCtx core.RiskContext) (*core.Order, error) {
	qty, err := e.sizer.Size(signal, riskCtx.PortfolioEquity, riskCtx.LastPrice)
	if err != nil {
		return nil, broker.NewError(broker.ErrOther, fmt.Sprintf("size signal %s", signal.ID), err)
	}
	if qty.Sign() <= 0 {
		e.logger.Info("sized quantity non-positive, skipping signal", "signal_id", signal.ID, "kind", signal.Kind)
		return nil, nil
	}

	parentReq := core.OrderRequest{
		Symbol:        signal.Symbol,
		Side:          sideForSignal(signal.Kind),
		OrderType:     core.Market,
		Quantity:      qty,
		ClientOrderID: signal.ID.String(),
	}

	if err := e.checker.Check(parentReq, riskCtx); err != nil {
		return nil, broker.NewError(broker.ErrInvalidRequest, fmt.Sprintf("risk check signal %s", signal.ID), err)
	}

	parent, err := e.client.PlaceOrder(ctx, parentReq)
	if err != nil {
		return nil, fmt.Errorf("place parent order for signal %s: %w", signal.ID, err)
	}

	if signal.Kind == core.Flatten {
		return &parent, nil
	}

	protectiveSide := protectiveSideFor(signal.Kind)

	if signal.StopLoss != nil {
		e.placeProtectiveLeg(ctx, signal, "sl", core.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          protectiveSide,
			OrderType:     core.StopMarket,
			Quantity:      qty,
			TriggerPrice:  signal.StopLoss,
			ClientOrderID: signal.ID.String() + "-sl",
		}, riskCtx)
	}

	if signal.TakeProfit != nil {
		e.placeProtectiveLeg(ctx, signal, "tp", core.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          protectiveSide,
			OrderType:     core.StopMarket,
			Quantity:      qty,
			TriggerPrice:  signal.TakeProfit,
			ClientOrderID: signal.ID.String() + "-tp",
		}, riskCtx)
	}

	return &parent, nil
}

// placeProtectiveLeg risk-checks and places a single SL/TP leg. Failures are
// logged and swallowed: the parent order is already live, and unwinding it
// here would race with fills.
func (e *Engine) placeProtectiveLeg(ctx context.Context, signal core.Signal, leg string, req core.OrderRequest, riskCtx core.RiskContext) {
	if err := e.checker.Check(req, riskCtx); err != nil {
		e.logger.Warn("protective leg risk check failed, parent stays unprotected",
			"signal_id", signal.ID, "leg", leg, "error", err)
		return
	}
	if _, err := e.client.PlaceOrder(ctx, req); err != nil {
		e.logger.Warn("protective leg placement failed, parent stays unprotected",
			"signal_id", signal.ID, "leg", leg, "error", err)
	}
}

// sideForSignal maps a signal kind to the parent order's side.
func sideForSignal(kind core.SignalKind) core.Side {
	switch kind {
	case core.EnterLong:
		return core.Buy
	case core.EnterShort:
		return core.Sell
	case core.ExitLong, core.Flatten:
		return core.Sell
	case core.ExitShort:
		return core.Buy
	default:
		return core.Sell
	}
}

// protectiveSideFor returns the side opposite the parent's direction for
// EnterLong/ExitShort/EnterShort/ExitLong signals (Flatten carries no
// protective legs — HandleSignal returns before reaching this call for
// Flatten).
func protectiveSideFor(kind core.SignalKind) core.Side {
	switch kind {
	case core.EnterLong, core.ExitShort:
		return core.Sell
	case core.EnterShort, core.ExitLong:
		return core.Buy
	default:
		return core.Sell
	}
}
