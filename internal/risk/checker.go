// Package risk implements the pre-trade risk checker the engine and the
// orchestrator run every order through before it reaches the broker.
//
// Checks are pure, synchronous, and must not block — no I/O, no channel
// selects. Grounded on tesser-execution/src/lib.rs's PreTradeRiskChecker /
// NoopRiskChecker / BasicRiskChecker, with the package shape (sanitized
// config held by the constructor, typed errors) carried over from
// 0xtitan6-polymarket-mm/internal/risk/manager.go.
package risk

import (
	"fmt"

	"tesserun/internal/core"
)

// Checker validates an order request before it reaches the broker.
type Checker interface {
	Check(request core.OrderRequest, ctx core.RiskContext) error
}

// MaxOrderSizeError is returned when a single order's quantity exceeds the
// configured per-order limit.
type MaxOrderSizeError struct {
	Quantity, Limit string
}

func (e *MaxOrderSizeError) Error() string {
	return fmt.Sprintf("order quantity %s exceeds limit %s", e.Quantity, e.Limit)
}

// MaxPositionExposureError is returned when the projected position after
// this order would exceed the configured position cap.
type MaxPositionExposureError struct {
	Projected, Limit string
}

func (e *MaxPositionExposureError) Error() string {
	return fmt.Sprintf("projected position %s exceeds limit %s", e.Projected, e.Limit)
}

// LiquidateOnlyError is returned when liquidate-only mode rejects an order
// that does not reduce (or would flip) the current position.
type LiquidateOnlyError struct{}

func (e *LiquidateOnlyError) Error() string {
	return "liquidate-only mode active"
}

// NoopChecker always passes. Used in tests and backtests.
type NoopChecker struct{}

// Check implements Checker.
func (NoopChecker) Check(core.OrderRequest, core.RiskContext) error { return nil }

// BasicChecker enforces fat-finger order-size and net-position caps, plus
// liquidate-only mode. Tie-break order is fixed: order-size check, then
// position check, then liquidate-only check — the first violation wins.
type BasicChecker struct {
	limits core.RiskLimits
}

// NewBasicChecker sanitizes limits (negative -> 0, meaning disabled) and
// returns a checker that enforces them.
func NewBasicChecker(limits core.RiskLimits) *BasicChecker {
	return &BasicChecker{limits: limits.Sanitized()}
}

// Check implements Checker.
func (c *BasicChecker) Check(request core.OrderRequest, ctx core.RiskContext) error {
	qty := request.Quantity.Abs()

	if c.limits.MaxOrderQuantity.Sign() > 0 && qty.GreaterThan(c.limits.MaxOrderQuantity) {
		return &MaxOrderSizeError{Quantity: qty.String(), Limit: c.limits.MaxOrderQuantity.String()}
	}

	var projected = ctx.SignedPositionQty
	switch request.Side {
	case core.Buy:
		projected = projected.Add(qty)
	case core.Sell:
		projected = projected.Sub(qty)
	}

	if c.limits.MaxPositionQuantity.Sign() > 0 && projected.Abs().GreaterThan(c.limits.MaxPositionQuantity) {
		return &MaxPositionExposureError{Projected: projected.String(), Limit: c.limits.MaxPositionQuantity.String()}
	}

	if ctx.LiquidateOnly {
		position := ctx.SignedPositionQty
		if position.IsZero() {
			return &LiquidateOnlyError{}
		}
		reduces := (position.Sign() > 0 && request.Side == core.Sell) ||
			(position.Sign() < 0 && request.Side == core.Buy)
		if !reduces {
			return &LiquidateOnlyError{}
		}
		if qty.GreaterThan(position.Abs()) {
			return &LiquidateOnlyError{}
		}
	}

	return nil
}
