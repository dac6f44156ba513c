// Package sizer computes the quantity of a child order from a signal,
// current portfolio equity, and last traded price. It is polymorphic over
// that single capability — the engine owns exactly one Sizer for its
// lifetime.
//
// Grounded on tesser-execution/src/lib.rs's OrderSizer trait and its three
// implementations (FixedOrderSizer, PortfolioPercentSizer,
// RiskAdjustedSizer), translated to shopspring/decimal.
package sizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tesserun/internal/core"
	"tesserun/internal/money"
)

// Sizer computes the quantity to trade for a signal. Implementations must
// not suspend (no I/O, no blocking) and must return a quantity >= 0.
type Sizer interface {
	Size(signal core.Signal, portfolioEquity, lastPrice decimal.Decimal) (decimal.Decimal, error)
}

// ZeroOrNegativePriceError is returned by sizers that require a positive
// reference price.
type ZeroOrNegativePriceError struct {
	LastPrice decimal.Decimal
}

func (e *ZeroOrNegativePriceError) Error() string {
	return fmt.Sprintf("cannot size order with zero or negative price (got %s)", e.LastPrice)
}

// Fixed always returns the configured quantity, regardless of equity or
// price — including when both are zero.
type Fixed struct {
	Quantity decimal.Decimal
}

// Size implements Sizer.
func (f Fixed) Size(_ core.Signal, _ decimal.Decimal, _ decimal.Decimal) (decimal.Decimal, error) {
	return f.Quantity, nil
}

// PercentOfEquity sizes the order as a fraction of portfolio equity
// converted to base-asset quantity at lastPrice.
type PercentOfEquity struct {
	// Percent is the fraction of equity to allocate per trade (e.g. 0.05
	// for 5%). Percent <= 0 yields a quantity of 0, not an error.
	Percent decimal.Decimal
}

// Size implements Sizer.
func (p PercentOfEquity) Size(_ core.Signal, portfolioEquity, lastPrice decimal.Decimal) (decimal.Decimal, error) {
	if lastPrice.Sign() <= 0 {
		return decimal.Decimal{}, &ZeroOrNegativePriceError{LastPrice: lastPrice}
	}
	if p.Percent.Sign() <= 0 {
		return decimal.Zero, nil
	}
	notional := money.Mul(portfolioEquity, p.Percent)
	return money.Div("order quantity", notional, lastPrice, money.DefaultMaxDivisionScale)
}

// DefaultVolatility is the placeholder instrument volatility used by
// RiskAdjusted when no Estimator is configured — swap in a real
// instrument-specific estimator in production.
var DefaultVolatility = decimal.RequireFromString("0.02")

// VolatilityEstimator returns an estimated volatility for a symbol. It must
// not suspend.
type VolatilityEstimator func(symbol core.Symbol) decimal.Decimal

// RiskAdjusted sizes the order so that, at the estimated volatility, the
// configured RiskFraction of equity is placed at risk.
type RiskAdjusted struct {
	// RiskFraction is the target fraction of equity placed at risk per
	// trade (e.g. 0.002 for 0.2%). RiskFraction <= 0 yields 0, not an error.
	RiskFraction decimal.Decimal
	// Estimator is pluggable; nil falls back to DefaultVolatility.
	Estimator VolatilityEstimator
}

// Size implements Sizer.
func (r RiskAdjusted) Size(signal core.Signal, portfolioEquity, lastPrice decimal.Decimal) (decimal.Decimal, error) {
	if lastPrice.Sign() <= 0 {
		return decimal.Decimal{}, &ZeroOrNegativePriceError{LastPrice: lastPrice}
	}
	if r.RiskFraction.Sign() <= 0 {
		return decimal.Zero, nil
	}

	volatility := DefaultVolatility
	if r.Estimator != nil {
		volatility = r.Estimator(signal.Symbol)
	}

	denom := money.Mul(lastPrice, volatility)
	if denom.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("volatility multiplier produced an invalid denominator (%s)", denom)
	}

	dollarsAtRisk := money.Mul(portfolioEquity, r.RiskFraction)
	return money.Div("risk-adjusted quantity", dollarsAtRisk, denom, money.DefaultMaxDivisionScale)
}
