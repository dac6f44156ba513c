package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tesserun/internal/core"
)

func TestNoopCheckerAlwaysPasses(t *testing.T) {
	t.Parallel()

	req := core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(1000000)}
	if err := (NoopChecker{}).Check(req, core.RiskContext{}); err != nil {
		t.Errorf("NoopChecker.Check = %v, want nil", err)
	}
}

func TestBasicCheckerMaxOrderSize(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{
		MaxOrderQuantity:    decimal.NewFromFloat(1.0),
		MaxPositionQuantity: decimal.Zero,
	})
	req := core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromFloat(2.0)}
	err := c.Check(req, core.RiskContext{})

	var mos *MaxOrderSizeError
	if !errors.As(err, &mos) {
		t.Fatalf("error = %v, want MaxOrderSizeError", err)
	}
	if mos.Quantity != "2" || mos.Limit != "1" {
		t.Errorf("got quantity=%s limit=%s", mos.Quantity, mos.Limit)
	}
}

func TestBasicCheckerMaxPositionExposure(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{
		MaxOrderQuantity:    decimal.Zero,
		MaxPositionQuantity: decimal.NewFromInt(5),
	})
	req := core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(3)}
	ctx := core.RiskContext{SignedPositionQty: decimal.NewFromInt(4)}
	err := c.Check(req, ctx)

	var mpe *MaxPositionExposureError
	if !errors.As(err, &mpe) {
		t.Fatalf("error = %v, want MaxPositionExposureError", err)
	}
}

func TestBasicCheckerOrderSizeWinsOverPosition(t *testing.T) {
	t.Parallel()

	// Both limits would be breached; order-size check must win (tie-break).
	c := NewBasicChecker(core.RiskLimits{
		MaxOrderQuantity:    decimal.NewFromInt(1),
		MaxPositionQuantity: decimal.NewFromInt(1),
	})
	req := core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(10)}
	err := c.Check(req, core.RiskContext{})

	var mos *MaxOrderSizeError
	if !errors.As(err, &mos) {
		t.Fatalf("error = %v, want MaxOrderSizeError (tie-break should prefer it)", err)
	}
}

func TestBasicCheckerLiquidateOnlyReduceAllowed(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{})
	ctx := core.RiskContext{SignedPositionQty: decimal.NewFromInt(5), LiquidateOnly: true}

	// Sell 3 reduces a +5 position: allowed.
	err := c.Check(core.OrderRequest{Side: core.Sell, Quantity: decimal.NewFromInt(3)}, ctx)
	if err != nil {
		t.Errorf("sell 3 against +5 position = %v, want nil", err)
	}
}

func TestBasicCheckerLiquidateOnlyFlipRejected(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{})
	ctx := core.RiskContext{SignedPositionQty: decimal.NewFromInt(5), LiquidateOnly: true}

	// Sell 6 would flip a +5 position to -1: rejected.
	err := c.Check(core.OrderRequest{Side: core.Sell, Quantity: decimal.NewFromInt(6)}, ctx)
	var loe *LiquidateOnlyError
	if !errors.As(err, &loe) {
		t.Fatalf("sell 6 against +5 position error = %v, want LiquidateOnlyError", err)
	}
}

func TestBasicCheckerLiquidateOnlyWrongDirectionRejected(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{})
	ctx := core.RiskContext{SignedPositionQty: decimal.NewFromInt(5), LiquidateOnly: true}

	// Buy 1 on a long position increases exposure: rejected.
	err := c.Check(core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(1)}, ctx)
	var loe *LiquidateOnlyError
	if !errors.As(err, &loe) {
		t.Fatalf("buy 1 against +5 position error = %v, want LiquidateOnlyError", err)
	}
}

func TestBasicCheckerLiquidateOnlyZeroPositionRejected(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{})
	ctx := core.RiskContext{SignedPositionQty: decimal.Zero, LiquidateOnly: true}

	err := c.Check(core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(1)}, ctx)
	var loe *LiquidateOnlyError
	if !errors.As(err, &loe) {
		t.Fatalf("error = %v, want LiquidateOnlyError", err)
	}
}

func TestBasicCheckerSanitizesNegativeLimitsToDisabled(t *testing.T) {
	t.Parallel()

	c := NewBasicChecker(core.RiskLimits{
		MaxOrderQuantity: decimal.NewFromInt(-10),
	})
	// Disabled (clamped to 0) means any quantity passes the order-size check.
	err := c.Check(core.OrderRequest{Side: core.Buy, Quantity: decimal.NewFromInt(1000)}, core.RiskContext{})
	if err != nil {
		t.Errorf("Check = %v, want nil (limit sanitized to disabled)", err)
	}
}
