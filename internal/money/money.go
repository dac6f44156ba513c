// Package money implements the fixed-precision decimal arithmetic that every
// money path in the execution core must use. Conversions between binary
// floats and decimal.Decimal are explicit and fallible — nothing in this
// package silently clamps a non-finite or unrepresentable value.
//
// Grounded on tesser-execution/src/lib.rs's decimal_from_f64 /
// quantity_from_decimal helpers, translated from rust_decimal to
// shopspring/decimal.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultMaxDivisionScale bounds the precision loss division is allowed to
// introduce when the exact quotient is not representable.
const DefaultMaxDivisionScale int32 = 18

// NonFiniteValueError is returned when a float conversion is attempted on
// NaN or +/-Inf.
type NonFiniteValueError struct {
	Label string
	Value float64
}

func (e *NonFiniteValueError) Error() string {
	return fmt.Sprintf("%s must be finite (got %v)", e.Label, e.Value)
}

// ConversionError is returned when a value cannot be faithfully represented
// in the target numeric form.
type ConversionError struct {
	Label string
	Value any
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert %s (%v)", e.Label, e.Value)
}

// DivisionByZeroError is returned by Div when the denominator is exactly
// zero.
type DivisionByZeroError struct {
	Label string
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("%s produced a zero denominator", e.Label)
}

// FromFloat64 converts a float64 into a Decimal, rejecting non-finite input.
// shopspring/decimal's NewFromFloat is total over finite float64s, so the
// only failure mode here is the finiteness check — kept as its own function
// so the error is always attributable to a specific label.
func FromFloat64(label string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Decimal{}, &NonFiniteValueError{Label: label, Value: v}
	}
	return decimal.NewFromFloat(v), nil
}

// ToFloat64 converts a Decimal back to float64, rejecting values that would
// round to +/-Inf (out of float64 range) since that can no longer be called
// a faithful conversion.
func ToFloat64(label string, d decimal.Decimal) (float64, error) {
	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return 0, &ConversionError{Label: label, Value: d.String()}
	}
	return f, nil
}

// Add returns a + b. Addition and subtraction are always exact for
// arbitrary-precision decimals, so these never fail.
func Add(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }

// Sub returns a - b.
func Sub(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }

// Mul returns a * b. Multiplication of two exact decimals is always exact
// at the resulting representation (shopspring/decimal widens scale as
// needed), satisfying the "price * quantity must be exact" requirement.
func Mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// Abs returns the absolute value of d.
func Abs(d decimal.Decimal) decimal.Decimal { return d.Abs() }

// IsZero reports whether d is exactly zero. Comparisons with zero in this
// package are always exact — never epsilon-based.
func IsZero(d decimal.Decimal) bool { return d.IsZero() }

// Div divides a by b, bounding the result to maxScale decimal places when
// the exact quotient is not representable. Pass DefaultMaxDivisionScale
// when the caller has no stronger requirement. Division is the one
// operation in this package permitted to lose precision; callers that need
// an exact quotient should verify it themselves.
func Div(label string, a, b decimal.Decimal, maxScale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Decimal{}, &DivisionByZeroError{Label: label}
	}
	return a.DivRound(b, maxScale), nil
}

// RoundToScale rounds d to the given number of decimal places using
// round-half-up, the conventional rounding mode for money amounts.
func RoundToScale(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// Normalize rewrites d to its most compact exact representation (no
// insignificant trailing zeros in the coefficient), without changing its
// value. Used before formatting a decimal for the plugin boundary (spec
// §4.6: decimals cross as their exact string representation).
func Normalize(d decimal.Decimal) decimal.Decimal {
	return decimal.RequireFromString(d.String())
}

// Compare returns -1, 0, or 1 as d1 is less than, equal to, or greater than
// d2 — exact, never epsilon-based.
func Compare(d1, d2 decimal.Decimal) int {
	return d1.Cmp(d2)
}
