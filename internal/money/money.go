// Package money is the decimal arithmetic substrate for the margin engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Internal computation keeps full precision; rounding happens only at
// display and persistence boundaries.
package money

import (
	"github.com/shopspring/decimal"
)

// CashPrecision is the number of decimal places carried by the quote
// currency (DAI) at display/persistence boundaries.
const CashPrecision int32 = 2

func init() {
	// Offer walking and ratio math divide repeatedly; the shopspring
	// default of 16 digits is too coarse for consensus-relevant amounts.
	if decimal.DivisionPrecision < 32 {
		decimal.DivisionPrecision = 32
	}
}

// Unit returns the smallest representable amount at the given precision,
// i.e. 10^-precision.
func Unit(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}

// Ratio is the result of a division that may be undefined (divisor zero).
// A collateralization ratio with zero debt is undefined, and callers must
// treat an undefined ratio as "infinitely safe" — never as zero or NaN.
type Ratio struct {
	value   decimal.Decimal
	defined bool
}

// NewRatio divides num by den. A zero denominator yields an undefined
// ratio rather than an error.
func NewRatio(num, den decimal.Decimal) Ratio {
	if den.IsZero() {
		return Ratio{}
	}
	return Ratio{value: num.Div(den), defined: true}
}

// DefinedRatio wraps an already-computed value.
func DefinedRatio(v decimal.Decimal) Ratio {
	return Ratio{value: v, defined: true}
}

// Defined reports whether the ratio has a value.
func (r Ratio) Defined() bool { return r.defined }

// Value returns the ratio's value. Calling Value on an undefined ratio is
// a programming defect and panics; check Defined first.
func (r Ratio) Value() decimal.Decimal {
	if !r.defined {
		panic("money: Value called on undefined ratio")
	}
	return r.value
}

// AtLeast reports whether the ratio is defined and >= threshold.
// Undefined ratios return false; callers that want "undefined counts as
// safe" must check Defined themselves.
func (r Ratio) AtLeast(threshold decimal.Decimal) bool {
	return r.defined && r.value.GreaterThanOrEqual(threshold)
}

// LessThan reports whether the ratio is defined and < threshold.
// An undefined ratio is never less than anything.
func (r Ratio) LessThan(threshold decimal.Decimal) bool {
	return r.defined && r.value.LessThan(threshold)
}

// String renders the ratio for logs; undefined ratios render as "∅".
func (r Ratio) String() string {
	if !r.defined {
		return "∅"
	}
	return r.value.String()
}
