// Package money holds the decimal helpers shared by the valuation engine.
// All prices, share counts, amounts and rates are shopspring/decimal values;
// float64 only appears at the edges (metrics gauges, test tolerances).
//
// Rates are fractions: 0.05 means +5%.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// One is the decimal constant 1.
	One = decimal.NewFromInt(1)

	// Hundred converts between fractional rates and percentages.
	Hundred = decimal.NewFromInt(100)

	// AmountScale is the number of decimal places used when rounding
	// currency amounts for display.
	AmountScale int32 = 2
)

// DivOrZero returns n / d, or zero when d is zero. Consumers of the engine
// never have to guard a division.
func DivOrZero(n, d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return n.Div(d)
}

// RatioIfPositive returns n / d when d > 0, otherwise zero. Used for rates
// whose denominator is a value that cannot meaningfully be negative.
func RatioIfPositive(n, d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}
	return n.Div(d)
}

// FromPercent converts a percentage (1.25) to a fractional rate (0.0125).
func FromPercent(p decimal.Decimal) decimal.Decimal {
	return p.Div(Hundred)
}

// RoundAmount rounds a currency amount half away from zero to AmountScale.
func RoundAmount(a decimal.Decimal) decimal.Decimal {
	return a.Round(AmountScale)
}

// FormatRate renders a fractional rate as a signed percentage, e.g. "+8.33%".
func FormatRate(r decimal.Decimal) string {
	p := r.Mul(Hundred).Round(2)
	if p.IsPositive() {
		return "+" + p.StringFixed(2) + "%"
	}
	return p.StringFixed(2) + "%"
}

// ParseNonNegative parses s as a decimal and rejects negative values.
// The field name is used in the error message.
func ParseNonNegative(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative, got %s", field, s)
	}
	return v, nil
}
