// Package money converts between decimal major-unit prices and integer minor units
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units in one major currency unit.
const MinorPerMajor = 100

var hundred = decimal.NewFromInt(MinorPerMajor)

// ToMinor converts a major-unit amount into minor units using HALF-UP rounding.
// Negative amounts are clamped to zero.
func ToMinor(major decimal.Decimal) int64 {
	if major.IsNegative() {
		return 0
	}
	return major.Mul(hundred).Round(0).IntPart()
}

// LineTotal returns round_half_up(unit * qty) in minor units. Non-positive
// quantities yield zero.
func LineTotal(unit decimal.Decimal, qty int) int64 {
	if qty <= 0 || unit.IsNegative() {
		return 0
	}
	return unit.Mul(decimal.NewFromInt(int64(qty))).Mul(hundred).Round(0).IntPart()
}

// ApplyRate returns round_half_up(amount * bps / 10000).
func ApplyRate(amount int64, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000)).Round(0).IntPart()
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatMinor renders minor units as "$12.34".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, minor/MinorPerMajor, minor%MinorPerMajor)
}
