package shared

import "github.com/shopspring/decimal"

// Cent is the currency rounding tolerance used when comparing balances.
var Cent = decimal.New(1, -2)

// Hundred is used for percentage conversions.
var Hundred = decimal.NewFromInt(100)

// Round2 rounds a monetary amount to two decimals, half away from zero.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Percent converts a percentage (e.g. 0.5) into its fraction (0.005).
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(Hundred)
}

// WithinCent reports whether two amounts differ by less than one cent.
func WithinCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Cent)
}
