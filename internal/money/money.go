// Package money provides exact decimal helpers shared by the FX gateway and
// the holdings calculator. Money-like values are always decimal.Decimal,
// never float64.
package money

import "github.com/shopspring/decimal"

// Round applies half-away-from-zero rounding to the given
// number of decimal places. Used for display-oriented fields; internal
// accumulation (lot quantities, cost bases) is never rounded mid-calculation.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Convert multiplies an amount in the "from" currency by a from->to rate,
// returning the equivalent amount in the "to" currency. A rate of exactly 1
// (same currency) is a no-op copy.
func Convert(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if rate.Equal(decimal.NewFromInt(1)) {
		return amount
	}
	return amount.Mul(rate)
}

// Sum adds a slice of decimals, returning decimal.Zero for an empty slice.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
