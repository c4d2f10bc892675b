// Package util provides common utility functions for price calculations.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Round2 rounds a dollar amount to cents using decimal arithmetic so that
// amounts sitting on a binary-float boundary still round the way a ledger
// would.
func Round2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}

// OptionTick returns the quoting increment for an option price:
// $0.05 below $3.00 and $0.10 at or above.
func OptionTick(price float64) float64 {
	if math.Abs(price) < 3.0 {
		return 0.05
	}
	return 0.10
}

// RoundOptionPrice rounds an option price to its exchange tick.
func RoundOptionPrice(price float64) float64 {
	return Round2(RoundToTick(price, OptionTick(price)))
}
