package burn

import (
	"math"

	"github.com/shopspring/decimal"
)

// CentPlaces is the currency precision stored on events and totals.
const CentPlaces = 2

// Amount converts a float to a non-negative decimal rounded to cents.
// NaN, infinities and negatives become zero.
func Amount(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(CentPlaces)
}

// RoundCents rounds d to cents, flooring negatives at zero.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(CentPlaces)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
