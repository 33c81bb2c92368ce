package lending

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FromBaseUnits converts an integer amount in the asset's native base units
// into a human-readable decimal.
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ToBaseUnits converts a human-readable decimal into native base units,
// truncating sub-unit dust the same way the contracts would.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// RatePct renders a RAY-scaled annual rate as a percentage for display.
func RatePct(rate *big.Int) decimal.Decimal {
	if rate == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(rate, -27).Mul(decimal.NewFromInt(100))
}

// UtilizationPct renders a WAD-scaled fraction as a percentage for display.
func UtilizationPct(u *big.Int) decimal.Decimal {
	if u == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(u, -18).Mul(decimal.NewFromInt(100))
}
