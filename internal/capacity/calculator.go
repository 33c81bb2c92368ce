package capacity

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

// ErrUnknownCapacity signals that capacity could not be computed because a
// required quote was missing or stale. Distinct from zero capacity: unknown
// disables borrow actions, it does not value them at nothing.
var ErrUnknownCapacity = errors.New("capacity: unknown")

// AssetView bundles one asset's extrapolated reserve, the user's position,
// and the resolved price band. HasBounds is false when the quote was missing
// or failed staleness.
type AssetView struct {
	Reserve   *lending.ReserveState
	Accrued   lending.Accrued
	Position  *lending.Position
	Bounds    oracle.Bounds
	HasBounds bool
}

// Result is the conservative account valuation. Values are integers at 1e18
// scale in the oracle's quote currency.
type Result struct {
	// CollateralValue sums deposits valued at each asset's low bound.
	CollateralValue *big.Int
	// DebtValue sums borrows valued at each asset's high bound.
	DebtValue *big.Int
	// MaxBorrowValue is collateral after the loan-to-value haircut.
	MaxBorrowValue *big.Int
	// AvailableToBorrow is MaxBorrowValue - DebtValue, floored at zero.
	AvailableToBorrow *big.Int
}

// Params carry the protocol risk parameters applied client-side.
type Params struct {
	// LoanToValueBps is the collateral haircut in basis points.
	LoanToValueBps int64
	// LiquidationThresholdBps feeds the health factor.
	LiquidationThresholdBps int64
}

var bps10000 = big.NewInt(10_000)

// Compute derives the account's borrow capacity from per-asset views.
// Collateral is valued at the low bound and debt at the high bound so price
// uncertainty always understates what can be borrowed. Any position with a
// non-zero balance and no usable bounds makes the whole result unknown.
func Compute(views []AssetView, params Params) (Result, error) {
	if params.LoanToValueBps <= 0 || params.LoanToValueBps > 10_000 {
		return Result{}, fmt.Errorf("capacity: loan-to-value %d bps out of range", params.LoanToValueBps)
	}

	collateral := new(big.Int)
	debt := new(big.Int)

	for _, v := range views {
		if v.Position == nil {
			continue
		}
		deposit := v.Accrued.DepositValue(v.Position)
		borrow := v.Accrued.BorrowValue(v.Position)
		if deposit.Sign() == 0 && borrow.Sign() == 0 {
			continue
		}
		if !v.HasBounds {
			return Result{}, fmt.Errorf("%w: no usable quote for %s", ErrUnknownCapacity, v.Reserve.Symbol)
		}

		if deposit.Sign() > 0 {
			collateral.Add(collateral, valueAt(deposit, v.Reserve.Decimals, v.Bounds.Low, v.Bounds.Exponent))
		}
		if borrow.Sign() > 0 {
			debt.Add(debt, valueAt(borrow, v.Reserve.Decimals, v.Bounds.High, v.Bounds.Exponent))
		}
	}

	maxBorrow := new(big.Int).Mul(collateral, big.NewInt(params.LoanToValueBps))
	maxBorrow.Div(maxBorrow, bps10000)

	available := new(big.Int).Sub(maxBorrow, debt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}

	return Result{
		CollateralValue:   collateral,
		DebtValue:         debt,
		MaxBorrowValue:    maxBorrow,
		AvailableToBorrow: available,
	}, nil
}

// HealthFactor returns collateral * liquidationThreshold / debt, and false
// when the account carries no debt (the factor is undefined, not infinite
// zero). Uses the same conservative bounds as Compute.
func (r Result) HealthFactor(params Params) (decimal.Decimal, bool) {
	if r.DebtValue == nil || r.DebtValue.Sign() == 0 {
		return decimal.Zero, false
	}
	weighted := new(big.Int).Mul(r.CollateralValue, big.NewInt(params.LiquidationThresholdBps))
	weighted.Div(weighted, bps10000)
	return decimal.NewFromBigInt(weighted, -18).
		Div(decimal.NewFromBigInt(r.DebtValue, -18)).
		Round(4), true
}

// MaxBorrowableUnits converts available value into base units of one asset,
// valued at its high bound so the figure stays conservative.
func (r Result) MaxBorrowableUnits(reserve *lending.ReserveState, bounds oracle.Bounds) *big.Int {
	if bounds.High == nil || bounds.High.Sign() == 0 {
		return new(big.Int)
	}
	// units = available / price = available * 10^decimals / (mantissa * 10^(18+expo))
	units := new(big.Int).Set(r.AvailableToBorrow)
	units = scaleByPow10(units, int(reserve.Decimals))
	denom := scaleByPow10(new(big.Int).Set(bounds.High), 18+int(bounds.Exponent))
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	return units.Div(units, denom)
}

// valueAt prices an amount in native base units into 1e18 value units:
// amount * mantissa * 10^(18 + exponent - decimals).
func valueAt(amount *big.Int, decimals int32, mantissa *big.Int, exponent int32) *big.Int {
	out := new(big.Int).Mul(amount, mantissa)
	return scaleByPow10(out, 18+int(exponent)-int(decimals))
}

// scaleByPow10 multiplies or divides by 10^|power|, truncating on divide.
func scaleByPow10(v *big.Int, power int) *big.Int {
	if power == 0 {
		return v
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(power))), nil)
	if power > 0 {
		return v.Mul(v, scale)
	}
	return v.Div(v, scale)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Value18 renders a 1e18-scale value integer as a decimal for display.
func Value18(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}
