package lending

import (
	"math/big"
	"time"
)

// Accrued carries the extrapolated view of a reserve at a given instant.
// All fields are freshly allocated; the source snapshot is never mutated.
type Accrued struct {
	At time.Time

	LiquidityIndex *big.Int // RAY
	BorrowIndex    *big.Int // RAY

	TotalDeposits *big.Int // native base units
	TotalBorrows  *big.Int // native base units

	Utilization *big.Int // WAD fraction
	BorrowRate  *big.Int // RAY annual
	SupplyRate  *big.Int // RAY annual
}

// Utilization computes borrows / (deposits + borrows) as a WAD fraction.
// A zero denominator reads as zero utilization: no deposits, no rate pressure.
func Utilization(totalDeposits, totalBorrows *big.Int) *big.Int {
	denom := new(big.Int).Add(totalDeposits, totalBorrows)
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	u := wadDiv(totalBorrows, denom)
	if u.Cmp(Wad) > 0 {
		return new(big.Int).Set(Wad)
	}
	return u
}

// BorrowRate evaluates the two-segment kink curve at utilization u (WAD).
// Below the kink: base + slope1 * u/kink. Above it the steeper second slope
// applies to the excess, modelling a liquidity crunch penalty.
func BorrowRate(r *ReserveState, u *big.Int) *big.Int {
	rate := new(big.Int).Set(r.BaseRate)
	if r.Kink.Sign() == 0 {
		// Degenerate curve: the second slope applies from zero utilization.
		excess := new(big.Int).Mul(r.Slope2, u)
		excess.Div(excess, Wad)
		return rate.Add(rate, excess)
	}
	if u.Cmp(r.Kink) <= 0 {
		portion := new(big.Int).Mul(r.Slope1, u)
		portion.Div(portion, r.Kink)
		return rate.Add(rate, portion)
	}
	rate.Add(rate, r.Slope1)
	over := new(big.Int).Sub(u, r.Kink)
	span := new(big.Int).Sub(Wad, r.Kink)
	excess := new(big.Int).Mul(r.Slope2, over)
	excess.Div(excess, span)
	return rate.Add(rate, excess)
}

// SupplyRate is the borrow rate net of the protocol's reserve factor cut.
func SupplyRate(r *ReserveState, borrowRate *big.Int) *big.Int {
	kept := new(big.Int).Sub(Ray, r.ReserveFactor)
	return rayMul(borrowRate, kept)
}

// extrapolateIndex advances a RAY index by rate over elapsed seconds using
// simple interest: newIndex = index * (RAY + rate*Δ/year) / RAY. Compounding
// emerges from repeated settlement updates, not from a single extrapolation.
func extrapolateIndex(index, rate *big.Int, elapsed int64) *big.Int {
	base := orRay(index)
	if elapsed <= 0 || rate.Sign() == 0 {
		return new(big.Int).Set(base)
	}
	accrued := new(big.Int).Mul(rate, big.NewInt(elapsed))
	accrued.Div(accrued, SecondsPerYear)
	factor := new(big.Int).Add(Ray, accrued)
	return rayMul(base, factor)
}

// Extrapolate projects a reserve snapshot forward to now. Utilization and
// rates are evaluated on the stored state, matching how the settlement layer
// accrues: the rate in force since lastUpdateTimestamp is the one derived
// from the balances recorded then.
func Extrapolate(r *ReserveState, now time.Time) Accrued {
	storedLiquidity := orRay(r.LiquidityIndex)
	storedBorrow := orRay(r.BorrowIndex)

	depositsThen := rayMul(r.TotalScaledSupply, storedLiquidity)
	borrowsThen := rayMul(r.TotalBorrowsScaled, storedBorrow)

	u := Utilization(depositsThen, borrowsThen)
	borrowRate := BorrowRate(r, u)
	supplyRate := SupplyRate(r, borrowRate)

	elapsed := now.Unix() - r.LastUpdateTimestamp

	liquidityIndex := new(big.Int).Set(storedLiquidity)
	if depositsThen.Sign() > 0 {
		// Nothing is earning when the reserve holds no deposits.
		liquidityIndex = extrapolateIndex(storedLiquidity, supplyRate, elapsed)
	}
	borrowIndex := extrapolateIndex(storedBorrow, borrowRate, elapsed)

	return Accrued{
		At:             now,
		LiquidityIndex: liquidityIndex,
		BorrowIndex:    borrowIndex,
		TotalDeposits:  rayMul(r.TotalScaledSupply, liquidityIndex),
		TotalBorrows:   rayMul(r.TotalBorrowsScaled, borrowIndex),
		Utilization:    u,
		BorrowRate:     borrowRate,
		SupplyRate:     supplyRate,
	}
}

// DepositValue converts a position's scaled deposit into live base units.
func (a Accrued) DepositValue(p *Position) *big.Int {
	return rayMul(p.DepositScaled, a.LiquidityIndex)
}

// BorrowValue converts a position's scaled debt into live owed base units.
func (a Accrued) BorrowValue(p *Position) *big.Int {
	return rayMul(p.BorrowScaled, a.BorrowIndex)
}
