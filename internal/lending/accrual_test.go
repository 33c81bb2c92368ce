package lending

import (
	"math/big"
	"testing"
	"time"
)

func rayPct(n int64) *big.Int {
	out := new(big.Int).Mul(Ray, big.NewInt(n))
	return out.Div(out, big.NewInt(100))
}

func wadPct(n int64) *big.Int {
	out := new(big.Int).Mul(Wad, big.NewInt(n))
	return out.Div(out, big.NewInt(100))
}

func testReserve(t *testing.T) *ReserveState {
	t.Helper()
	r := &ReserveState{
		Symbol:              "USDC",
		Decimals:            6,
		IsActive:            true,
		LiquidityIndex:      new(big.Int).Set(Ray),
		BorrowIndex:         new(big.Int).Set(Ray),
		LastUpdateTimestamp: 1_700_000_000,
		TotalScaledSupply:   big.NewInt(1_000_000_000_000), // 1M USDC
		TotalBorrowsScaled:  big.NewInt(400_000_000_000),   // 400k USDC
		BaseRate:            rayPct(1),
		Slope1:              rayPct(4),
		Slope2:              rayPct(75),
		Kink:                wadPct(80),
		ReserveFactor:       rayPct(10),
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("test reserve invalid: %v", err)
	}
	return r
}

func TestExtrapolateZeroElapsed(t *testing.T) {
	r := testReserve(t)
	now := time.Unix(r.LastUpdateTimestamp, 0)

	acc := Extrapolate(r, now)
	if acc.LiquidityIndex.Cmp(r.LiquidityIndex) != 0 {
		t.Fatalf("liquidity index changed with zero elapsed: %s", acc.LiquidityIndex)
	}
	if acc.BorrowIndex.Cmp(r.BorrowIndex) != 0 {
		t.Fatalf("borrow index changed with zero elapsed: %s", acc.BorrowIndex)
	}
}

func TestExtrapolateDoesNotMutateSnapshot(t *testing.T) {
	r := testReserve(t)
	wantLiquidity := new(big.Int).Set(r.LiquidityIndex)
	wantBorrow := new(big.Int).Set(r.BorrowIndex)

	Extrapolate(r, time.Unix(r.LastUpdateTimestamp+86400, 0))

	if r.LiquidityIndex.Cmp(wantLiquidity) != 0 || r.BorrowIndex.Cmp(wantBorrow) != 0 {
		t.Fatal("snapshot indexes mutated by extrapolation")
	}
}

func TestExtrapolateMonotonicInTime(t *testing.T) {
	r := testReserve(t)
	prevLiquidity := new(big.Int).Set(Ray)
	prevBorrow := new(big.Int).Set(Ray)

	for _, elapsed := range []int64{0, 1, 60, 3600, 86400, 31536000} {
		acc := Extrapolate(r, time.Unix(r.LastUpdateTimestamp+elapsed, 0))
		if acc.LiquidityIndex.Cmp(prevLiquidity) < 0 {
			t.Fatalf("liquidity index decreased at elapsed=%d", elapsed)
		}
		if acc.BorrowIndex.Cmp(prevBorrow) < 0 {
			t.Fatalf("borrow index decreased at elapsed=%d", elapsed)
		}
		prevLiquidity = acc.LiquidityIndex
		prevBorrow = acc.BorrowIndex
	}
}

func TestExtrapolateIdempotent(t *testing.T) {
	r := testReserve(t)
	now := time.Unix(r.LastUpdateTimestamp+7200, 0)

	first := Extrapolate(r, now)
	second := Extrapolate(r, now)

	if first.LiquidityIndex.Cmp(second.LiquidityIndex) != 0 ||
		first.BorrowIndex.Cmp(second.BorrowIndex) != 0 ||
		first.Utilization.Cmp(second.Utilization) != 0 {
		t.Fatal("recomputation with identical inputs diverged")
	}
}

func TestEmptyReserveStaysAtBaseRate(t *testing.T) {
	r := testReserve(t)
	r.TotalScaledSupply = big.NewInt(0)
	r.TotalBorrowsScaled = big.NewInt(0)

	acc := Extrapolate(r, time.Unix(r.LastUpdateTimestamp+31536000, 0))

	if acc.Utilization.Sign() != 0 {
		t.Fatalf("empty reserve utilization = %s, want 0", acc.Utilization)
	}
	if acc.BorrowRate.Cmp(r.BaseRate) != 0 {
		t.Fatalf("borrow rate %s, want base rate %s", acc.BorrowRate, r.BaseRate)
	}
	if acc.LiquidityIndex.Cmp(Ray) != 0 {
		t.Fatalf("liquidity index moved with no deposits: %s", acc.LiquidityIndex)
	}
}

func TestZeroBorrowIndexReadsAsOneRay(t *testing.T) {
	r := testReserve(t)
	r.BorrowIndex = big.NewInt(0)

	acc := Extrapolate(r, time.Unix(r.LastUpdateTimestamp, 0))
	if acc.BorrowIndex.Cmp(Ray) != 0 {
		t.Fatalf("uninitialised borrow index = %s, want 1 RAY", acc.BorrowIndex)
	}

	// Debt valued against the lazily initialised index must not read as zero.
	p := &Position{Symbol: "USDC", DepositScaled: big.NewInt(0), BorrowScaled: big.NewInt(5_000_000)}
	if acc.BorrowValue(p).Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("borrow value = %s, want 5000000", acc.BorrowValue(p))
	}
}

func TestOneYearAccrualMatchesSimpleInterest(t *testing.T) {
	r := testReserve(t)
	oneYear := time.Unix(r.LastUpdateTimestamp+31536000, 0)

	acc := Extrapolate(r, oneYear)

	// Utilization 40% is below the 80% kink: rate = 1% + 4% * 40/80 = 3%.
	wantRate := rayPct(3)
	if acc.BorrowRate.Cmp(wantRate) != 0 {
		t.Fatalf("borrow rate = %s, want %s", acc.BorrowRate, wantRate)
	}

	// newIndex ≈ oldIndex * 1.03 after one year, within integer rounding.
	want := new(big.Int).Mul(Ray, big.NewInt(103))
	want.Div(want, big.NewInt(100))
	diff := new(big.Int).Sub(acc.BorrowIndex, want)
	if diff.CmpAbs(big.NewInt(1_000)) > 0 {
		t.Fatalf("borrow index after one year = %s, want ~%s", acc.BorrowIndex, want)
	}
}

func TestBorrowRateAboveKink(t *testing.T) {
	r := testReserve(t)

	atKink := BorrowRate(r, wadPct(80))
	above := BorrowRate(r, wadPct(90))
	full := BorrowRate(r, wadPct(100))

	// base + slope1 at the kink.
	wantKink := new(big.Int).Add(rayPct(1), rayPct(4))
	if atKink.Cmp(wantKink) != 0 {
		t.Fatalf("rate at kink = %s, want %s", atKink, wantKink)
	}
	if above.Cmp(atKink) <= 0 {
		t.Fatal("rate above kink should exceed rate at kink")
	}
	// base + slope1 + slope2 at full utilization.
	wantFull := new(big.Int).Add(wantKink, rayPct(75))
	if full.Cmp(wantFull) != 0 {
		t.Fatalf("rate at 100%% = %s, want %s", full, wantFull)
	}
}

func TestSupplyRateTakesReserveFactorCut(t *testing.T) {
	r := testReserve(t)
	borrowRate := rayPct(10)

	got := SupplyRate(r, borrowRate)
	want := rayPct(9) // 10% less a 10% reserve factor
	if got.Cmp(want) != 0 {
		t.Fatalf("supply rate = %s, want %s", got, want)
	}
}

func TestUtilizationCappedAtOne(t *testing.T) {
	u := Utilization(big.NewInt(0), big.NewInt(100))
	if u.Cmp(Wad) != 0 {
		t.Fatalf("all-borrowed utilization = %s, want 1e18", u)
	}
}

func TestValidateRejectsMalformedReserve(t *testing.T) {
	r := testReserve(t)
	r.Kink = new(big.Int).Set(Wad)
	if err := r.Validate(); err == nil {
		t.Fatal("kink at 1e18 should be rejected")
	}

	r = testReserve(t)
	r.TotalScaledSupply = nil
	if err := r.Validate(); err == nil {
		t.Fatal("missing scaled supply should be rejected")
	}

	r = testReserve(t)
	r.BaseRate = big.NewInt(-1)
	if err := r.Validate(); err == nil {
		t.Fatal("negative base rate should be rejected")
	}
}
