package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReserveState is a read-only snapshot of one asset's reserve as returned by
// the DepositManager. It goes stale the moment it is fetched; callers obtain
// live values by extrapolating, never by mutating the snapshot.
type ReserveState struct {
	Symbol       string
	TokenID      common.Hash
	TokenAddress common.Address
	Decimals     int32
	IsActive     bool

	// Indexes are RAY-scaled cumulative multipliers. A stored zero means the
	// reserve was never accrued and reads as exactly 1 RAY.
	LiquidityIndex      *big.Int
	BorrowIndex         *big.Int
	LastUpdateTimestamp int64

	TotalScaledSupply  *big.Int
	TotalBorrowsScaled *big.Int

	// Interest model parameters. BaseRate, Slope1, Slope2 are RAY-scaled
	// annual rates; Kink is WAD-scaled utilization; ReserveFactor is
	// RAY-scaled.
	BaseRate      *big.Int
	Slope1        *big.Int
	Slope2        *big.Int
	Kink          *big.Int
	ReserveFactor *big.Int

	// RequiresOracle marks assets whose borrow/repay writes must carry a
	// fresh price update.
	RequiresOracle bool
}

// Position holds one user's index-scaled balances for a single asset.
// Live value = scaled * currentIndex / RAY; raw balances are never stored.
type Position struct {
	TokenID       common.Hash
	Symbol        string
	DepositScaled *big.Int
	BorrowScaled  *big.Int
}

// IsNative reports whether the asset is the chain's native coin, which has no
// allowance/approve step.
func (r *ReserveState) IsNative() bool {
	return r.TokenAddress == (common.Address{})
}

// Validate rejects malformed snapshots at the parse boundary so downstream
// math never sees negative or missing fields.
func (r *ReserveState) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("reserve %s: missing symbol", r.TokenID.Hex())
	}
	if r.Decimals < 0 || r.Decimals > 30 {
		return fmt.Errorf("reserve %s: implausible decimals %d", r.Symbol, r.Decimals)
	}
	for name, v := range map[string]*big.Int{
		"liquidityIndex":     r.LiquidityIndex,
		"borrowIndex":        r.BorrowIndex,
		"totalScaledSupply":  r.TotalScaledSupply,
		"totalBorrowsScaled": r.TotalBorrowsScaled,
		"baseRate":           r.BaseRate,
		"slope1":             r.Slope1,
		"slope2":             r.Slope2,
		"kink":               r.Kink,
		"reserveFactor":      r.ReserveFactor,
	} {
		if v == nil {
			return fmt.Errorf("reserve %s: missing %s", r.Symbol, name)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("reserve %s: negative %s", r.Symbol, name)
		}
	}
	if r.Kink.Cmp(Wad) >= 0 {
		return fmt.Errorf("reserve %s: kink must be below 1e18", r.Symbol)
	}
	if r.ReserveFactor.Cmp(Ray) > 0 {
		return fmt.Errorf("reserve %s: reserve factor above 1 RAY", r.Symbol)
	}
	if r.LastUpdateTimestamp < 0 {
		return fmt.Errorf("reserve %s: negative last update timestamp", r.Symbol)
	}
	return nil
}

// Validate rejects malformed position rows.
func (p *Position) Validate() error {
	if p.DepositScaled == nil || p.BorrowScaled == nil {
		return fmt.Errorf("position %s: missing scaled balance", p.Symbol)
	}
	if p.DepositScaled.Sign() < 0 || p.BorrowScaled.Sign() < 0 {
		return fmt.Errorf("position %s: negative scaled balance", p.Symbol)
	}
	return nil
}
