package lending

import "math/big"

// Fixed-point scales used by the settlement contracts. Indexes and rates are
// RAY (1e27); utilization and the kink point are WAD (1e18).
var (
	Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	SecondsPerYear = big.NewInt(31536000)
)

// rayMul returns a * b / RAY, truncating like the on-chain integer division.
func rayMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, Ray)
}

// rayDiv returns a * RAY / b.
func rayDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Ray)
	return out.Div(out, b)
}

// wadDiv returns a * WAD / b.
func wadDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Wad)
	return out.Div(out, b)
}

// orRay substitutes RAY for a zero or nil index. The contracts initialise
// indexes lazily, so a stored zero means "never accrued", not "no value".
func orRay(index *big.Int) *big.Int {
	if index == nil || index.Sign() == 0 {
		return new(big.Int).Set(Ray)
	}
	return index
}
