package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ErrStalePrice marks a quote older than the acceptable staleness window.
// Callers must refetch; retrying capacity math with the same quote is unsafe.
var ErrStalePrice = errors.New("oracle: stale price")

// PriceQuote is one parsed oracle observation. Price and Confidence share the
// same power-of-ten Exponent (typically negative).
type PriceQuote struct {
	ID          string
	Price       int64
	Confidence  uint64
	Exponent    int32
	PublishTime int64
}

// Bounds are the conservative price band derived from a quote's confidence
// interval. Low, Mid, High are integer mantissas at Exponent scale, with
// Low floored at zero so Low <= Mid <= High always holds.
type Bounds struct {
	Low      *big.Int
	Mid      *big.Int
	High     *big.Int
	Exponent int32
}

// ResolveBounds turns a quote into its conservative band, or ErrStalePrice
// when publishTime is outside the maxAge window relative to now.
func ResolveBounds(q PriceQuote, now time.Time, maxAge time.Duration) (Bounds, error) {
	if q.Price <= 0 {
		return Bounds{}, fmt.Errorf("oracle: feed %s: non-positive price %d", q.ID, q.Price)
	}
	age := now.Unix() - q.PublishTime
	if age > int64(maxAge/time.Second) {
		return Bounds{}, fmt.Errorf("feed %s published %ds ago (max %s): %w",
			q.ID, age, maxAge, ErrStalePrice)
	}

	mid := big.NewInt(q.Price)
	conf := new(big.Int).SetUint64(q.Confidence)

	low := new(big.Int).Sub(mid, conf)
	if low.Sign() < 0 {
		low.SetInt64(0)
	}
	high := new(big.Int).Add(mid, conf)

	return Bounds{Low: low, Mid: mid, High: high, Exponent: q.Exponent}, nil
}

// LowValue renders the low bound as a decimal for display.
func (b Bounds) LowValue() decimal.Decimal {
	return decimal.NewFromBigInt(b.Low, b.Exponent)
}

// HighValue renders the high bound as a decimal for display.
func (b Bounds) HighValue() decimal.Decimal {
	return decimal.NewFromBigInt(b.High, b.Exponent)
}

// MidValue renders the mid price as a decimal for display.
func (q PriceQuote) MidValue() decimal.Decimal {
	return decimal.New(q.Price, q.Exponent)
}

// ConfidenceValue renders the confidence interval as a decimal for display.
func (q PriceQuote) ConfidenceValue() decimal.Decimal {
	return decimal.New(int64(q.Confidence), q.Exponent)
}
