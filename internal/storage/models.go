package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReserveSample is one persisted per-reserve observation window: the
// accrued market state together with the oracle price bounds in effect.
type ReserveSample struct {
	Bucket         time.Time
	Symbol         string
	TotalDeposits  decimal.Decimal
	TotalBorrows   decimal.Decimal
	Utilization    decimal.Decimal
	BorrowRatePct  decimal.Decimal
	SupplyRatePct  decimal.Decimal
	LiquidityIndex decimal.Decimal
	BorrowIndex    decimal.Decimal
	PriceLow       *decimal.Decimal
	PriceMid       *decimal.Decimal
	PriceHigh      *decimal.Decimal
	Status         string
	Error          *string
	CreatedAt      time.Time
}

// TxRecord captures an orchestrated transaction for auditing.
type TxRecord struct {
	ID        int64
	Action    string
	Symbol    string
	Amount    decimal.Decimal
	TxHash    string
	Phase     string
	ErrorCode *string
	CreatedAt time.Time
}
