package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertReserveSampleSQL = `INSERT INTO reserve_samples (
        bucket_ts,
        symbol,
        total_deposits,
        total_borrows,
        utilization,
        borrow_rate_pct,
        supply_rate_pct,
        liquidity_index,
        borrow_index,
        price_low,
        price_mid,
        price_high,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (bucket_ts, symbol) DO UPDATE
    SET
        total_deposits  = EXCLUDED.total_deposits,
        total_borrows   = EXCLUDED.total_borrows,
        utilization     = EXCLUDED.utilization,
        borrow_rate_pct = EXCLUDED.borrow_rate_pct,
        supply_rate_pct = EXCLUDED.supply_rate_pct,
        liquidity_index = EXCLUDED.liquidity_index,
        borrow_index    = EXCLUDED.borrow_index,
        price_low       = EXCLUDED.price_low,
        price_mid       = EXCLUDED.price_mid,
        price_high      = EXCLUDED.price_high,
        status          = EXCLUDED.status,
        error           = EXCLUDED.error;`

	listReserveSamplesBetweenSQL = `SELECT
        bucket_ts,
        symbol,
        total_deposits,
        total_borrows,
        utilization,
        borrow_rate_pct,
        supply_rate_pct,
        liquidity_index,
        borrow_index,
        price_low,
        price_mid,
        price_high,
        status,
        error,
        created_at
    FROM reserve_samples
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentReserveSamplesSQL = `SELECT
        bucket_ts,
        symbol,
        total_deposits,
        total_borrows,
        utilization,
        borrow_rate_pct,
        supply_rate_pct,
        liquidity_index,
        borrow_index,
        price_low,
        price_mid,
        price_high,
        status,
        error,
        created_at
    FROM reserve_samples
    WHERE symbol = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	countReserveSamplesSQL = `SELECT COUNT(*) FROM reserve_samples;`

	insertTxRecordSQL = `INSERT INTO tx_records (
        action,
        symbol,
        amount,
        tx_hash,
        phase,
        error_code
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, action, symbol, amount, tx_hash, phase, error_code, created_at;`

	listRecentTxRecordsSQL = `SELECT
        id,
        action,
        symbol,
        amount,
        tx_hash,
        phase,
        error_code,
        created_at
    FROM tx_records
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReserveSampleStore defines operations for reserve sample persistence.
type ReserveSampleStore interface {
	UpsertReserveSample(ctx context.Context, sample ReserveSample) error
	ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]ReserveSample, error)
	ListRecentSamples(ctx context.Context, symbol string, limit int) ([]ReserveSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// TxAuditStore defines operations for the transaction audit trail.
type TxAuditStore interface {
	InsertTxRecord(ctx context.Context, rec TxRecord) (TxRecord, error)
	ListRecentTxRecords(ctx context.Context, limit int) ([]TxRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to reserve samples and the transaction audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertReserveSample persists or updates a reserve sample.
func (s *Store) UpsertReserveSample(ctx context.Context, sample ReserveSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var low, mid, high interface{}
	if sample.PriceLow != nil {
		low = sample.PriceLow.String()
	}
	if sample.PriceMid != nil {
		mid = sample.PriceMid.String()
	}
	if sample.PriceHigh != nil {
		high = sample.PriceHigh.String()
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertReserveSampleSQL,
		sample.Bucket,
		sample.Symbol,
		sample.TotalDeposits.String(),
		sample.TotalBorrows.String(),
		sample.Utilization.String(),
		sample.BorrowRatePct.String(),
		sample.SupplyRatePct.String(),
		sample.LiquidityIndex.String(),
		sample.BorrowIndex.String(),
		low,
		mid,
		high,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert reserve sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one reserve's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]ReserveSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReserveSamplesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]ReserveSample, 0)
	for rows.Next() {
		sample, scanErr := scanReserveSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists a reserve's most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, symbol string, limit int) ([]ReserveSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReserveSamplesSQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]ReserveSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanReserveSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples across all reserves.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReserveSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertTxRecord appends an entry to the transaction audit trail.
func (s *Store) InsertTxRecord(ctx context.Context, rec TxRecord) (TxRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return TxRecord{}, err
	}

	var errCode interface{}
	if rec.ErrorCode != nil {
		errCode = *rec.ErrorCode
	}

	row := pool.QueryRow(ctx, insertTxRecordSQL,
		rec.Action,
		rec.Symbol,
		rec.Amount.String(),
		rec.TxHash,
		rec.Phase,
		errCode,
	)
	return scanTxRecord(row)
}

// ListRecentTxRecords lists the most recent audit entries.
func (s *Store) ListRecentTxRecords(ctx context.Context, limit int) ([]TxRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTxRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent tx records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]TxRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanTxRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanTxRecord(row pgx.Row) (TxRecord, error) {
	var (
		rec       TxRecord
		amountStr string
		errCode   sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Action,
		&rec.Symbol,
		&amountStr,
		&rec.TxHash,
		&rec.Phase,
		&errCode,
		&rec.CreatedAt,
	); err != nil {
		return TxRecord{}, fmt.Errorf("scan tx record: %w", err)
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return TxRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	rec.Amount = amount

	if errCode.Valid {
		code := errCode.String
		rec.ErrorCode = &code
	}
	return rec, nil
}

func scanReserveSample(rows pgx.Rows) (ReserveSample, error) {
	var (
		bucket       time.Time
		symbol       string
		depositsStr  string
		borrowsStr   string
		utilStr      string
		borrowStr    string
		supplyStr    string
		liqIndexStr  string
		borIndexStr  string
		lowStr       sql.NullString
		midStr       sql.NullString
		highStr      sql.NullString
		status       string
		errMsg       sql.NullString
		createdAt    time.Time
	)

	if err := rows.Scan(
		&bucket,
		&symbol,
		&depositsStr,
		&borrowsStr,
		&utilStr,
		&borrowStr,
		&supplyStr,
		&liqIndexStr,
		&borIndexStr,
		&lowStr,
		&midStr,
		&highStr,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return ReserveSample{}, err
	}

	sample := ReserveSample{
		Bucket:    bucket,
		Symbol:    symbol,
		Status:    status,
		CreatedAt: createdAt,
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
		name string
	}{
		{&sample.TotalDeposits, depositsStr, "total deposits"},
		{&sample.TotalBorrows, borrowsStr, "total borrows"},
		{&sample.Utilization, utilStr, "utilization"},
		{&sample.BorrowRatePct, borrowStr, "borrow rate pct"},
		{&sample.SupplyRatePct, supplyStr, "supply rate pct"},
		{&sample.LiquidityIndex, liqIndexStr, "liquidity index"},
		{&sample.BorrowIndex, borIndexStr, "borrow index"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.src)
		if err != nil {
			return ReserveSample{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}

	parseOptional := func(src sql.NullString, name string) (*decimal.Decimal, error) {
		if !src.Valid {
			return nil, nil
		}
		value, err := decimal.NewFromString(src.String)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return &value, nil
	}

	var err error
	if sample.PriceLow, err = parseOptional(lowStr, "price low"); err != nil {
		return ReserveSample{}, err
	}
	if sample.PriceMid, err = parseOptional(midStr, "price mid"); err != nil {
		return ReserveSample{}, err
	}
	if sample.PriceHigh, err = parseOptional(highStr, "price high"); err != nil {
		return ReserveSample{}, err
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}
