// Package service runs the market monitor: on each scheduler tick it reads
// every supported reserve, extrapolates its accrual to the bucket time,
// resolves oracle price bounds, and persists one sample per reserve.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Halyard-Systems/halyard-finance/internal/config"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
	"github.com/Halyard-Systems/halyard-finance/internal/scheduler"
	"github.com/Halyard-Systems/halyard-finance/internal/storage"
)

// ChainReader is the read-only slice of the chain gateway the monitor uses.
type ChainReader interface {
	SupportedTokens(ctx context.Context) ([]common.Hash, error)
	Reserve(ctx context.Context, tokenID common.Hash) (*lending.ReserveState, error)
}

// Service owns the aligned sampling loop.
type Service struct {
	scheduler *scheduler.Scheduler
	chain     ChainReader
	oracle    oracle.Source
	store     storage.ReserveSampleStore
	logger    zerolog.Logger

	feeds   map[string]string
	maxAge  time.Duration
	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, chain ChainReader, source oracle.Source, store storage.ReserveSampleStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		chain:     chain,
		oracle:    source,
		store:     store,
		logger:    logger.With().Str("component", "service").Logger(),
		feeds:     cfg.Oracle.Feeds,
		maxAge:    cfg.Oracle.MaxAge,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket samples every supported reserve for one time bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	tokens, err := s.chain.SupportedTokens(ctx)
	if err != nil {
		return fmt.Errorf("list supported tokens: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no supported tokens on chain")
	}

	quotes := s.fetchQuotes(ctx, bucket)

	var firstErr error
	for _, tokenID := range tokens {
		if err := s.sampleReserve(ctx, bucket, tokenID, quotes); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Str("token", tokenID.Hex()).Msg("reserve sample failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fetchQuotes pulls the latest oracle quotes for every configured feed in
// one request. A failed fetch degrades the bucket to samples without price
// bounds rather than losing the accrual data.
func (s *Service) fetchQuotes(ctx context.Context, bucket time.Time) map[string]oracle.PriceQuote {
	if s.oracle == nil || len(s.feeds) == 0 {
		return nil
	}

	feedIDs := make([]string, 0, len(s.feeds))
	for _, id := range s.feeds {
		feedIDs = append(feedIDs, id)
	}

	updates, err := s.oracle.LatestUpdates(ctx, feedIDs)
	if err != nil {
		s.logger.Warn().Err(err).Time("bucket", bucket).Msg("oracle fetch failed, sampling without price bounds")
		return nil
	}
	return updates.Quotes
}

func (s *Service) sampleReserve(ctx context.Context, bucket time.Time, tokenID common.Hash, quotes map[string]oracle.PriceQuote) error {
	reserve, err := s.chain.Reserve(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("read reserve: %w", err)
	}

	acc := lending.Extrapolate(reserve, bucket)

	sample := storage.ReserveSample{
		Bucket:         bucket,
		Symbol:         reserve.Symbol,
		TotalDeposits:  lending.FromBaseUnits(acc.TotalDeposits, reserve.Decimals),
		TotalBorrows:   lending.FromBaseUnits(acc.TotalBorrows, reserve.Decimals),
		Utilization:    lending.UtilizationPct(acc.Utilization),
		BorrowRatePct:  lending.RatePct(acc.BorrowRate),
		SupplyRatePct:  lending.RatePct(acc.SupplyRate),
		LiquidityIndex: decimal.NewFromBigInt(acc.LiquidityIndex, -27),
		BorrowIndex:    decimal.NewFromBigInt(acc.BorrowIndex, -27),
		Status:         "complete",
		CreatedAt:      time.Now().UTC(),
	}

	s.attachBounds(&sample, reserve, bucket, quotes)

	if s.store != nil {
		if err := s.store.UpsertReserveSample(ctx, sample); err != nil {
			return fmt.Errorf("upsert reserve sample: %w", err)
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("symbol", reserve.Symbol).
		Str("utilization_pct", sample.Utilization.String()).
		Str("borrow_rate_pct", sample.BorrowRatePct.String()).
		Msg("sample recorded")
	return nil
}

func (s *Service) attachBounds(sample *storage.ReserveSample, reserve *lending.ReserveState, bucket time.Time, quotes map[string]oracle.PriceQuote) {
	feedID, ok := s.feeds[reserve.Symbol]
	if !ok {
		return
	}
	quote, ok := quotes[oracle.NormalizeFeedID(feedID)]
	if !ok {
		return
	}

	bounds, err := oracle.ResolveBounds(quote, bucket, s.maxAge)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", reserve.Symbol).Msg("price bounds unavailable")
		return
	}

	low := decimal.NewFromBigInt(bounds.Low, bounds.Exponent)
	mid := decimal.NewFromBigInt(bounds.Mid, bounds.Exponent)
	high := decimal.NewFromBigInt(bounds.High, bounds.Exponent)
	sample.PriceLow = &low
	sample.PriceMid = &mid
	sample.PriceHigh = &high
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
