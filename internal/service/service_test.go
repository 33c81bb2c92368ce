package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Halyard-Systems/halyard-finance/internal/config"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
	"github.com/Halyard-Systems/halyard-finance/internal/storage"
)

type fakeChain struct {
	reserves map[common.Hash]*lending.ReserveState
}

func (f *fakeChain) SupportedTokens(ctx context.Context) ([]common.Hash, error) {
	tokens := make([]common.Hash, 0, len(f.reserves))
	for id := range f.reserves {
		tokens = append(tokens, id)
	}
	return tokens, nil
}

func (f *fakeChain) Reserve(ctx context.Context, tokenID common.Hash) (*lending.ReserveState, error) {
	r, ok := f.reserves[tokenID]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return r, nil
}

type fakeSource struct {
	quotes map[string]oracle.PriceQuote
	err    error
}

func (f *fakeSource) LatestUpdates(ctx context.Context, feedIDs []string) (*oracle.UpdateSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.UpdateSet{Quotes: f.quotes}, nil
}

type fakeStore struct {
	samples []storage.ReserveSample
}

func (f *fakeStore) UpsertReserveSample(ctx context.Context, sample storage.ReserveSample) error {
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeStore) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.ReserveSample, error) {
	return nil, nil
}

func (f *fakeStore) ListRecentSamples(ctx context.Context, symbol string, limit int) ([]storage.ReserveSample, error) {
	return nil, nil
}

func (f *fakeStore) CountSamples(ctx context.Context) (int64, error) {
	return int64(len(f.samples)), nil
}

const wethFeed = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

func testConfig() *config.Config {
	return &config.Config{
		Oracle: config.OracleConfig{
			Feeds:  map[string]string{"WETH": "0x" + wethFeed},
			MaxAge: time.Minute,
		},
	}
}

func ray() *big.Int {
	return new(big.Int).Set(lending.Ray)
}

func wethReserve(now time.Time) *lending.ReserveState {
	return &lending.ReserveState{
		Symbol:              "WETH",
		TokenID:             common.HexToHash("0xaa"),
		TokenAddress:        common.HexToAddress("0x1111"),
		Decimals:            18,
		IsActive:            true,
		LiquidityIndex:      ray(),
		BorrowIndex:         ray(),
		LastUpdateTimestamp: now.Unix(),
		TotalScaledSupply:   big.NewInt(1e18),
		TotalBorrowsScaled:  big.NewInt(5e17),
		BaseRate:            big.NewInt(0),
		Slope1:              new(big.Int).Div(ray(), big.NewInt(25)),
		Slope2:              ray(),
		Kink:                new(big.Int).Div(new(big.Int).Mul(lending.Wad, big.NewInt(8)), big.NewInt(10)),
		ReserveFactor:       big.NewInt(0),
		RequiresOracle:      true,
	}
}

func TestProcessBucketRecordsSampleWithBounds(t *testing.T) {
	now := time.Now().UTC()
	chain := &fakeChain{reserves: map[common.Hash]*lending.ReserveState{
		common.HexToHash("0xaa"): wethReserve(now),
	}}
	source := &fakeSource{quotes: map[string]oracle.PriceQuote{
		wethFeed: {
			ID:          wethFeed,
			Price:       310_000_000_000,
			Confidence:  100_000_000,
			Exponent:    -8,
			PublishTime: now.Unix(),
		},
	}}
	store := &fakeStore{}

	svc := New(testConfig(), nil, chain, source, store, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), now); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(store.samples) != 1 {
		t.Fatalf("samples recorded = %d, want 1", len(store.samples))
	}
	sample := store.samples[0]
	if sample.Symbol != "WETH" {
		t.Errorf("symbol = %q, want WETH", sample.Symbol)
	}
	if sample.Utilization.String() != "50" {
		t.Errorf("utilization = %s, want 50", sample.Utilization)
	}
	if sample.PriceMid == nil || sample.PriceMid.String() != "3100" {
		t.Errorf("price mid = %v, want 3100", sample.PriceMid)
	}
	if sample.PriceLow == nil || sample.PriceHigh == nil {
		t.Fatalf("bounds not attached")
	}
	if sample.PriceLow.GreaterThanOrEqual(*sample.PriceMid) || sample.PriceHigh.LessThanOrEqual(*sample.PriceMid) {
		t.Errorf("bounds out of order: low=%s mid=%s high=%s", sample.PriceLow, sample.PriceMid, sample.PriceHigh)
	}
}

func TestProcessBucketDegradesWithoutOracle(t *testing.T) {
	now := time.Now().UTC()
	chain := &fakeChain{reserves: map[common.Hash]*lending.ReserveState{
		common.HexToHash("0xaa"): wethReserve(now),
	}}
	source := &fakeSource{err: errors.New("hermes unreachable")}
	store := &fakeStore{}

	svc := New(testConfig(), nil, chain, source, store, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), now); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(store.samples) != 1 {
		t.Fatalf("samples recorded = %d, want 1", len(store.samples))
	}
	if store.samples[0].PriceMid != nil {
		t.Errorf("expected no price bounds when oracle is down")
	}
}

func TestProcessBucketSkipsStaleQuotes(t *testing.T) {
	now := time.Now().UTC()
	chain := &fakeChain{reserves: map[common.Hash]*lending.ReserveState{
		common.HexToHash("0xaa"): wethReserve(now),
	}}
	source := &fakeSource{quotes: map[string]oracle.PriceQuote{
		wethFeed: {
			ID:          wethFeed,
			Price:       310_000_000_000,
			Confidence:  100_000_000,
			Exponent:    -8,
			PublishTime: now.Add(-10 * time.Minute).Unix(),
		},
	}}
	store := &fakeStore{}

	svc := New(testConfig(), nil, chain, source, store, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), now); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(store.samples) != 1 {
		t.Fatalf("samples recorded = %d, want 1", len(store.samples))
	}
	if store.samples[0].PriceMid != nil {
		t.Errorf("stale quote must not produce bounds")
	}
}
