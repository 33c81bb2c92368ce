package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// UpdateDataBuilder produces a signed-format update payload for a synthetic
// quote. On test deployments this is a read against the mock oracle contract,
// which encodes the payload the settlement contracts expect.
type UpdateDataBuilder interface {
	BuildUpdateData(ctx context.Context, q PriceQuote) ([]byte, error)
}

const (
	syntheticExponent   = int32(-8)
	syntheticConfidence = uint64(100)
)

// Synthetic fabricates quotes and update payloads for environments without a
// live oracle network. Never enabled in production; capacity decisions made
// from synthetic quotes are only meaningful against pre-seeded test feeds.
type Synthetic struct {
	builder UpdateDataBuilder
	prices  map[string]int64
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSynthetic constructs a synthetic source. prices maps feed id to a price
// mantissa at 1e-8 scale.
func NewSynthetic(builder UpdateDataBuilder, prices map[string]int64, logger zerolog.Logger) *Synthetic {
	normalized := make(map[string]int64, len(prices))
	for id, p := range prices {
		normalized[NormalizeFeedID(id)] = p
	}
	return &Synthetic{
		builder: builder,
		prices:  normalized,
		now:     time.Now,
		logger:  logger.With().Str("component", "synthetic_oracle").Logger(),
	}
}

// LatestUpdates synthesizes one quote per feed, timestamped at the current
// wall clock so the staleness window always passes for a fresh fetch.
func (s *Synthetic) LatestUpdates(ctx context.Context, feedIDs []string) (*UpdateSet, error) {
	set := &UpdateSet{Quotes: make(map[string]PriceQuote, len(feedIDs))}
	publishTime := s.now().Unix()

	for _, id := range feedIDs {
		normalized := NormalizeFeedID(id)
		price, ok := s.prices[normalized]
		if !ok {
			return nil, fmt.Errorf("no synthetic price configured for feed %s", id)
		}

		quote := PriceQuote{
			ID:          normalized,
			Price:       price,
			Confidence:  syntheticConfidence,
			Exponent:    syntheticExponent,
			PublishTime: publishTime,
		}
		set.Quotes[normalized] = quote

		payload, err := s.builder.BuildUpdateData(ctx, quote)
		if err != nil {
			return nil, fmt.Errorf("build synthetic update data: %w", err)
		}
		set.Payloads = append(set.Payloads, payload)
	}

	s.logger.Debug().Int("feeds", len(feedIDs)).Msg("synthesized price updates")
	return set, nil
}

var _ Source = (*Synthetic)(nil)
