package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestResolveBoundsOrdering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := PriceQuote{ID: "feed", Price: 6_200_000_000_000, Confidence: 1_500_000_000, Exponent: -8, PublishTime: now.Unix()}

	b, err := ResolveBounds(q, now, time.Minute)
	if err != nil {
		t.Fatalf("fresh quote should resolve: %v", err)
	}
	if b.Low.Cmp(b.Mid) > 0 || b.Mid.Cmp(b.High) > 0 {
		t.Fatalf("bounds out of order: %s <= %s <= %s", b.Low, b.Mid, b.High)
	}
	if b.Low.Sign() < 0 {
		t.Fatalf("low bound negative: %s", b.Low)
	}

	wantLow := big.NewInt(6_200_000_000_000 - 1_500_000_000)
	wantHigh := big.NewInt(6_200_000_000_000 + 1_500_000_000)
	if b.Low.Cmp(wantLow) != 0 || b.High.Cmp(wantHigh) != 0 {
		t.Fatalf("bounds [%s, %s], want [%s, %s]", b.Low, b.High, wantLow, wantHigh)
	}
}

func TestResolveBoundsFloorsLowAtZero(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := PriceQuote{ID: "feed", Price: 50, Confidence: 200, Exponent: -8, PublishTime: now.Unix()}

	b, err := ResolveBounds(q, now, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if b.Low.Sign() != 0 {
		t.Fatalf("low bound = %s, want 0", b.Low)
	}
}

func TestResolveBoundsStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := PriceQuote{ID: "feed", Price: 100, Confidence: 1, Exponent: -8, PublishTime: now.Add(-2 * time.Minute).Unix()}

	_, err := ResolveBounds(q, now, time.Minute)
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("want ErrStalePrice, got %v", err)
	}
}

func TestResolveBoundsRejectsNonPositivePrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := PriceQuote{ID: "feed", Price: 0, Confidence: 1, Exponent: -8, PublishTime: now.Unix()}

	if _, err := ResolveBounds(q, now, time.Minute); err == nil {
		t.Fatal("zero price should be rejected")
	}
}

func TestQuoteDisplayValues(t *testing.T) {
	q := PriceQuote{ID: "feed", Price: 12_300_000_000, Confidence: 100, Exponent: -8}
	if q.MidValue().String() != "123" {
		t.Fatalf("mid value = %s, want 123", q.MidValue())
	}
	if q.ConfidenceValue().String() != "0.000001" {
		t.Fatalf("confidence value = %s", q.ConfidenceValue())
	}
}
