package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Halyard-Systems/halyard-finance/internal/capacity"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

// Preview evaluates a hypothetical borrow against the account's current
// collateral without submitting anything. Static prices may substitute
// for live oracle quotes.
func (a *App) Preview(ctx context.Context, opts PreviewOptions) error {
	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gw.Close()

	account, err := a.resolveAccount(gw, opts.Account)
	if err != nil {
		return err
	}

	source := a.newOracleSource(gw)
	if len(opts.Prices) > 0 {
		source = a.staticSource(opts.Prices)
	}

	now := time.Now().UTC()
	views, err := a.collectViews(ctx, gw, source, account, now)
	if err != nil {
		return err
	}

	target := findAssetView(views, opts.Symbol)
	if target == nil {
		return fmt.Errorf("no reserve with symbol %q", opts.Symbol)
	}
	if !target.HasBounds {
		return fmt.Errorf("no price available for %s: %w", opts.Symbol, capacity.ErrUnknownCapacity)
	}

	parsed, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", opts.Amount, err)
	}
	amount := lending.ToBaseUnits(parsed, target.Reserve.Decimals)

	params := a.capacityParams()
	before, err := capacity.Compute(views, params)
	if err != nil {
		return err
	}

	// Replay the computation with the borrow applied to the target's debt.
	target.Position = borrowedPosition(target, amount)
	after, err := capacity.Compute(views, params)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Borrow %s %s at $%s (high bound)\n\n",
		opts.Amount, opts.Symbol, formatDecimal(target.Bounds.HighValue(), 2))
	printCapacity(os.Stdout, "Before", before, params)
	printCapacity(os.Stdout, "After", after, params)

	if debtDelta(before, after).Cmp(before.AvailableToBorrow) > 0 {
		fmt.Fprintln(os.Stdout, "\nwarning: borrow exceeds available capacity and would be rejected on chain")
	}
	return nil
}

// findAssetView returns a pointer into views so callers can mutate the
// matched entry in place. Symbols match case-insensitively, the same way
// reserves are resolved from the command line.
func findAssetView(views []capacity.AssetView, symbol string) *capacity.AssetView {
	for i := range views {
		if strings.EqualFold(views[i].Reserve.Symbol, symbol) {
			return &views[i]
		}
	}
	return nil
}

// borrowedPosition returns a copy of the view's position with the borrow
// amount added as scaled debt at the current borrow index.
func borrowedPosition(v *capacity.AssetView, amount *big.Int) *lending.Position {
	index := v.Accrued.BorrowIndex
	scaled := new(big.Int).Mul(amount, lending.Ray)
	scaled.Div(scaled, index)

	pos := *v.Position
	pos.BorrowScaled = new(big.Int).Add(pos.BorrowScaled, scaled)
	return &pos
}

func debtDelta(before, after capacity.Result) *big.Int {
	return new(big.Int).Sub(after.DebtValue, before.DebtValue)
}

func printCapacity(w *os.File, label string, r capacity.Result, params capacity.Params) {
	fmt.Fprintf(w, "%s:\n", label)
	fmt.Fprintf(w, "  collateral  $%s\n", formatDecimal(capacity.Value18(r.CollateralValue), 2))
	fmt.Fprintf(w, "  debt        $%s\n", formatDecimal(capacity.Value18(r.DebtValue), 2))
	fmt.Fprintf(w, "  available   $%s\n", formatDecimal(capacity.Value18(r.AvailableToBorrow), 2))
	if hf, ok := r.HealthFactor(params); ok {
		fmt.Fprintf(w, "  health      %s\n", hf.String())
	}
}

// staticSource serves fixed quotes keyed by symbol, resolved through the
// configured feed mapping so lookups behave exactly like live quotes.
func (a *App) staticSource(prices map[string]float64) oracle.Source {
	quotes := make(map[string]oracle.PriceQuote, len(prices))
	for symbol, price := range prices {
		feedID, ok := a.Config.Oracle.Feeds[symbol]
		if !ok {
			a.Logger.Warn().Str("symbol", symbol).Msg("no feed configured for static price")
			continue
		}
		id := oracle.NormalizeFeedID(feedID)
		quotes[id] = oracle.PriceQuote{
			ID:          id,
			Price:       int64(math.Round(price * 1e8)),
			Confidence:  0,
			Exponent:    -8,
			PublishTime: time.Now().Unix(),
		}
	}
	return &staticQuoteSource{quotes: quotes}
}

type staticQuoteSource struct {
	quotes map[string]oracle.PriceQuote
}

func (s *staticQuoteSource) LatestUpdates(ctx context.Context, feedIDs []string) (*oracle.UpdateSet, error) {
	set := &oracle.UpdateSet{Quotes: make(map[string]oracle.PriceQuote, len(feedIDs))}
	for _, id := range feedIDs {
		quote, ok := s.quotes[oracle.NormalizeFeedID(id)]
		if !ok {
			return nil, errors.New("no static price for feed " + id)
		}
		set.Quotes[quote.ID] = quote
	}
	return set, nil
}

var _ oracle.Source = (*staticQuoteSource)(nil)
