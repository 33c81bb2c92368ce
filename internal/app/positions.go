package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Halyard-Systems/halyard-finance/internal/capacity"
	"github.com/Halyard-Systems/halyard-finance/internal/chain"
	"github.com/Halyard-Systems/halyard-finance/internal/lending"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
)

// Positions prints the account's deposits, debts, and borrow capacity.
func (a *App) Positions(ctx context.Context, opts PositionsOptions) error {
	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gw.Close()

	account, err := a.resolveAccount(gw, opts.Account)
	if err != nil {
		return err
	}

	views, err := a.collectViews(ctx, gw, a.newOracleSource(gw), account, time.Now().UTC())
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tDeposited\tBorrowed\tWallet\tPrice (low/high)")

	for _, v := range views {
		wallet, err := gw.WalletBalance(ctx, account, v.Reserve)
		if err != nil {
			a.Logger.Error().Err(err).Str("symbol", v.Reserve.Symbol).Msg("wallet balance unavailable")
			wallet = nil
		}

		priceCol := "-"
		if v.HasBounds {
			priceCol = fmt.Sprintf("%s / %s",
				formatDecimal(v.Bounds.LowValue(), 2),
				formatDecimal(v.Bounds.HighValue(), 2),
			)
		}

		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			v.Reserve.Symbol,
			formatDecimal(lending.FromBaseUnits(v.Accrued.DepositValue(v.Position), v.Reserve.Decimals), 4),
			formatDecimal(lending.FromBaseUnits(v.Accrued.BorrowValue(v.Position), v.Reserve.Decimals), 4),
			formatDecimal(lending.FromBaseUnits(wallet, v.Reserve.Decimals), 4),
			priceCol,
		)
	}
	writer.Flush()

	result, err := capacity.Compute(views, a.capacityParams())
	if err != nil {
		if errors.Is(err, capacity.ErrUnknownCapacity) {
			fmt.Fprintln(os.Stdout, "\nborrow capacity unknown: price data unavailable")
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "\nCollateral value:    $%s\n", formatDecimal(capacity.Value18(result.CollateralValue), 2))
	fmt.Fprintf(os.Stdout, "Debt value:          $%s\n", formatDecimal(capacity.Value18(result.DebtValue), 2))
	fmt.Fprintf(os.Stdout, "Available to borrow: $%s\n", formatDecimal(capacity.Value18(result.AvailableToBorrow), 2))
	if hf, ok := result.HealthFactor(a.capacityParams()); ok {
		fmt.Fprintf(os.Stdout, "Health factor:       %s\n", hf.String())
	}
	return nil
}

func (a *App) resolveAccount(gw *chain.Gateway, override string) (common.Address, error) {
	if override != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, fmt.Errorf("invalid account address %q", override)
		}
		return common.HexToAddress(override), nil
	}
	sender := gw.Sender()
	if sender == (common.Address{}) {
		return common.Address{}, errors.New("no account configured; set ethereum.account or pass --account")
	}
	return sender, nil
}

// collectViews reads every supported reserve with the account's position and
// resolves price bounds for the reserves that have a configured feed. A
// missing or stale quote leaves HasBounds unset rather than failing the read;
// the capacity calculator decides whether that is fatal.
func (a *App) collectViews(ctx context.Context, gw *chain.Gateway, source oracle.Source, account common.Address, now time.Time) ([]capacity.AssetView, error) {
	tokens, err := gw.SupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	quotes := map[string]oracle.PriceQuote{}
	if len(a.Config.Oracle.Feeds) > 0 && source != nil {
		feedIDs := make([]string, 0, len(a.Config.Oracle.Feeds))
		for _, id := range a.Config.Oracle.Feeds {
			feedIDs = append(feedIDs, id)
		}
		updates, err := source.LatestUpdates(ctx, feedIDs)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("oracle fetch failed; capacity may be unknown")
		} else {
			quotes = updates.Quotes
		}
	}

	views := make([]capacity.AssetView, 0, len(tokens))
	for _, tokenID := range tokens {
		reserve, err := gw.Reserve(ctx, tokenID)
		if err != nil {
			return nil, fmt.Errorf("read reserve %s: %w", tokenID.Hex(), err)
		}
		position, err := gw.Position(ctx, account, reserve)
		if err != nil {
			return nil, fmt.Errorf("read position for %s: %w", reserve.Symbol, err)
		}

		view := capacity.AssetView{
			Reserve:  reserve,
			Accrued:  lending.Extrapolate(reserve, now),
			Position: position,
		}

		if feedID, ok := a.Config.Oracle.Feeds[reserve.Symbol]; ok {
			if quote, ok := quotes[oracle.NormalizeFeedID(feedID)]; ok {
				bounds, err := oracle.ResolveBounds(quote, now, a.Config.Oracle.MaxAge)
				if err != nil {
					a.Logger.Warn().Err(err).Str("symbol", reserve.Symbol).Msg("price bounds unavailable")
				} else {
					view.Bounds = bounds
					view.HasBounds = true
				}
			}
		}

		views = append(views, view)
	}
	return views, nil
}
