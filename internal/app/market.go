package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Halyard-Systems/halyard-finance/internal/lending"
)

// Market prints the live state of every supported reserve.
func (a *App) Market(ctx context.Context) error {
	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gw.Close()

	tokens, err := gw.SupportedTokens(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stdout, "no supported reserves")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tDeposits\tBorrows\tUtil%\tBorrow APR%\tSupply APR%\tOracle\tActive")

	for _, tokenID := range tokens {
		reserve, err := gw.Reserve(ctx, tokenID)
		if err != nil {
			a.Logger.Error().Err(err).Str("token", tokenID.Hex()).Msg("skipping unreadable reserve")
			continue
		}

		_, hasFeed := a.Config.Oracle.Feeds[reserve.Symbol]
		acc := lending.Extrapolate(reserve, now)
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			reserve.Symbol,
			formatDecimal(lending.FromBaseUnits(acc.TotalDeposits, reserve.Decimals), 4),
			formatDecimal(lending.FromBaseUnits(acc.TotalBorrows, reserve.Decimals), 4),
			formatDecimal(lending.UtilizationPct(acc.Utilization), 2),
			formatDecimal(lending.RatePct(acc.BorrowRate), 3),
			formatDecimal(lending.RatePct(acc.SupplyRate), 3),
			yesNo(hasFeed),
			yesNo(reserve.IsActive),
		)
	}

	writer.Flush()
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
