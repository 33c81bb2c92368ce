package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Halyard-Systems/halyard-finance/internal/storage"
)

// History prints a reserve's most recent persisted samples alongside the
// transaction audit trail.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	records, err := store.ListRecentTxRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	total, err := store.CountSamples(ctx)
	if err != nil {
		return err
	}

	writeHistory(os.Stdout, samples, records)
	fmt.Fprintf(os.Stdout, "\n%d samples stored across all reserves\n", total)
	return nil
}

func writeHistory(w io.Writer, samples []storage.ReserveSample, records []storage.TxRecord) {
	if len(samples) == 0 {
		fmt.Fprintln(w, "no samples found")
	} else {
		writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tUtil%\tBorrow APR%\tSupply APR%\tPrice (low/high)\tStatus\tError")
		for _, sample := range samples {
			errMsg := ""
			if sample.Error != nil {
				errMsg = sanitizeInline(*sample.Error)
			}
			price := "-"
			if sample.PriceLow != nil && sample.PriceHigh != nil {
				price = fmt.Sprintf("%s / %s", formatDecimal(*sample.PriceLow, 2), formatDecimal(*sample.PriceHigh, 2))
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sample.Bucket.UTC().Format(time.RFC3339),
				formatDecimal(sample.Utilization, 2),
				formatDecimal(sample.BorrowRatePct, 3),
				formatDecimal(sample.SupplyRatePct, 3),
				price,
				sample.Status,
				errMsg,
			)
		}
		writer.Flush()
	}

	if len(records) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent transactions:")
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAction\tSymbol\tAmount\tPhase\tTx\tError")
	for _, rec := range records {
		code := ""
		if rec.ErrorCode != nil {
			code = *rec.ErrorCode
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Action,
			rec.Symbol,
			rec.Amount.String(),
			rec.Phase,
			rec.TxHash,
			code,
		)
	}
	writer.Flush()
}

// sanitizeInline keeps stored error messages on one table row.
func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}
