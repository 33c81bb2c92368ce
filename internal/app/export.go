package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/Halyard-Systems/halyard-finance/internal/storage"
)

// Export renders one reserve's sample history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.ReserveSample, max int) []storage.ReserveSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.ReserveSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.ReserveSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "symbol", "total_deposits", "total_borrows", "utilization_pct", "borrow_rate_pct", "supply_rate_pct", "liquidity_index", "borrow_index", "price_low", "price_mid", "price_high", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		low, mid, high := "", "", ""
		if sample.PriceLow != nil {
			low = sample.PriceLow.String()
		}
		if sample.PriceMid != nil {
			mid = sample.PriceMid.String()
		}
		if sample.PriceHigh != nil {
			high = sample.PriceHigh.String()
		}
		record := []string{
			sample.Bucket.Format(time.RFC3339),
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
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, symbol string, samples []storage.ReserveSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	utilization := make([]float64, len(samples))
	borrowRate := make([]float64, len(samples))
	supplyRate := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.Bucket
		utilization[i] = sample.Utilization.InexactFloat64()
		borrowRate[i] = sample.BorrowRatePct.InexactFloat64()
		supplyRate[i] = sample.SupplyRatePct.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  symbol + " utilization and rates",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (% APR)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Utilization (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Borrow APR",
				XValues: x,
				YValues: borrowRate,
			},
			chart.TimeSeries{
				Name:    "Supply APR",
				XValues: x,
				YValues: supplyRate,
			},
			chart.TimeSeries{
				Name:    "Utilization %",
				XValues: x,
				YValues: utilization,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
