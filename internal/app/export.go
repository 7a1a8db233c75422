package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"nodesentinel/internal/storage"
)

// Export renders historical market samples as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
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

	from, to, err := exportWindow(opts, a.Config.Scheduler.MarketInterval, time.Now().UTC())
	if err != nil {
		return err
	}

	samples, err := store.ListSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
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
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow defaults to the last MaxPoints market intervals before now.
func exportWindow(opts ExportOptions, interval time.Duration, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleSamples(samples []storage.MarketSample, max int) []storage.MarketSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.MarketSample, 0, max)
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

func writeSamplesCSV(path string, samples []storage.MarketSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"bucket_ts", "price_usd", "price_eur", "fastest_fee", "half_hour_fee", "hour_fee", "fee_level", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.Bucket.UTC().Format(time.RFC3339),
			csvDecimal(sample.PriceUSD.Valid, sample.PriceUSD.Decimal.String()),
			csvDecimal(sample.PriceEUR.Valid, sample.PriceEUR.Decimal.String()),
			csvFee(sample.FastestFee),
			csvFee(sample.HalfHourFee),
			csvFee(sample.HourFee),
			sample.FeeLevel,
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvDecimal(valid bool, v string) string {
	if !valid {
		return ""
	}
	return v
}

func csvFee(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func writeSamplesPNG(path string, samples []storage.MarketSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		priceX, feeX []time.Time
		price, fee   []float64
	)
	for _, sample := range samples {
		if sample.PriceUSD.Valid {
			priceX = append(priceX, sample.Bucket)
			price = append(price, sample.PriceUSD.Decimal.InexactFloat64())
		}
		if sample.FastestFee != nil {
			feeX = append(feeX, sample.Bucket)
			fee = append(fee, *sample.FastestFee)
		}
	}
	if len(price) < 2 && len(fee) < 2 {
		return errors.New("not enough data points to chart")
	}

	var series []chart.Series
	if len(price) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "BTC/USD",
			XValues: priceX,
			YValues: price,
		})
	}
	if len(fee) >= 2 {
		// a lone fee series goes on the primary axis
		axis := chart.YAxisPrimary
		if len(series) > 0 {
			axis = chart.YAxisSecondary
		}
		series = append(series, chart.TimeSeries{
			Name:    "Fastest fee (sat/vB)",
			XValues: feeX,
			YValues: fee,
			YAxis:   axis,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Fee (sat/vB)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: series,
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
