package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"nodesentinel/internal/storage"
)

const maxInlineMessage = 80

// Show prints the most recent alert audit records, or market samples when
// opts.Samples is set.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Samples {
		samples, err := store.ListRecentSamples(ctx, opts.Limit)
		if err != nil {
			return err
		}
		total, err := store.CountSamples(ctx)
		if err != nil {
			return err
		}
		return writeSamplesTable(w, samples, total)
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeAlertsTable(w, alerts)
}

func writeAlertsTable(w io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "no alerts found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKey\tSeverity\tChannel\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Key,
			alert.Severity,
			alert.Channel,
			clip(sanitizeInline(alert.Message), maxInlineMessage),
		)
	}
	return writer.Flush()
}

func writeSamplesTable(w io.Writer, samples []storage.MarketSample, total int64) error {
	if len(samples) == 0 {
		_, err := fmt.Fprintln(w, "no samples found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tBTC/USD\tFastest\tLevel\tStatus\tError")
	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			formatNullDecimal(sample.PriceUSD, 2),
			formatFee(sample.FastestFee),
			sample.FeeLevel,
			sample.Status,
			errMsg,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "showing %d of %d stored samples\n", len(samples), total)
	return err
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func formatFee(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *f)
}
