package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/service"
	"nodesentinel/internal/storage"
)

func testApp() *App {
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{MarketInterval: 5 * time.Minute},
		Alerting:  config.AlertingConfig{Enabled: true, Cooldown: time.Minute},
		Thresholds: config.ThresholdsConfig{
			Fee: config.FeeThresholds{Low: 5, Medium: 10, High: 50},
			Price: config.PriceThresholds{
				ChangeLow:          1000,
				ChangeHigh:         2500,
				Lookback:           120 * time.Minute,
				History:            4 * time.Hour,
				VolatilityCooldown: 4 * time.Hour,
			},
		},
		Market: config.MarketConfig{FeeHistory: time.Hour},
		Macro:  config.MacroConfig{Enabled: true, Cooldown: time.Hour},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
	return NewApp(cfg, zerolog.Nop())
}

type captureRouter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *captureRouter) Route(_ context.Context, ev alerting.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

var _ service.Router = (*captureRouter)(nil)

func TestSimulateCrash(t *testing.T) {
	a := testApp()
	router := &captureRouter{}
	err := a.simulate(context.Background(), SimulateOptions{
		From: decimal.NewFromInt(60000),
		To:   decimal.NewFromInt(57000),
		Fee:  8,
	}, router)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(router.events) != 1 {
		t.Fatalf("want one alert, got %+v", router.events)
	}
	ev := router.events[0]
	if ev.Key != service.KeyVolatility || !strings.Contains(ev.Message, "MAJOR CRASH") || !strings.Contains(ev.Message, "$3,000") {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSimulateSmallMoveStaysQuiet(t *testing.T) {
	a := testApp()
	router := &captureRouter{}
	err := a.simulate(context.Background(), SimulateOptions{
		From: decimal.NewFromInt(60000),
		To:   decimal.NewFromInt(60500),
		Fee:  8,
	}, router)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(router.events) != 0 {
		t.Fatalf("move below the low threshold must not alert, got %+v", router.events)
	}
}

func TestSimulateAlertNeedsSink(t *testing.T) {
	a := testApp()
	if err := a.SimulateAlert(context.Background(), SimulateOptions{}); err == nil {
		t.Fatal("want error without an enabled channel")
	}
}

func TestExportWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	from, to, err := exportWindow(ExportOptions{MaxPoints: 12}, 5*time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}
	if !to.Equal(now) || !from.Equal(now.Add(-time.Hour)) {
		t.Fatalf("window %v - %v", from, to)
	}

	early := now.Add(time.Hour)
	if _, _, err := exportWindow(ExportOptions{From: &early, MaxPoints: 12}, 5*time.Minute, now); err == nil {
		t.Fatal("want error for inverted window")
	}
}

func samplesAt(n int) []storage.MarketSample {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.MarketSample, n)
	for i := range out {
		fee := float64(i)
		out[i] = storage.MarketSample{
			Bucket:     base.Add(time.Duration(i) * 5 * time.Minute),
			PriceUSD:   decimal.NewNullDecimal(decimal.NewFromInt(int64(60000 + i))),
			FastestFee: &fee,
			FeeLevel:   "LOW",
			Status:     storage.StatusOK,
		}
	}
	return out
}

func TestDownsampleKeepsEnds(t *testing.T) {
	samples := samplesAt(100)
	got := downsampleSamples(samples, 10)
	if len(got) != 10 {
		t.Fatalf("want 10 points, got %d", len(got))
	}
	if !got[0].Bucket.Equal(samples[0].Bucket) || !got[9].Bucket.Equal(samples[99].Bucket) {
		t.Fatal("first and last sample must survive downsampling")
	}
	if n := len(downsampleSamples(samples, 0)); n != 100 {
		t.Fatalf("zero limit keeps everything, got %d", n)
	}
}

func TestWriteSamplesCSV(t *testing.T) {
	samples := samplesAt(2)
	msg := "coingecko: 429"
	samples[1].PriceUSD = decimal.NullDecimal{}
	samples[1].Status = storage.StatusPartial
	samples[1].Error = &msg

	path := filepath.Join(t.TempDir(), "out", "samples.csv")
	if err := writeSamplesCSV(path, samples); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0][1] != "price_usd" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][1] != "60000" || rows[1][3] != "0" {
		t.Fatalf("row 1 %v", rows[1])
	}
	if rows[2][1] != "" || rows[2][7] != storage.StatusPartial || rows[2][8] != msg {
		t.Fatalf("row 2 %v", rows[2])
	}
}

func TestWriteSamplesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	if err := writeSamplesPNG(path, samplesAt(5)); err != nil {
		t.Fatalf("render: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
	if err := writeSamplesPNG(path, samplesAt(1)); err == nil {
		t.Fatal("a single point cannot be charted")
	}
}

func TestAlertsTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeAlertsTable(&buf, []storage.AlertRecord{{
		Key:       "service:lnd",
		Severity:  "critical",
		Message:   "🔥 *SERVICE DOWN!* LND is now *FAILED*.\nRun /diagnose",
		Channel:   "telegram",
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2025-03-01T12:00:00Z") || !strings.Contains(out, "service:lnd") || strings.Count(out, "\n") != 2 {
		t.Fatalf("unexpected table:\n%s", out)
	}

	buf.Reset()
	if err := writeAlertsTable(&buf, nil); err != nil || !strings.Contains(buf.String(), "no alerts found") {
		t.Fatalf("empty table: %q %v", buf.String(), err)
	}
}

func TestSamplesTable(t *testing.T) {
	var buf bytes.Buffer
	samples := samplesAt(2)
	samples[1].PriceUSD = decimal.NullDecimal{}
	if err := writeSamplesTable(&buf, samples, 340); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "60000.00") || strings.Contains(out, "60001") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if !strings.HasSuffix(out, "showing 2 of 340 stored samples\n") {
		t.Fatalf("missing total footer:\n%s", out)
	}

	buf.Reset()
	if err := writeSamplesTable(&buf, nil, 0); err != nil || !strings.Contains(buf.String(), "no samples found") {
		t.Fatalf("empty table: %q %v", buf.String(), err)
	}
}
