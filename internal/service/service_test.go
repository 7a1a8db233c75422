package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/fetcher"
	"nodesentinel/internal/lightning"
	"nodesentinel/internal/remote"
	"nodesentinel/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{AdvisoryLockKey: 0},
		Scheduler: config.SchedulerConfig{
			MarketInterval:    5 * time.Minute,
			HostInterval:      time.Minute,
			LightningInterval: 10 * time.Second,
		},
		Alerting: config.AlertingConfig{Cooldown: time.Minute, Retention: 720 * time.Hour},
		Thresholds: config.ThresholdsConfig{
			Fee: config.FeeThresholds{Low: 5, Medium: 10, High: 50},
			Price: config.PriceThresholds{
				ChangeLow:          1000,
				ChangeHigh:         2500,
				Lookback:           120 * time.Minute,
				History:            4 * time.Hour,
				VolatilityCooldown: time.Minute,
			},
			Host: config.HostThresholds{CPUPct: 80, RAMPct: 90, LoadPerCore: 1.5, DiskPct: 90, Persistence: 3},
		},
		Market: config.MarketConfig{FeeHistory: time.Hour},
		Macro: config.MacroConfig{
			Cooldown:    24 * time.Hour,
			Query:       "periodic macro report",
			SkipMarkers: []string{"NO SIGNIFICANT MACRO UPDATE"},
		},
		Host:      config.HostConfig{Mounts: []string{"/"}, Services: []string{"lnd"}},
		Lightning: config.LightningConfig{AliasTTL: time.Hour},
	}
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

func (r *captureRouter) all() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func (r *captureRouter) withKey(key string) []alerting.Event {
	var out []alerting.Event
	for _, ev := range r.all() {
		if ev.Key == key {
			out = append(out, ev)
		}
	}
	return out
}

type stubFees struct {
	fees fetcher.Fees
	err  error
}

func (s *stubFees) FetchFees(context.Context) (fetcher.Fees, error) { return s.fees, s.err }

type stubPrices struct {
	prices fetcher.Prices
	err    error
}

func (s *stubPrices) FetchPrices(context.Context) (fetcher.Prices, error) { return s.prices, s.err }

func (s *stubPrices) setUSD(v int64) {
	s.prices = fetcher.Prices{USD: decimal.NewFromInt(v), EUR: decimal.NewFromInt(v * 9 / 10)}
	s.err = nil
}

type scriptedAnalyst struct {
	mu      sync.Mutex
	replies []string
	queries []string
	err     error
}

func (a *scriptedAnalyst) Analyze(_ context.Context, query string) (fetcher.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, query)
	if a.err != nil {
		return fetcher.Analysis{}, a.err
	}
	text := "no reply"
	if len(a.replies) > 0 {
		text, a.replies = a.replies[0], a.replies[1:]
	}
	return fetcher.Analysis{Text: text, Sources: []string{"Reuters"}}, nil
}

type memorySamples struct {
	samples []storage.MarketSample
}

func (m *memorySamples) UpsertMarketSample(_ context.Context, s storage.MarketSample) error {
	m.samples = append(m.samples, s)
	return nil
}

func (m *memorySamples) ListSamplesBetween(context.Context, time.Time, time.Time) ([]storage.MarketSample, error) {
	return m.samples, nil
}

func (m *memorySamples) ListRecentSamples(context.Context, int) ([]storage.MarketSample, error) {
	return m.samples, nil
}

func (m *memorySamples) CountSamples(context.Context) (int64, error) {
	return int64(len(m.samples)), nil
}

type memoryAlerts struct {
	pruned []time.Time
}

func (m *memoryAlerts) InsertAlert(_ context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	return a, nil
}

func (m *memoryAlerts) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (m *memoryAlerts) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.pruned = append(m.pruned, olderThan)
	return 3, nil
}

type stubSampler struct {
	hw       remote.HardwareSample
	hwErr    error
	disks    []remote.DiskUsage
	diskErr  error
	statuses map[string]remote.ServiceStatus
	svcErr   error
}

func (s *stubSampler) Hardware(context.Context) (remote.HardwareSample, error) {
	return s.hw, s.hwErr
}

func (s *stubSampler) Disks(context.Context, []string) ([]remote.DiskUsage, error) {
	return s.disks, s.diskErr
}

func (s *stubSampler) Services(context.Context, []string) (map[string]remote.ServiceStatus, error) {
	return s.statuses, s.svcErr
}

func (s *stubSampler) setCPU(pct float64) {
	s.hw = remote.HardwareSample{CPUPct: pct, HasCPU: true, Cores: 4}
	s.hwErr = nil
}

type stubLightning struct {
	peers       []lightning.Peer
	peersErr    error
	channels    []lightning.Channel
	invoices    []lightning.Invoice
	aliases     map[string]string
	info        lightning.Info
	balance     lightning.Balance
	aliasLookup int
}

func (s *stubLightning) Peers(context.Context) ([]lightning.Peer, error) { return s.peers, s.peersErr }

func (s *stubLightning) Channels(context.Context) ([]lightning.Channel, error) { return s.channels, nil }

func (s *stubLightning) Invoices(context.Context) ([]lightning.Invoice, error) { return s.invoices, nil }

func (s *stubLightning) NodeAlias(_ context.Context, pk string) (string, error) {
	s.aliasLookup++
	return s.aliases[pk], nil
}

func (s *stubLightning) Info(context.Context) (lightning.Info, error) { return s.info, nil }

func (s *stubLightning) WalletBalance(context.Context) (lightning.Balance, error) {
	return s.balance, nil
}

func TestRunWithoutMonitors(t *testing.T) {
	svc := New(testConfig(), nil, nil, nil, fakeclock.NewFakeClock(t0), zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("want error when nothing is configured")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := fakeclock.NewFakeClock(t0)
	router := &captureRouter{}
	sampler := &stubSampler{statuses: map[string]remote.ServiceStatus{"lnd": remote.StatusInactive}}
	sampler.setCPU(10)
	host := NewHostMonitor(testConfig(), sampler, router, nil, clk, zerolog.Nop())
	svc := New(testConfig(), nil, host, nil, clk, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(router.withKey("service:lnd")) == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate host tick did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestEmitterCountsSuppressed(t *testing.T) {
	router := &captureRouter{}
	e := newEmitter(nil, router, zerolog.Nop())
	ev := alerting.NewEvent(alerting.SeverityInfo, "fee", "x", t0)
	if !e.emit(context.Background(), ev, time.Minute) {
		t.Fatal("first emission must pass")
	}
	ev.Timestamp = t0.Add(30 * time.Second)
	if e.emit(context.Background(), ev, time.Minute) {
		t.Fatal("second emission inside the window must be held")
	}
	if n := len(router.all()); n != 1 {
		t.Fatalf("want 1 routed event, got %d", n)
	}
}

func TestFormatting(t *testing.T) {
	cases := []struct{ got, want string }{
		{groupThousands(decimal.RequireFromString("64250.5"), 2), "64,250.50"},
		{groupThousands(decimal.RequireFromString("-1500"), 0), "-1,500"},
		{groupThousands(decimal.RequireFromString("999"), 0), "999"},
		{groupThousands(decimal.RequireFromString("1234567"), 0), "1,234,567"},
		{sats(21000), "21,000"},
		{spanText(120 * time.Minute), "2 hours"},
		{spanText(3 * time.Minute), "3 min"},
		{escapeMarkdown("my_node*"), `my\_node\*`},
		{rate(12.5), "12.5"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}
