package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	AlertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesentinel_alerts_emitted_total",
		Help: "Alerts handed to the notification sink, by key family",
	}, []string{"family"})

	AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesentinel_alerts_suppressed_total",
		Help: "Alert decisions held back by the cooldown gate, by key family",
	}, []string{"family"})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodesentinel_delivery_failures_total",
		Help: "Alerts lost because the sink was unreachable",
	})

	SamplingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesentinel_sampling_failures_total",
		Help: "Failed sampling attempts by source and failure kind",
	}, []string{"source", "kind"})

	FastestFee = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodesentinel_fastest_fee_sat_vb",
		Help: "Last sampled next-block fee rate",
	})

	PriceUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodesentinel_btc_price_usd",
		Help: "Last sampled BTC/USD spot price",
	})

	HostUsage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodesentinel_host_usage",
		Help: "Last sampled host readings (cpu_pct, ram_pct, load_per_core)",
	}, []string{"metric"})

	DiskUsedPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodesentinel_disk_used_percent",
		Help: "Disk usage per mount point",
	}, []string{"mount"})

	ServiceActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodesentinel_service_active",
		Help: "1 when the systemd unit reports active",
	}, []string{"service"})

	EntityCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodesentinel_entities",
		Help: "Size of the last entity snapshot (peers, channels, settled_invoices)",
	}, []string{"collection"})

	BotCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesentinel_bot_commands_total",
		Help: "Operator commands handled, by command and outcome",
	}, []string{"command", "outcome"})
)

func init() {
	prometheus.MustRegister(
		AlertsEmitted, AlertsSuppressed, DeliveryFailures, SamplingFailures,
		FastestFee, PriceUSD, HostUsage, DiskUsedPercent, ServiceActive, EntityCount, BotCommands,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
