package service

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/lightning"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/state"
)

// LightningMonitor diffs peers, channels and settled invoices between cycles.
type LightningMonitor struct {
	client   lightning.Client
	aliases  *lightning.AliasResolver
	emitter  *emitter
	clock    clock.Clock
	logger   zerolog.Logger
	cooldown time.Duration

	peers    state.Snapshot[string]
	channels state.Snapshot[string]
	invoices state.Snapshot[string]

	// channel point -> remote pubkey of the last snapshot, for closed-channel names
	remotes map[string]string
}

// NewLightningMonitor builds the entity watcher.
func NewLightningMonitor(cfg *config.Config, client lightning.Client, aliases *lightning.AliasResolver, router Router, gate *state.CooldownGate, clk clock.Clock, logger zerolog.Logger) *LightningMonitor {
	if clk == nil {
		clk = clock.NewClock()
	}
	logger = logger.With().Str("component", "lightning_monitor").Logger()
	if aliases == nil {
		aliases = lightning.NewAliasResolver(client, cfg.Lightning.AliasTTL, logger)
	}
	return &LightningMonitor{
		client:   client,
		aliases:  aliases,
		emitter:  newEmitter(gate, router, logger),
		clock:    clk,
		logger:   logger,
		cooldown: cfg.Alerting.Cooldown,
		remotes:  make(map[string]string),
	}
}

// Tick takes one snapshot of every collection. A failed listing leaves that
// collection's previous snapshot in place.
func (l *LightningMonitor) Tick(ctx context.Context, _ time.Time) error {
	l.watchPeers(ctx)
	l.watchChannels(ctx)
	l.watchInvoices(ctx)
	return nil
}

func (l *LightningMonitor) watchPeers(ctx context.Context) {
	peers, err := l.client.Peers(ctx)
	if err != nil {
		sampleFailed(l.logger, "lnd.peers", err)
		return
	}
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.PubKey)
	}
	added, removed, baseline := l.peers.Replace(state.NewSet(ids...))
	metrics.EntityCount.WithLabelValues("peers").Set(float64(l.peers.Len()))
	if baseline {
		l.logger.Info().Int("peers", len(ids)).Msg("peer baseline taken")
		return
	}

	now := l.clock.Now()
	for _, pk := range added {
		msg := fmt.Sprintf("🔗 New peer connected: *%s*", escapeMarkdown(l.aliases.Display(ctx, pk)))
		l.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityInfo, "ln.peer.connected:"+pk, msg, now), l.cooldown)
	}
	for _, pk := range removed {
		msg := fmt.Sprintf("❌ Peer disconnected: *%s*", escapeMarkdown(l.aliases.Display(ctx, pk)))
		l.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityWarning, "ln.peer.disconnected:"+pk, msg, now), l.cooldown)
	}
}

func (l *LightningMonitor) watchChannels(ctx context.Context) {
	channels, err := l.client.Channels(ctx)
	if err != nil {
		sampleFailed(l.logger, "lnd.channels", err)
		return
	}
	ids := make([]string, 0, len(channels))
	remotes := make(map[string]string, len(channels))
	for _, c := range channels {
		ids = append(ids, c.ChannelPoint)
		remotes[c.ChannelPoint] = c.RemotePubKey
	}
	added, removed, baseline := l.channels.Replace(state.NewSet(ids...))
	previous := l.remotes
	l.remotes = remotes
	metrics.EntityCount.WithLabelValues("channels").Set(float64(l.channels.Len()))
	if baseline {
		l.logger.Info().Int("channels", len(ids)).Msg("channel baseline taken")
		return
	}

	now := l.clock.Now()
	for _, cp := range added {
		msg := fmt.Sprintf("🔔 Channel opened with *%s*", escapeMarkdown(l.aliases.Display(ctx, remotes[cp])))
		l.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityInfo, "ln.channel.opened:"+cp, msg, now), l.cooldown)
	}
	for _, cp := range removed {
		name := cp
		if pk := previous[cp]; pk != "" {
			name = fmt.Sprintf("%s (%s)", escapeMarkdown(l.aliases.Display(ctx, pk)), cp)
		}
		msg := fmt.Sprintf("🔕 Channel closed: *%s*", name)
		l.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityWarning, "ln.channel.closed:"+cp, msg, now), l.cooldown)
	}
}

func (l *LightningMonitor) watchInvoices(ctx context.Context) {
	invoices, err := l.client.Invoices(ctx)
	if err != nil {
		sampleFailed(l.logger, "lnd.invoices", err)
		return
	}
	var ids []string
	values := make(map[string]int64)
	for _, inv := range invoices {
		if !inv.Settled {
			continue
		}
		ids = append(ids, inv.Hash)
		values[inv.Hash] = inv.ValueSat
	}
	added, _, baseline := l.invoices.Replace(state.NewSet(ids...))
	metrics.EntityCount.WithLabelValues("settled_invoices").Set(float64(l.invoices.Len()))
	if baseline {
		l.logger.Info().Int("settled_invoices", len(ids)).Msg("invoice baseline taken")
		return
	}

	now := l.clock.Now()
	for _, hash := range added {
		msg := fmt.Sprintf("💰 Invoice settled: *%s sats*", sats(values[hash]))
		l.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityInfo, "ln.invoice:"+hash, msg, now), l.cooldown)
	}
}
