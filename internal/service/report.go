package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodesentinel/internal/fetcher"
	"nodesentinel/internal/lightning"
	"nodesentinel/internal/remote"
)

// ReporterDeps are the collaborators on-demand reports read from. Any of
// them may be nil; the matching section then says it is not configured.
type ReporterDeps struct {
	Host      remote.Sampler
	Control   remote.Controller
	Fees      fetcher.FeeSource
	Prices    fetcher.PriceSource
	Chain     fetcher.ChainSource
	Node      fetcher.NodeSource
	Lightning lightning.Client
	Aliases   *lightning.AliasResolver
	Mounts    []string
	Units     []string
}

// Reporter renders one-shot chat reports of the node and the market.
type Reporter struct {
	deps   ReporterDeps
	logger zerolog.Logger
}

// NewReporter builds a reporter.
func NewReporter(deps ReporterDeps, logger zerolog.Logger) *Reporter {
	logger = logger.With().Str("component", "reporter").Logger()
	if deps.Lightning != nil && deps.Aliases == nil {
		deps.Aliases = lightning.NewAliasResolver(deps.Lightning, 0, logger)
	}
	return &Reporter{deps: deps, logger: logger}
}

const notConfigured = "not configured"

// Status combines the full node, LND and hardware sections.
func (r *Reporter) Status(ctx context.Context) string {
	return strings.Join([]string{
		r.bitcoinSection(ctx),
		r.lightningSection(ctx),
		r.Hardware(ctx),
	}, "\n\n")
}

func (r *Reporter) bitcoinSection(ctx context.Context) string {
	if r.deps.Node == nil {
		return "₿ Bitcoin Core: " + notConfigured
	}
	info, err := r.deps.Node.ChainInfo(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("bitcoind status unavailable")
		return fmt.Sprintf("₿ Bitcoin Core error: %v", err)
	}
	synced := "no"
	if info.Synced() {
		synced = "yes"
	}
	lines := []string{
		"₿ *Bitcoin Core*",
		fmt.Sprintf("Chain: %s | Blocks: *%d* / %d", info.Chain, info.Blocks, info.Headers),
		fmt.Sprintf("Synced: %s (%.2f%%)", synced, info.VerificationProgress*100),
	}
	if net, err := r.deps.Node.NetworkInfo(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Connections: *%d* | %s", net.Connections, escapeMarkdown(net.Subversion)))
	}
	return strings.Join(lines, "\n")
}

func (r *Reporter) lightningSection(ctx context.Context) string {
	if r.deps.Lightning == nil {
		return "⚡ LND: " + notConfigured
	}
	info, err := r.deps.Lightning.Info(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("lnd status unavailable")
		return fmt.Sprintf("⚡ LND error: %v", err)
	}
	lines := []string{
		"⚡ *LND Status*",
		fmt.Sprintf("Alias: *%s*", escapeMarkdown(info.Alias)),
		fmt.Sprintf("Synced: %t", info.SyncedToChain),
		fmt.Sprintf("Peers: *%d* | Active channels: %d", info.NumPeers, info.ActiveChannels),
	}
	if bal, err := r.deps.Lightning.WalletBalance(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Balance: *%s sats*", sats(bal.Total)))
	}
	return strings.Join(lines, "\n")
}

// Hardware reports CPU, memory, load and disks of the node.
func (r *Reporter) Hardware(ctx context.Context) string {
	if r.deps.Host == nil {
		return "💾 Hardware: " + notConfigured
	}
	var b strings.Builder
	b.WriteString("--- 💾 Hardware NODE ---\n")
	hw, err := r.deps.Host.Hardware(ctx)
	if err != nil {
		fmt.Fprintf(&b, "⚠️ Hardware sampling failed: %v\n", err)
	} else {
		b.WriteString(hw.Report())
		b.WriteString("\n")
	}

	b.WriteString("Disks:\n")
	if len(r.deps.Mounts) == 0 {
		b.WriteString("- none watched")
		return b.String()
	}
	disks, err := r.deps.Host.Disks(ctx, r.deps.Mounts)
	if err != nil {
		fmt.Fprintf(&b, "⚠️ Disk sampling failed: %v", err)
		return b.String()
	}
	lines := make([]string, 0, len(disks))
	for _, d := range disks {
		lines = append(lines, fmt.Sprintf("- %s: *%.0f%%* (%s / %s)",
			d.Mount, d.UsedPct, remote.HumanBytes(d.UsedBytes), remote.HumanBytes(d.TotalBytes)))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// Mempool reports the recommended fee rates.
func (r *Reporter) Mempool(ctx context.Context) string {
	if r.deps.Fees == nil {
		return "⛽ Fees: " + notConfigured
	}
	fees, err := r.deps.Fees.FetchFees(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ Error fetching fees: %v", err)
	}
	return fmt.Sprintf("⛽ Current mempool fees (sat/vB):\n- Fast (next block): *%s*\n- Medium (30 min): *%s*\n- Low (1 hr): *%s*",
		rate(fees.Fastest), rate(fees.HalfHour), rate(fees.Hour))
}

// Price reports the BTC spot price.
func (r *Reporter) Price(ctx context.Context) string {
	if r.deps.Prices == nil {
		return "💸 Price: " + notConfigured
	}
	p, err := r.deps.Prices.FetchPrices(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ Error fetching prices: %v", err)
	}
	return fmt.Sprintf("💸 Current Bitcoin prices:\n- BTC/EUR: *€%s*\n- BTC/USD: *$%s*",
		groupThousands(p.EUR, 2), groupThousands(p.USD, 2))
}

// BTCInfo reports the difficulty adjustment estimate.
func (r *Reporter) BTCInfo(ctx context.Context) string {
	if r.deps.Chain == nil {
		return "📊 On-chain info: " + notConfigured
	}
	d, err := r.deps.Chain.FetchDifficulty(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ Error fetching on-chain data: %v", err)
	}
	lines := []string{
		"📊 *Bitcoin On-Chain Analysis*",
		"----------------------------------------",
		fmt.Sprintf("⚙️ Adjustment progress: *%.2f%%*", d.ProgressPercent),
		fmt.Sprintf("🧱 Remaining blocks: *%d*", d.RemainingBlocks),
		fmt.Sprintf("📈 Estimated change: *%+.2f%%*", d.DifficultyChange),
	}
	if d.EstimatedRetarget > 0 {
		at := time.UnixMilli(d.EstimatedRetarget).UTC()
		lines = append(lines, fmt.Sprintf("⏳ Next adjustment estimate: _%s_", at.Format("02-01-2006 15:04 UTC")))
	}
	if r.deps.Node != nil {
		if height, err := r.deps.Node.BlockCount(ctx); err == nil {
			lines = append(lines, fmt.Sprintf("🔢 Local block height: *%d*", height))
		}
	}
	if d.ProgressPercent > 80 {
		lines = append(lines, "", "🔔 _Note: the difficulty adjustment is imminent (over 80%)._")
	}
	return strings.Join(lines, "\n")
}

// Diagnose reports the systemd Active: line of every watched unit.
func (r *Reporter) Diagnose(ctx context.Context) string {
	if r.deps.Control == nil {
		return "🩺 Diagnostics: " + notConfigured
	}
	var b strings.Builder
	b.WriteString("🩺 *Remote Node Services Diagnostics*\n")
	b.WriteString("---------------------------------------")
	for _, unit := range r.deps.Units {
		out, err := r.deps.Control.Diagnose(ctx, unit)
		if err != nil {
			fmt.Fprintf(&b, "\n%s: %v", unitLabel(unit), err)
			continue
		}
		status := strings.TrimSpace(strings.Replace(out, "Active:", "", 1))
		fmt.Fprintf(&b, "\n%s: *%s*", unitLabel(unit), status)
	}
	return b.String()
}

// Peers lists the connected peers by alias.
func (r *Reporter) Peers(ctx context.Context) string {
	if r.deps.Lightning == nil {
		return "🔗 Peers: " + notConfigured
	}
	peers, err := r.deps.Lightning.Peers(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ LND error: %v", err)
	}
	if len(peers) == 0 {
		return "No peers connected"
	}
	lines := make([]string, 0, len(peers)+1)
	lines = append(lines, "🔗 Active peers:")
	for _, p := range peers {
		lines = append(lines, fmt.Sprintf("- *%s* (%s) %s",
			escapeMarkdown(r.deps.Aliases.Display(ctx, p.PubKey)), lightning.ShortKey(p.PubKey), p.Address))
	}
	return strings.Join(lines, "\n")
}

// invoiceReportSize caps the /invoices listing.
const invoiceReportSize = 10

// Channels lists the open channels with their capacity.
func (r *Reporter) Channels(ctx context.Context) string {
	if r.deps.Lightning == nil {
		return "🔔 Channels: " + notConfigured
	}
	channels, err := r.deps.Lightning.Channels(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ LND error: %v", err)
	}
	if len(channels) == 0 {
		return "No open channels"
	}
	lines := make([]string, 0, len(channels)+1)
	lines = append(lines, "🔔 Open channels:")
	for _, c := range channels {
		state := "🟢"
		if !c.Active {
			state = "🔴"
		}
		lines = append(lines, fmt.Sprintf("- %s *%s* (%s sats, local %s sats)", state,
			escapeMarkdown(r.deps.Aliases.Display(ctx, c.RemotePubKey)), sats(c.Capacity), sats(c.LocalBalance)))
	}
	return strings.Join(lines, "\n")
}

// Invoices lists the most recent invoices with their settlement state.
func (r *Reporter) Invoices(ctx context.Context) string {
	if r.deps.Lightning == nil {
		return "💰 Invoices: " + notConfigured
	}
	invoices, err := r.deps.Lightning.Invoices(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ LND error: %v", err)
	}
	if len(invoices) == 0 {
		return "No invoices"
	}
	if len(invoices) > invoiceReportSize {
		invoices = invoices[len(invoices)-invoiceReportSize:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💰 Latest invoices (max %d):", invoiceReportSize)
	for _, inv := range invoices {
		state := "⏳"
		if inv.Settled {
			state = "✅"
		}
		memo := inv.Memo
		if memo == "" {
			memo = "no memo"
		}
		fmt.Fprintf(&b, "\n- *%s*: %s sats %s", escapeMarkdown(memo), sats(inv.ValueSat), state)
	}
	return b.String()
}

// NetScan ping-sweeps a /24 on the node's LAN and lists the hosts that answered.
func (r *Reporter) NetScan(ctx context.Context, subnet string) string {
	if r.deps.Control == nil {
		return "🔍 Network scan: " + notConfigured
	}
	if err := remote.ValidSubnet(subnet); err != nil {
		return "⚠️ Usage: /netscan <subnet base> (e.g. /netscan 10.21.10)"
	}
	hosts, err := r.deps.Control.Scan(ctx, subnet)
	if err != nil {
		r.logger.Error().Err(err).Str("subnet", subnet).Msg("network scan failed")
		return fmt.Sprintf("❌ *SCAN FAILED!* %v", err)
	}
	if len(hosts) == 0 {
		return fmt.Sprintf("🔍 *SCAN COMPLETE:* no active hosts on *%s.x*.", subnet)
	}
	lines := make([]string, 0, len(hosts)+1)
	lines = append(lines, fmt.Sprintf("✅ *SCAN COMPLETE:* %d active hosts on *%s.x*:", len(hosts), subnet))
	for _, h := range hosts {
		lines = append(lines, "- "+h)
	}
	return strings.Join(lines, "\n")
}

// Restart restarts unit and reports the outcome.
func (r *Reporter) Restart(ctx context.Context, unit string) string {
	if r.deps.Control == nil {
		return "❌ Restart: " + notConfigured
	}
	if _, err := r.deps.Control.Restart(ctx, unit); err != nil {
		r.logger.Error().Err(err).Str("unit", unit).Msg("restart failed")
		return fmt.Sprintf("❌ *RESTART FAILED!* Check status with /diagnose. Error: %v", err)
	}
	r.logger.Info().Str("unit", unit).Msg("unit restarted")
	return fmt.Sprintf("✅ *%s RESTARTED!* Check status with /diagnose in a few seconds.", strings.ToUpper(unitName(unit)))
}
