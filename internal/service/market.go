package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/fetcher"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/state"
	"nodesentinel/internal/storage"
)

// Alert keys owned by the market loop.
const (
	KeyFee              = "fee"
	KeyVolatility       = "price.volatility"
	KeyVolatilityDetail = "price.volatility.analysis"
	KeyMacro            = "macro"
)

const maintenanceInterval = 24 * time.Hour

// MarketDeps are the collaborators of the market loop. Analyst, Samples,
// Alerts and Locker may be nil.
type MarketDeps struct {
	Fees    fetcher.FeeSource
	Prices  fetcher.PriceSource
	Analyst fetcher.Analyst
	Samples storage.MarketSampleStore
	Alerts  storage.AlertStore
	Locker  storage.AdvisoryLocker
}

// MarketMonitor watches fee levels, price excursions and the macro report.
type MarketMonitor struct {
	deps    MarketDeps
	emitter *emitter
	clock   clock.Clock
	logger  zerolog.Logger

	cooldown  time.Duration
	retention time.Duration
	lookback  time.Duration
	lockKey   int64
	feeSpan   time.Duration

	fee        *state.Hysteresis
	feeHistory *state.RollingHistory[float64]
	prices     *state.RollingHistory[decimal.Decimal]
	volatility *state.Volatility

	macro         *state.PeriodicGate
	macroQuery    string
	macroMarkers  []string
	macroCooldown time.Duration
	maintenance   *state.PeriodicGate

	followUps sync.WaitGroup
}

// NewMarketMonitor builds the market loop. The macro report needs an Analyst.
func NewMarketMonitor(cfg *config.Config, deps MarketDeps, router Router, gate *state.CooldownGate, clk clock.Clock, logger zerolog.Logger) *MarketMonitor {
	if clk == nil {
		clk = clock.NewClock()
	}
	th := cfg.Thresholds
	interval := cfg.Scheduler.MarketInterval
	logger = logger.With().Str("component", "market_monitor").Logger()

	m := &MarketMonitor{
		deps:      deps,
		emitter:   newEmitter(gate, router, logger),
		clock:     clk,
		logger:    logger,
		cooldown:  cfg.Alerting.Cooldown,
		retention: cfg.Alerting.Retention,
		lookback:  th.Price.Lookback,
		lockKey:   cfg.Database.AdvisoryLockKey,
		feeSpan:   cfg.Market.FeeHistory,
		fee: state.NewHysteresis(state.Thresholds{
			Low:    th.Fee.Low,
			Medium: th.Fee.Medium,
			High:   th.Fee.High,
		}),
		feeHistory: state.NewRollingHistory[float64](cfg.Market.FeeHistory, state.CapacityFor(cfg.Market.FeeHistory, interval)),
		prices:     state.NewRollingHistory[decimal.Decimal](th.Price.History, state.CapacityFor(th.Price.History, interval)),
		volatility: state.NewVolatility(state.VolatilityConfig{
			Low:      decimal.NewFromFloat(th.Price.ChangeLow),
			High:     decimal.NewFromFloat(th.Price.ChangeHigh),
			Cooldown: th.Price.VolatilityCooldown,
			Lookback: th.Price.Lookback,
		}),
		maintenance: state.NewPeriodicGate(maintenanceInterval),
	}
	if cfg.Macro.Enabled && deps.Analyst != nil {
		m.macro = state.NewPeriodicGate(cfg.Macro.Cooldown)
		m.macroQuery = cfg.Macro.Query
		m.macroMarkers = cfg.Macro.SkipMarkers
		m.macroCooldown = cfg.Macro.Cooldown
	}
	return m
}

// Tick runs one market cycle for the given bucket.
func (m *MarketMonitor) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	now := m.clock.Now()
	sample := storage.MarketSample{Bucket: bucket}
	var problems []string

	if fees, err := m.deps.Fees.FetchFees(ctx); err != nil {
		sampleFailed(m.logger, "mempool", err)
		problems = append(problems, err.Error())
	} else {
		m.observeFees(ctx, fees, now)
		sample.FastestFee = &fees.Fastest
		sample.HalfHourFee = &fees.HalfHour
		sample.HourFee = &fees.Hour
		sample.FeeLevel = m.fee.Level().String()
	}

	if prices, err := m.deps.Prices.FetchPrices(ctx); err != nil {
		sampleFailed(m.logger, "coingecko", err)
		problems = append(problems, err.Error())
	} else {
		m.observePrice(ctx, prices.USD, now)
		sample.PriceUSD = decimal.NewNullDecimal(prices.USD)
		sample.PriceEUR = decimal.NewNullDecimal(prices.EUR)
	}

	m.checkMacro(ctx, now)
	m.persist(ctx, sample, problems)
	m.prune(ctx, now)

	m.logger.Info().Time("bucket", bucket).
		Str("fee_level", m.fee.Level().String()).
		Int("problems", len(problems)).
		Msg("market sample processed")
	return nil
}

// Wait blocks until pending analysis follow-ups are done.
func (m *MarketMonitor) Wait() { m.followUps.Wait() }

// FeeLevel returns the current fee band.
func (m *MarketMonitor) FeeLevel() state.Level { return m.fee.Level() }

func (m *MarketMonitor) observeFees(ctx context.Context, fees fetcher.Fees, now time.Time) {
	metrics.FastestFee.Set(fees.Fastest)
	m.feeHistory.Append(fees.Fastest, now)

	warm := m.fee.Initialized()
	level, changed := m.fee.Observe(fees.Fastest)
	if !warm {
		m.logger.Info().Str("level", level.String()).Float64("fastest_fee", fees.Fastest).Msg("fee state initialised")
		if m.macro != nil {
			m.macro.Start(now)
		}
	}
	if !changed {
		return
	}

	ev := alerting.NewEvent(feeSeverity(level, fees.Fastest, m.fee.Thresholds()), KeyFee, m.feeMessage(level, fees), now)
	m.emitter.emit(ctx, ev, m.cooldown)
}

func (m *MarketMonitor) feeMessage(level state.Level, fees fetcher.Fees) string {
	var head, advice string
	switch level {
	case state.LevelHigh:
		head, advice = "🚨 *STATE CHANGE! HIGH FEES!*", "*Avoid non-urgent on-chain transactions.*"
	case state.LevelMedium:
		head, advice = "🔶 *STATE CHANGE! MEDIUM FEES!*", "Fees are acceptable, but not cheap."
	case state.LevelLow:
		head, advice = "⬇️ *STATE CHANGE! LOW FEES!*", "*Excellent time for on-chain consolidation or opening channels.*"
	default:
		head, advice = "✅ *STATE CHANGE! FEES NORMALIZED!*", "On-chain fees are back to usual levels."
	}

	msg := fmt.Sprintf("%s (%s sat/vB). %s\n30 min: %s | 1 hr: %s sat/vB",
		head, rate(fees.Fastest), advice, rate(fees.HalfHour), rate(fees.Hour))
	if lo, hi, ok := m.feeRange(); ok {
		msg += fmt.Sprintf("\nLast %s range: %s-%s sat/vB", spanText(m.feeSpan), rate(lo), rate(hi))
	}
	return msg
}

func (m *MarketMonitor) feeRange() (lo, hi float64, ok bool) {
	points := m.feeHistory.Points()
	if len(points) < 2 {
		return 0, 0, false
	}
	lo, hi = points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	return lo, hi, true
}

func feeSeverity(level state.Level, fastest float64, th state.Thresholds) alerting.Severity {
	switch level {
	case state.LevelHigh:
		if th.High > 0 && fastest > th.High {
			return alerting.SeverityCritical
		}
		return alerting.SeverityWarning
	case state.LevelNormal:
		return alerting.SeverityRecovery
	default:
		return alerting.SeverityInfo
	}
}

func (m *MarketMonitor) observePrice(ctx context.Context, usd decimal.Decimal, now time.Time) {
	metrics.PriceUSD.Set(usd.InexactFloat64())
	m.prices.Append(usd, now)

	if !m.fee.Initialized() {
		return
	}
	exc := m.volatility.Evaluate(usd, m.prices, now)
	if exc == nil {
		return
	}

	analysing := m.deps.Analyst != nil
	severity := alerting.SeverityWarning
	if exc.Magnitude == state.MagnitudeMajor {
		severity = alerting.SeverityCritical
	}
	ev := alerting.NewEvent(severity, KeyVolatility, excursionMessage(exc, m.lookback, analysing), now)
	if !m.emitter.emit(ctx, ev, m.cooldown) || !analysing {
		return
	}
	m.followUp(ctx, excursionQuery(exc, m.lookback), now)
}

// followUp posts the analysis stamped with the time of the alert it explains.
func (m *MarketMonitor) followUp(ctx context.Context, query string, at time.Time) {
	m.followUps.Add(1)
	go func() {
		defer m.followUps.Done()
		text := fetcher.UnavailableText
		res, err := m.deps.Analyst.Analyze(ctx, query)
		if err != nil {
			sampleFailed(m.logger, "analysis", err)
		} else {
			text = res.Render()
		}
		ev := alerting.NewEvent(alerting.SeverityInfo, KeyVolatilityDetail, text, at)
		m.emitter.emit(ctx, ev, m.cooldown)
	}()
}

func excursionMessage(exc *state.Excursion, lookback time.Duration, analysing bool) string {
	head, verb := "🚀 *%s IMPETUS!*", "rose"
	if exc.Direction == state.DirectionFall {
		head, verb = "🚨 *%s CRASH!*", "fell"
	}
	msg := fmt.Sprintf(head+" BTC %s by *$%s* (%s%%) to *$%s* in %s.",
		exc.Magnitude, verb,
		groupThousands(exc.Change.Abs(), 0),
		exc.ChangePct.Abs().StringFixed(2),
		groupThousands(exc.Current, 0),
		spanText(lookback))
	if analysing {
		msg += " Assistant is seeking the news..."
	}
	return msg
}

func excursionQuery(exc *state.Excursion, lookback time.Duration) string {
	verb := "rose"
	if exc.Direction == state.DirectionFall {
		verb = "fell"
	}
	return fmt.Sprintf("BTC %s by $%s (%s%%) in %s. Analyze the causes.",
		verb, groupThousands(exc.Change.Abs(), 0), exc.ChangePct.Abs().StringFixed(2), spanText(lookback))
}

func (m *MarketMonitor) checkMacro(ctx context.Context, now time.Time) {
	if m.macro == nil || !m.fee.Initialized() || !m.macro.Due(now) {
		return
	}
	m.macro.Fired(now)

	res, err := m.deps.Analyst.Analyze(ctx, m.macroQuery)
	if err != nil {
		sampleFailed(m.logger, "analysis", err)
		return
	}
	if !state.Novel(res.Text, m.macroMarkers) {
		m.logger.Info().Msg("macro report has nothing new, skipped")
		return
	}
	ev := alerting.NewEvent(alerting.SeverityInfo, KeyMacro, "📰 *PERIODIC MACRO REPORT:*\n"+res.Render(), now)
	m.emitter.emit(ctx, ev, m.macroCooldown)
}

func (m *MarketMonitor) persist(ctx context.Context, sample storage.MarketSample, problems []string) {
	if m.deps.Samples == nil {
		return
	}
	switch len(problems) {
	case 0:
		sample.Status = storage.StatusOK
	case 1:
		sample.Status = storage.StatusPartial
	default:
		sample.Status = storage.StatusErrored
	}
	if len(problems) > 0 {
		msg := strings.Join(problems, "; ")
		sample.Error = &msg
	}
	if err := m.deps.Samples.UpsertMarketSample(ctx, sample); err != nil {
		m.logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("failed to upsert sample")
	}
}

func (m *MarketMonitor) prune(ctx context.Context, now time.Time) {
	if m.deps.Alerts == nil || m.retention <= 0 || !m.maintenance.Due(now) {
		return
	}
	m.maintenance.Fired(now)
	n, err := m.deps.Alerts.DeleteAlertsBefore(ctx, now.Add(-m.retention))
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to prune alert records")
		return
	}
	m.logger.Info().Int64("deleted", n).Dur("retention", m.retention).Msg("alert records pruned")
}

func (m *MarketMonitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.deps.Locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func rate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
