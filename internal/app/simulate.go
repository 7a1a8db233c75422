package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/fetcher"
	"nodesentinel/internal/service"
)

// SimulateOptions describe a synthetic price move.
type SimulateOptions struct {
	From decimal.Decimal
	To   decimal.Decimal
	Fee  float64
}

// SimulateAlert replays a price move from opts.From to opts.To across the
// configured lookback window through the market monitor and the alert sink.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}
	router := alerting.NewRouter(notifier, nil, alerting.RouterOptions{
		Channel: a.Config.Alerting.Channel,
		Timeout: a.Config.Alerting.Telegram.Timeout,
	}, a.Logger)

	return a.simulate(ctx, opts, router)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions, router service.Router) error {
	cfg := *a.Config
	cfg.Macro.Enabled = false
	cfg.Database.AdvisoryLockKey = 0

	deps := service.MarketDeps{
		Fees:   staticFees{fees: fetcher.Fees{Fastest: opts.Fee, HalfHour: opts.Fee, Hour: opts.Fee}},
		Prices: &scriptedPrices{values: []decimal.Decimal{opts.From, opts.To}},
	}
	if analyst := a.newAnalyst(); analyst != nil {
		deps.Analyst = analyst
	}

	// the move spans one market interval more than the lookback
	span := cfg.Thresholds.Price.Lookback + cfg.Scheduler.MarketInterval
	clk := fakeclock.NewFakeClock(time.Now().UTC().Add(-span))
	monitor := service.NewMarketMonitor(&cfg, deps, router, nil, clk, a.Logger)

	if err := monitor.Tick(ctx, clk.Now()); err != nil {
		return err
	}
	clk.Increment(span)
	if err := monitor.Tick(ctx, clk.Now()); err != nil {
		return err
	}
	monitor.Wait()
	return nil
}

type staticFees struct {
	fees fetcher.Fees
}

func (s staticFees) FetchFees(context.Context) (fetcher.Fees, error) {
	return s.fees, nil
}

type scriptedPrices struct {
	mu     sync.Mutex
	values []decimal.Decimal
}

func (s *scriptedPrices) FetchPrices(context.Context) (fetcher.Prices, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usd := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return fetcher.Prices{USD: usd}, nil
}

var _ fetcher.FeeSource = staticFees{}
var _ fetcher.PriceSource = (*scriptedPrices)(nil)
