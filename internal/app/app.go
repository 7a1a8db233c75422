package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/auth"
	"nodesentinel/internal/bot"
	"nodesentinel/internal/config"
	"nodesentinel/internal/fetcher"
	"nodesentinel/internal/lightning"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/remote"
	"nodesentinel/internal/service"
	"nodesentinel/internal/state"
	"nodesentinel/internal/storage"
	"nodesentinel/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// collaborators are the adapters the monitors and the reporter read from.
// Optional ones stay nil when not configured.
type collaborators struct {
	market    *fetcher.Market
	analyst   fetcher.Analyst
	node      *fetcher.Bitcoind
	sampler   remote.Sampler
	control   remote.Controller
	lightning lightning.Client
	aliases   *lightning.AliasResolver
	closers   []func()
}

func (c *collaborators) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (a *App) newCollaborators() (*collaborators, error) {
	cfg := a.Config
	c := &collaborators{
		market: fetcher.NewMarket(fetcher.MarketOptions{
			MempoolBaseURL: cfg.Market.MempoolBaseURL,
			PriceURL:       cfg.Market.PriceURL,
			Timeout:        cfg.Market.RequestTimeout,
			UserAgent:      cfg.Market.UserAgent,
		}, a.Logger),
	}

	if analyst := a.newAnalyst(); analyst != nil {
		c.analyst = analyst
	}

	if cfg.Bitcoind.RPCURL != "" {
		c.node = fetcher.NewBitcoind(fetcher.BitcoindOptions{
			RPCURL:   cfg.Bitcoind.RPCURL,
			User:     cfg.Bitcoind.RPCUser,
			Password: cfg.Bitcoind.RPCPassword,
			Timeout:  cfg.Bitcoind.Timeout,
		}, a.Logger)
		c.closers = append(c.closers, c.node.Close)
	}

	switch cfg.Host.Backend {
	case "ssh":
		runner, err := remote.NewSSHRunner(remote.SSHOptions{
			User:           cfg.SSH.User,
			Host:           cfg.SSH.Host,
			Port:           cfg.SSH.Port,
			KeyPath:        cfg.SSH.KeyPath,
			KnownHosts:     cfg.SSH.KnownHosts,
			ConnectTimeout: cfg.SSH.ConnectTimeout,
			CommandTimeout: cfg.SSH.CommandTimeout,
		}, a.Logger)
		if err != nil {
			c.close()
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = runner.Close() })
		sampler := remote.NewCommandSampler(runner, cfg.Host.DefaultCores)
		c.sampler, c.control = sampler, sampler
	case "local":
		sampler := remote.NewLocalSampler(remote.NewExecRunner(cfg.SSH.CommandTimeout, a.Logger), cfg.Host.DefaultCores)
		c.sampler, c.control = sampler, sampler
	}

	if cfg.Lightning.Enabled {
		lnd, err := lightning.NewLND(lightning.LNDOptions{
			RESTURL:      cfg.Lightning.RESTURL,
			TLSCertPath:  cfg.Lightning.TLSCertPath,
			MacaroonPath: cfg.Lightning.MacaroonPath,
			Timeout:      cfg.Lightning.Timeout,
			InvoiceLimit: cfg.Lightning.InvoiceLimit,
		}, a.Logger)
		if err != nil {
			c.close()
			return nil, err
		}
		c.lightning = lnd
		c.aliases = lightning.NewAliasResolver(lnd, cfg.Lightning.AliasTTL, a.Logger)
	}

	return c, nil
}

func (a *App) newAnalyst() *fetcher.Gemini {
	cfg := a.Config.Analysis
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	return fetcher.NewGemini(fetcher.AnalysisOptions{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.Timeout,
	}, a.Logger)
}

func (a *App) newReporter(c *collaborators) *service.Reporter {
	deps := service.ReporterDeps{
		Fees:    c.market,
		Prices:  c.market,
		Chain:   c.market,
		Host:    c.sampler,
		Control: c.control,
		Aliases: c.aliases,
		Mounts:  a.Config.Host.Mounts,
		Units:   a.Config.Host.Services,
	}
	if c.node != nil {
		deps.Node = c.node
	}
	if c.lightning != nil {
		deps.Lightning = c.lightning
	}
	return service.NewReporter(deps, a.Logger)
}

func (a *App) newTelegram() *alerting.TelegramNotifier {
	cfg := a.Config.Alerting.Telegram
	if cfg.BotToken == "" {
		return nil
	}
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:  cfg.BotToken,
		ChatID:    cfg.ChatID,
		BaseURL:   cfg.APIBase,
		ParseMode: cfg.ParseMode,
		Timeout:   cfg.Timeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	if tg := a.newTelegram(); tg != nil {
		return tg
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	store.WithChannel(a.Config.Alerting.Channel)
	return store, store.Close, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	collab, err := a.newCollaborators()
	if err != nil {
		return err
	}
	defer collab.close()

	var recorder alerting.Recorder
	deps := service.MarketDeps{Fees: collab.market, Prices: collab.market, Analyst: collab.analyst}
	if store != nil {
		recorder = store
		deps.Samples, deps.Alerts, deps.Locker = store, store, store
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert sink enabled; alerts are only logged")
	}
	router := alerting.NewRouter(notifier, recorder, alerting.RouterOptions{
		Channel: a.Config.Alerting.Channel,
		Timeout: a.Config.Alerting.Telegram.Timeout,
	}, a.Logger)

	clk := clock.NewClock()
	gate := state.NewCooldownGate()

	market := service.NewMarketMonitor(a.Config, deps, router, gate, clk, a.Logger)
	var host *service.HostMonitor
	if collab.sampler != nil {
		host = service.NewHostMonitor(a.Config, collab.sampler, router, gate, clk, a.Logger)
	}
	var ln *service.LightningMonitor
	if collab.lightning != nil {
		ln = service.NewLightningMonitor(a.Config, collab.lightning, collab.aliases, router, gate, clk, a.Logger)
	}
	svc := service.New(a.Config, market, host, ln, clk, a.Logger)

	var operator *bot.Bot
	if a.Config.Bot.Enabled {
		if operator, err = a.newBot(collab, clk); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, a.Logger) })
	}
	if operator != nil {
		g.Go(func() error { return operator.Run(gctx) })
	}

	a.Logger.Info().
		Str("version", version.String()).
		Bool("host", host != nil).
		Bool("lightning", ln != nil).
		Bool("bot", operator != nil).
		Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) newBot(c *collaborators, clk clock.Clock) (*bot.Bot, error) {
	tg := a.newTelegram()
	if tg == nil {
		return nil, errors.New("bot.enabled requires alerting.telegram.bot_token")
	}
	restarts := make(map[string]string)
	for _, unit := range a.Config.Host.Services {
		if cmd := service.RestartCommand(unit); cmd != "" {
			restarts[cmd] = unit
		}
	}
	return bot.New(bot.Options{
		BaseURL:     a.Config.Alerting.Telegram.APIBase,
		BotToken:    a.Config.Alerting.Telegram.BotToken,
		PollTimeout: a.Config.Bot.PollTimeout,
		Restarts:    restarts,
	}, tg, a.newReporter(c), auth.Trusted{ID: a.Config.Bot.TrustedChatID}, clk, a.Logger), nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Samples bool
}
