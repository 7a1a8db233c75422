package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nodesentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Market     MarketConfig     `mapstructure:"market"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Macro      MacroConfig      `mapstructure:"macro"`
	Host       HostConfig       `mapstructure:"host"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	Lightning  LightningConfig  `mapstructure:"lightning"`
	Bitcoind   BitcoindConfig   `mapstructure:"bitcoind"`
	Bot        BotConfig        `mapstructure:"bot"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs the polling cadence of each loop.
type SchedulerConfig struct {
	MarketInterval    time.Duration `mapstructure:"market_interval"`
	HostInterval      time.Duration `mapstructure:"host_interval"`
	LightningInterval time.Duration `mapstructure:"lightning_interval"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines the global cooldown and routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Cooldown  time.Duration  `mapstructure:"cooldown"`
	Retention time.Duration  `mapstructure:"retention"`
	Channel   string         `mapstructure:"channel"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram sink.
type TelegramConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BotToken  string        `mapstructure:"bot_token"`
	ChatID    string        `mapstructure:"chat_id"`
	APIBase   string        `mapstructure:"api_base"`
	ParseMode string        `mapstructure:"parse_mode"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ThresholdsConfig groups every alert threshold.
type ThresholdsConfig struct {
	Fee   FeeThresholds   `mapstructure:"fee"`
	Price PriceThresholds `mapstructure:"price"`
	Host  HostThresholds  `mapstructure:"host"`
}

// FeeThresholds are sat/vB breakpoints of the fee state machine.
type FeeThresholds struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

// PriceThresholds are absolute USD changes for the volatility tracker.
type PriceThresholds struct {
	ChangeLow          float64       `mapstructure:"change_low"`
	ChangeHigh         float64       `mapstructure:"change_high"`
	Lookback           time.Duration `mapstructure:"lookback"`
	History            time.Duration `mapstructure:"history"`
	VolatilityCooldown time.Duration `mapstructure:"volatility_cooldown"`
}

// HostThresholds cover remote hardware checks.
type HostThresholds struct {
	CPUPct      float64 `mapstructure:"cpu_pct"`
	RAMPct      float64 `mapstructure:"ram_pct"`
	LoadPerCore float64 `mapstructure:"load_per_core"`
	DiskPct     float64 `mapstructure:"disk_pct"`
	Persistence int     `mapstructure:"persistence"`
}

// MarketConfig points at the fee and price endpoints.
type MarketConfig struct {
	MempoolBaseURL string        `mapstructure:"mempool_base_url"`
	PriceURL       string        `mapstructure:"price_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	FeeHistory     time.Duration `mapstructure:"fee_history"`
}

// AnalysisConfig configures the contextual analysis model.
type AnalysisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

// MacroConfig drives the periodic macro report.
type MacroConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	Query       string        `mapstructure:"query"`
	SkipMarkers []string      `mapstructure:"skip_markers"`
}

// HostConfig selects how hardware samples are taken.
type HostConfig struct {
	Backend      string   `mapstructure:"backend"`
	Mounts       []string `mapstructure:"mounts"`
	Services     []string `mapstructure:"services"`
	DefaultCores int      `mapstructure:"default_cores"`
}

// SSHConfig describes the remote node login.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	KeyPath        string        `mapstructure:"key_path"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// LightningConfig covers the LND REST endpoint.
type LightningConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RESTURL      string        `mapstructure:"rest_url"`
	TLSCertPath  string        `mapstructure:"tls_cert_path"`
	MacaroonPath string        `mapstructure:"macaroon_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
	InvoiceLimit int           `mapstructure:"invoice_limit"`
	AliasTTL     time.Duration `mapstructure:"alias_ttl"`
}

// BitcoindConfig covers bitcoind JSON-RPC.
type BitcoindConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	RPCUser     string        `mapstructure:"rpc_user"`
	RPCPassword string        `mapstructure:"rpc_password"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BotConfig enables the operator command bot.
type BotConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	TrustedChatID int64         `mapstructure:"trusted_chat_id"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("NODESENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Analysis.APIKey == "" {
		cfg.Analysis.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Bot.TrustedChatID == 0 && cfg.Alerting.Telegram.ChatID != "" {
		if id, err := strconv.ParseInt(cfg.Alerting.Telegram.ChatID, 10, 64); err == nil {
			cfg.Bot.TrustedChatID = id
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nodesentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6e736e74))

	v.SetDefault("scheduler.market_interval", "5m")
	v.SetDefault("scheduler.host_interval", "60s")
	v.SetDefault("scheduler.lightning_interval", "10s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "300s")
	v.SetDefault("alerting.retention", "720h")
	v.SetDefault("alerting.channel", "telegram")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.parse_mode", "Markdown")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("thresholds.fee.low", 5.0)
	v.SetDefault("thresholds.fee.medium", 10.0)
	v.SetDefault("thresholds.fee.high", 50.0)
	v.SetDefault("thresholds.price.change_low", 1000.0)
	v.SetDefault("thresholds.price.change_high", 2500.0)
	v.SetDefault("thresholds.price.lookback", "120m")
	v.SetDefault("thresholds.price.history", "4h")
	v.SetDefault("thresholds.price.volatility_cooldown", "4h")
	v.SetDefault("thresholds.host.cpu_pct", 85.0)
	v.SetDefault("thresholds.host.ram_pct", 90.0)
	v.SetDefault("thresholds.host.load_per_core", 1.5)
	v.SetDefault("thresholds.host.disk_pct", 90.0)
	v.SetDefault("thresholds.host.persistence", 3)

	v.SetDefault("market.mempool_base_url", "https://mempool.space/api/v1")
	v.SetDefault("market.price_url", "https://api.coingecko.com/api/v3/simple/price")
	v.SetDefault("market.request_timeout", "15s")
	v.SetDefault("market.user_agent", "nodesentinel/1.0")
	v.SetDefault("market.fee_history", "1h")

	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("analysis.model", "gemini-2.5-flash")
	v.SetDefault("analysis.timeout", "30s")
	v.SetDefault("analysis.system_prompt", "You are a senior market analyst covering Bitcoin. Search the news of the last few hours that explains the move and summarise it in at most two paragraphs. Cover only central bank rates and inflation, the dollar index, ETF and institutional flows, and the gold/BTC correlation. Leave out geopolitics. When nothing relevant happened reply exactly NO SIGNIFICANT MACRO UPDATE.")

	v.SetDefault("macro.enabled", true)
	v.SetDefault("macro.cooldown", "24h")
	v.SetDefault("macro.query", "Provide the periodic macro report as per system instructions.")
	v.SetDefault("macro.skip_markers", []string{"NO SIGNIFICANT MACRO UPDATE", "NESSUN AGGIORNAMENTO MACRO SIGNIFICATIVO"})

	v.SetDefault("host.backend", "local")
	v.SetDefault("host.mounts", []string{"/", "/mnt/hdd"})
	v.SetDefault("host.services", []string{"lnd", "bitcoin"})
	v.SetDefault("host.default_cores", 2)

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", "5s")
	v.SetDefault("ssh.command_timeout", "20s")

	v.SetDefault("lightning.enabled", false)
	v.SetDefault("lightning.rest_url", "https://127.0.0.1:8080")
	v.SetDefault("lightning.timeout", "10s")
	v.SetDefault("lightning.invoice_limit", 100)
	v.SetDefault("lightning.alias_ttl", "24h")

	v.SetDefault("bitcoind.timeout", "10s")

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.poll_timeout", "30s")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.MarketInterval <= 0 || c.Scheduler.HostInterval <= 0 || c.Scheduler.LightningInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Thresholds.Fee.Low > c.Thresholds.Fee.Medium {
		return fmt.Errorf("thresholds.fee.low must not exceed thresholds.fee.medium")
	}
	if c.Thresholds.Price.ChangeLow <= 0 {
		return fmt.Errorf("thresholds.price.change_low must be greater than zero")
	}
	if c.Thresholds.Price.ChangeHigh < c.Thresholds.Price.ChangeLow {
		return fmt.Errorf("thresholds.price.change_high must not be below change_low")
	}
	// the history must still hold a sample strictly older than the lookback
	if c.Thresholds.Price.History <= c.Thresholds.Price.Lookback+c.Scheduler.MarketInterval {
		return fmt.Errorf("thresholds.price.history must exceed thresholds.price.lookback plus scheduler.market_interval")
	}
	if c.Thresholds.Host.Persistence < 1 {
		return fmt.Errorf("thresholds.host.persistence must be at least 1")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Host.Backend {
	case "ssh":
		if c.SSH.Host == "" || c.SSH.User == "" {
			return fmt.Errorf("ssh.host and ssh.user are required for host.backend=ssh")
		}
	case "local", "none":
	default:
		return fmt.Errorf("host.backend must be one of ssh, local, none")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Bot.Enabled && c.Bot.TrustedChatID == 0 {
		return fmt.Errorf("bot.trusted_chat_id is required when bot.enabled")
	}
	if c.Bot.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when bot.enabled")
	}
	if c.Lightning.Enabled && c.Lightning.MacaroonPath == "" {
		return fmt.Errorf("lightning.macaroon_path is required when lightning.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
