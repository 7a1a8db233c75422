package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"nodesentinel/internal/auth"
	"nodesentinel/internal/faults"
	"nodesentinel/internal/logging"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/remote"
)

const (
	deniedText = "🚨 *ACCESS DENIED:* This command can only be run by the bot owner."
	retryDelay = 5 * time.Second
)

// Reporter renders the on-demand reports behind the read-only commands.
type Reporter interface {
	Status(ctx context.Context) string
	Hardware(ctx context.Context) string
	Mempool(ctx context.Context) string
	Price(ctx context.Context) string
	BTCInfo(ctx context.Context) string
	Diagnose(ctx context.Context) string
	Peers(ctx context.Context) string
	Channels(ctx context.Context) string
	Invoices(ctx context.Context) string
	NetScan(ctx context.Context, subnet string) string
	Restart(ctx context.Context, unit string) string
}

// Sender posts a reply to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Options configure the update poller.
type Options struct {
	BaseURL     string
	BotToken    string
	PollTimeout time.Duration
	// Restarts maps a command name without the slash to the unit it restarts.
	Restarts map[string]string
}

// Bot answers operator commands received through Telegram long polling.
type Bot struct {
	opts     Options
	baseURL  string
	client   *http.Client
	sender   Sender
	reporter Reporter
	owner    auth.Trusted
	clock    clock.Clock
	logger   zerolog.Logger
	offset   int64
}

// New constructs a Bot.
func New(opts Options, sender Sender, reporter Reporter, owner auth.Trusted, clk clock.Clock, logger zerolog.Logger) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Bot{
		opts:     opts,
		baseURL:  strings.TrimRight(base, "/"),
		client:   &http.Client{Timeout: opts.PollTimeout + 10*time.Second},
		sender:   sender,
		reporter: reporter,
		owner:    owner,
		clock:    clk,
		logger:   logger.With().Str("component", "bot").Logger(),
	}
}

// Update is the subset of a Telegram update the bot reads.
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Run polls for updates until ctx is cancelled. Poll failures are logged
// and retried after a short pause.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Dur("poll_timeout", b.opts.PollTimeout).Msg("bot polling started")
	for {
		updates, err := b.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Failure(b.logger, faults.Sampling("telegram", err)).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.clock.After(retryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.ID >= b.offset {
				b.offset = u.ID + 1
			}
			if u.Message != nil {
				b.Handle(ctx, *u.Message)
			}
		}
	}
}

func (b *Bot) poll(ctx context.Context) ([]Update, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(b.opts.PollTimeout/time.Second)))
	if b.offset > 0 {
		q.Set("offset", strconv.FormatInt(b.offset, 10))
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", b.baseURL, b.opts.BotToken, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create getUpdates request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	var payload struct {
		OK          bool     `json:"ok"`
		Description string   `json:"description"`
		Result      []Update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return nil, errors.New("telegram returned ok=false: " + payload.Description)
	}
	return payload.Result, nil
}

// Handle answers one message. Anything that is not a known command is ignored.
func (b *Bot) Handle(ctx context.Context, msg Message) {
	cmd := command(msg.Text)
	if cmd == "" {
		return
	}
	chat := msg.Chat.ID
	logger := b.logger.With().Str("command", cmd).Int64("chat_id", chat).Logger()

	if unit, ok := b.opts.Restarts[cmd]; ok {
		if !b.authorize(ctx, logger, cmd, chat, "restart "+unit) {
			return
		}
		b.reply(ctx, logger, chat, fmt.Sprintf("⏳ Restarting `%s`...", unit))
		b.reply(ctx, logger, chat, b.reporter.Restart(ctx, unit))
		metrics.BotCommands.WithLabelValues(cmd, "ok").Inc()
		return
	}
	if cmd == "netscan" {
		subnet := argument(msg.Text)
		if !b.authorize(ctx, logger, cmd, chat, "netscan "+subnet) {
			return
		}
		if remote.ValidSubnet(subnet) == nil {
			b.reply(ctx, logger, chat, fmt.Sprintf("⏳ Scanning *%s.x*, this can take up to two minutes...", subnet))
		}
		b.reply(ctx, logger, chat, b.reporter.NetScan(ctx, subnet))
		metrics.BotCommands.WithLabelValues(cmd, "ok").Inc()
		return
	}

	var text string
	switch cmd {
	case "start", "help":
		text = b.help()
	case "status":
		text = b.reporter.Status(ctx)
	case "hardware":
		text = b.reporter.Hardware(ctx)
	case "mempool":
		text = b.reporter.Mempool(ctx)
	case "price":
		text = b.reporter.Price(ctx)
	case "btcinfo":
		text = b.reporter.BTCInfo(ctx)
	case "diagnose":
		text = b.reporter.Diagnose(ctx)
	case "peers":
		text = b.reporter.Peers(ctx)
	case "channels":
		text = b.reporter.Channels(ctx)
	case "invoices":
		text = b.reporter.Invoices(ctx)
	default:
		logger.Debug().Msg("unknown command ignored")
		return
	}
	metrics.BotCommands.WithLabelValues(cmd, "ok").Inc()
	b.reply(ctx, logger, chat, text)
}

// authorize answers a stranger with an explicit denial and reports whether
// chat may run the privileged command.
func (b *Bot) authorize(ctx context.Context, logger zerolog.Logger, cmd string, chat int64, action string) bool {
	decision := b.owner.Authorize(chat)
	if decision.Allowed {
		return true
	}
	logging.Failure(logger, decision.Err(action)).Msg("privileged command refused")
	metrics.BotCommands.WithLabelValues(cmd, "denied").Inc()
	b.reply(ctx, logger, chat, deniedText)
	return false
}

func (b *Bot) reply(ctx context.Context, logger zerolog.Logger, chat int64, text string) {
	if err := b.sender.SendMessage(ctx, strconv.FormatInt(chat, 10), text); err != nil {
		logging.Failure(logger, faults.Delivery("telegram", err)).Msg("reply lost")
	}
}

func (b *Bot) help() string {
	lines := []string{
		"🤖 *Node sentinel*",
		"/status - node, LND and hardware summary",
		"/hardware - CPU, RAM, load and disks",
		"/mempool - recommended fees",
		"/price - BTC spot price",
		"/btcinfo - difficulty adjustment",
		"/diagnose - systemd state of watched units",
		"/peers - connected Lightning peers",
		"/channels - open channels",
		"/invoices - latest invoices",
		"/netscan <subnet> - ping sweep of the node's LAN (owner only)",
	}
	for _, name := range []string{"restartlnd", "restartbtc"} {
		if unit, ok := b.opts.Restarts[name]; ok {
			lines = append(lines, fmt.Sprintf("/%s - restart %s (owner only)", name, unit))
		}
	}
	return strings.Join(lines, "\n")
}

// command extracts the command name from "/name@bot args".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// argument returns the first word after the command, or "".
func argument(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
