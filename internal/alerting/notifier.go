package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// telegram rejects texts longer than this
const maxMessageRunes = 4096

// Notification is a rendered event bound for a channel.
type Notification struct {
	Key       string
	Severity  Severity
	Text      string
	Timestamp time.Time
	Channel   string
}

// Notifier delivers rendered notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken  string
	chatID    string
	baseURL   string
	parseMode string
	client    *http.Client
	logger    zerolog.Logger
}

// TelegramOptions parameterise the Telegram sink.
type TelegramOptions struct {
	BotToken  string
	ChatID    string
	BaseURL   string
	ParseMode string
	Timeout   time.Duration
}

// NewTelegramNotifier constructs the Telegram sink.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken:  opts.BotToken,
		chatID:    opts.ChatID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		parseMode: opts.ParseMode,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the notification to the configured chat.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.SendMessage(ctx, n.chatID, note.Text); err != nil {
		return err
	}
	n.logger.Info().Str("key", note.Key).
		Str("severity", string(note.Severity)).
		Msg("alert sent (telegram)")
	return nil
}

// SendMessage calls sendMessage for an arbitrary chat.
func (n *TelegramNotifier) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    truncate(text, maxMessageRunes),
	}
	if n.parseMode != "" {
		payload["parse_mode"] = n.parseMode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

var _ Notifier = (*TelegramNotifier)(nil)
