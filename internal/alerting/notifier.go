package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"exrate-watch/internal/monitor"
)

// Notifier delivers findings to an alert channel.
type Notifier interface {
	Notify(ctx context.Context, finding monitor.Finding) error
}

// TelegramNotifier pushes findings through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with a rendered finding.
func (n *TelegramNotifier) Notify(ctx context.Context, f monitor.Finding) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(f),
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
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("finding", f.ID).
		Str("market", f.Address.Hex()).
		Uint64("height", f.Height).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes findings to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the finding at warn level.
func (n *LogNotifier) Notify(_ context.Context, f monitor.Finding) error {
	n.logger.Warn().
		Str("finding", f.ID).
		Str("alert_id", f.AlertID).
		Str("severity", string(f.Severity)).
		Str("type", string(f.Type)).
		Str("market", f.Address.Hex()).
		Str("instrument", f.Instrument).
		Uint64("height", f.Height).
		Str("prior_rate", f.PriorRate.String()).
		Str("current_rate", f.CurrentRate.String()).
		Msg(f.Description)
	return nil
}

// Multi fans a finding out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to all channels even if some fail.
func (m Multi) Notify(ctx context.Context, f monitor.Finding) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a finding for chat channels.
func RenderMessage(f monitor.Finding) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s\n", f.Severity, f.Name))
	builder.WriteString(f.Description + "\n")
	builder.WriteString(fmt.Sprintf("Market: %s (%s)\n", f.Instrument, f.Address.Hex()))
	builder.WriteString(fmt.Sprintf("Block: %d\n", f.Height))
	builder.WriteString(fmt.Sprintf("Exchange rate: %s -> %s\n", f.PriorRate.String(), f.CurrentRate.String()))
	builder.WriteString(fmt.Sprintf("Alert: %s (%s)\n", f.AlertID, f.Type))
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
