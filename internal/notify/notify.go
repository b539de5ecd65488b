// Package notify delivers watch-engine alerts to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ticker-sentry/internal/config"
	"ticker-sentry/internal/models"
	"ticker-sentry/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendTriggeredAlert(ctx context.Context, alert models.TriggeredAlert) error
	SendAdverseMove(ctx context.Context, alert models.AdverseMoveAlert) error
	SendSweepSummary(ctx context.Context, stats models.SweepStats) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationAlert   NotificationType = "alert"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelAlertsOnly NotificationLevel = "alerts_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	// Add enabled channels
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelAlertsOnly:
		return notifType == NotificationAlert
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendTriggeredAlert sends a re-alert for a watched post whose price came
// back near or below the original call.
func (mn *MultiNotifier) SendTriggeredAlert(ctx context.Context, alert models.TriggeredAlert) error {
	var emoji string
	if alert.MovePct < 0 {
		emoji = "📉"
	} else {
		emoji = "🔔"
	}

	title := fmt.Sprintf("%s Watch Triggered: %s", emoji, alert.Ticker)
	message := fmt.Sprintf(
		"Ticker: %s\nPost: %s\nEntry: $%.2f\nCurrent: $%.2f\nMove: %+.2f%%\nAlerted: %s",
		alert.Ticker,
		alert.PostID,
		alert.EntryPrice,
		alert.CurrentPrice,
		alert.MovePct*100,
		alert.AlertedAt.Format("02-Jan-2006 15:04"),
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationAlert,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"ticker":        alert.Ticker,
			"post_id":       alert.PostID,
			"entry_price":   alert.EntryPrice,
			"current_price": alert.CurrentPrice,
			"move_pct":      alert.MovePct,
			"triggered_at":  alert.TriggeredAt.Format(time.RFC3339),
		},
	})
}

// SendAdverseMove sends an adverse-move alert for a watched position.
func (mn *MultiNotifier) SendAdverseMove(ctx context.Context, alert models.AdverseMoveAlert) error {
	title := fmt.Sprintf("⚠️ Adverse Move: %s", alert.Ticker)
	message := fmt.Sprintf(
		"Ticker: %s\nShares: %.2f\nPrevious: $%.2f\nCurrent: $%.2f\nMove: %+.2f%%",
		alert.Ticker,
		alert.Shares,
		alert.PrevPrice,
		alert.CurrentPrice,
		alert.MovePct*100,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationAlert,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"ticker":        alert.Ticker,
			"position_id":   alert.PositionID,
			"shares":        alert.Shares,
			"prev_price":    alert.PrevPrice,
			"current_price": alert.CurrentPrice,
			"move_pct":      alert.MovePct,
		},
	})
}

// SendSweepSummary sends a summary of one due-task sweep.
func (mn *MultiNotifier) SendSweepSummary(ctx context.Context, stats models.SweepStats) error {
	if stats.Checked == 0 {
		return nil
	}

	title := "📊 Sweep Summary"
	message := fmt.Sprintf(
		"Checked: %d\nTriggered: %d\nExpired: %d\nRescheduled: %d\nData unavailable: %d",
		stats.Checked,
		len(stats.Triggered),
		stats.Expired,
		stats.Rescheduled,
		stats.DataUnavailable,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"checked":          stats.Checked,
			"triggered":        len(stats.Triggered),
			"expired":          stats.Expired,
			"rescheduled":      stats.Rescheduled,
			"data_unavailable": stats.DataUnavailable,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
	retry   utils.RetryConfig
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: utils.DefaultRetryConfig(),
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook, retrying transient failures.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	return utils.Retry(ctx, w.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "TickerSentry/1.0")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("sending webhook: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		return nil
	})
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	// Format message for Telegram (using HTML parse mode)
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendTriggeredAlert does nothing.
func (n *NoOpNotifier) SendTriggeredAlert(ctx context.Context, alert models.TriggeredAlert) error {
	return nil
}

// SendAdverseMove does nothing.
func (n *NoOpNotifier) SendAdverseMove(ctx context.Context, alert models.AdverseMoveAlert) error {
	return nil
}

// SendSweepSummary does nothing.
func (n *NoOpNotifier) SendSweepSummary(ctx context.Context, stats models.SweepStats) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
