package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"spot-dca-bot-go/internal/models"

	"go.uber.org/zap"
)

const (
	telegramAPIBase      = "https://api.telegram.org"
	telegramSendAttempts = 3
	telegramRetryDelay   = 2 * time.Second
)

// Telegram sends messages through the Telegram bot API with a small bounded
// retry, since a dropped notification is annoying but never critical.
type Telegram struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewTelegram creates a Telegram notifier from config.
func NewTelegram(cfg models.TelegramConfig, logger *zap.SugaredLogger) *Telegram {
	return &Telegram{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Notify delivers one message, retrying transient failures.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.botToken)
	var lastErr error
	for attempt := 1; attempt <= telegramSendAttempts; attempt++ {
		lastErr = t.send(ctx, url, payload)
		if lastErr == nil {
			return nil
		}
		t.logger.Warnf("telegram send attempt %d/%d failed: %v", attempt, telegramSendAttempts, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(telegramRetryDelay):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramSendAttempts, lastErr)
}

func (t *Telegram) send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, body)
	}
	return nil
}
