package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"market_maker/internal/core"
)

// TelegramSink posts alerts to a bot chat via the Bot API.
type TelegramSink struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramSink returns a TelegramSink. Missing botToken/chatID makes
// Send a no-op.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch level {
	case core.AlertWarning:
		icon = "⚠️"
	case core.AlertError:
		icon = "❌"
	case core.AlertCritical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, level, title, message)
	for k, v := range fields {
		text += fmt.Sprintf("\n- *%s*: %s", k, v)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api responded with status %d", resp.StatusCode)
	}
	return nil
}

var _ core.AlertSink = (*TelegramSink)(nil)
