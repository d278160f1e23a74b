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

// SlackSink posts alerts to an incoming webhook as a color-coded
// attachment.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSink returns a SlackSink. An empty webhookURL makes Send a no-op,
// so the sink can be registered unconditionally and only activates once
// configured.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f" // Info: green
	switch level {
	case core.AlertWarning:
		color = "#ffcc00"
	case core.AlertError:
		color = "#ff0000"
	case core.AlertCritical:
		color = "#8b0000"
	}

	var attachmentFields []map[string]interface{}
	for k, v := range fields {
		attachmentFields = append(attachmentFields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", level, title),
				"text":    message,
				"fields":  attachmentFields,
				"ts":      time.Now().Unix(),
				"footer":  "trader",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

var _ core.AlertSink = (*SlackSink)(nil)
