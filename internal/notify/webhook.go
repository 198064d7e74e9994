// Package notify delivers match alerts to a Slack-style incoming webhook.
// Delivery is best effort: a failed notification is logged and the scan moves
// on; the alert row in the ledger is the durable record either way.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// Sink receives alerts for human delivery.
type Sink interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// WebhookSink posts alerts to a Slack-compatible incoming webhook.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for the given webhook URL. An empty URL
// yields a sink that drops everything, so callers need no nil checks.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// webhookBody is the Slack incoming-webhook format plus the structured alert.
type webhookBody struct {
	Text  string             `json:"text"`
	Alert model.AlertPayload `json:"alert"`
}

// Notify posts the alert, retrying once on failure.
func (s *WebhookSink) Notify(ctx context.Context, alert model.Alert) error {
	if s.url == "" {
		return nil
	}

	body := webhookBody{Text: formatLine(alert), Alert: alert.Payload}
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	err = s.post(ctx, payload)
	if err != nil {
		zap.L().Warn("notify: webhook failed, retrying once",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		err = s.post(ctx, payload)
	}
	if err != nil {
		return eris.Wrapf(err, "notify: deliver alert %s", alert.ID)
	}

	zap.L().Info("notify: alert delivered",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
	)
	return nil
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// formatLine renders the one-line summary shown in the channel.
func formatLine(alert model.Alert) string {
	p := alert.Payload
	line := fmt.Sprintf("[%s] %s | score %.0f", alert.Type, p.Vehicle, p.Score)
	if p.GapAbs != nil && p.GapPct != nil {
		line += fmt.Sprintf(", gap $%.0f (%.0f%%)", *p.GapAbs, *p.GapPct*100)
	}
	if p.ListingURL != "" {
		line += " " + p.ListingURL
	}
	return line
}
