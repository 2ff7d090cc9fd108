package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
)

// Webhook posts the alert as JSON to a generic endpoint.
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewWebhook returns a Webhook channel. A zero timeout uses DefaultTimeout and
// a nil logger uses slog.Default().
func NewWebhook(name, url string, headers map[string]string, timeout time.Duration, logger *slog.Logger) *Webhook {
	return &Webhook{
		name:    name,
		url:     url,
		headers: headers,
		client:  newClient(timeout),
		logger:  loggerOrDefault(logger),
		now:     time.Now,
	}
}

type webhookPayload struct {
	Alert     alerts.Alert `json:"alert"`
	Timestamp time.Time    `json:"timestamp"`
}

// Name implements Channel.
func (w *Webhook) Name() string { return w.name }

// Send implements Channel.
func (w *Webhook) Send(ctx context.Context, a alerts.Alert) bool {
	body, err := json.Marshal(webhookPayload{Alert: a, Timestamp: w.now().UTC()})
	if err != nil {
		w.logger.Error("notify: webhook encode failed", "channel", w.name, "err", err)
		return false
	}
	if err := post(ctx, w.client, w.url, w.headers, body); err != nil {
		w.logger.Warn("notify: webhook post failed", "channel", w.name, "err", err)
		return false
	}
	return true
}
