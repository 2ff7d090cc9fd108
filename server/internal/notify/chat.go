package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
)

// Chat flavours.
const (
	FlavorSlack = "slack"
	FlavorTeams = "teams"
)

// Chat posts a formatted message to a Slack or Teams incoming webhook.
type Chat struct {
	name   string
	url    string
	flavor string
	client *http.Client
	logger *slog.Logger
}

// NewChat returns a Chat channel for flavor slack or teams. A nil logger uses
// slog.Default().
func NewChat(name, url, flavor string, timeout time.Duration, logger *slog.Logger) (*Chat, error) {
	switch flavor {
	case FlavorSlack, FlavorTeams:
	default:
		return nil, fmt.Errorf("notify: unknown chat flavor %q", flavor)
	}
	return &Chat{
		name:   name,
		url:    url,
		flavor: flavor,
		client: newClient(timeout),
		logger: loggerOrDefault(logger),
	}, nil
}

// Name implements Channel.
func (c *Chat) Name() string { return c.name }

// Send implements Channel.
func (c *Chat) Send(ctx context.Context, a alerts.Alert) bool {
	var payload any
	if c.flavor == FlavorTeams {
		payload = teamsPayload(a)
	} else {
		payload = slackPayload(a)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("notify: chat encode failed", "channel", c.name, "err", err)
		return false
	}
	if err := post(ctx, c.client, c.url, nil, body); err != nil {
		c.logger.Warn("notify: chat post failed", "channel", c.name, "flavor", c.flavor, "err", err)
		return false
	}
	return true
}

func chatTitle(a alerts.Alert) string {
	if a.Resolved {
		return fmt.Sprintf("Resolved: %s on %s", a.RuleName, targetLabel(a))
	}
	return fmt.Sprintf("%s on %s", a.RuleName, targetLabel(a))
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

func slackPayload(a alerts.Alert) map[string]any {
	color := "#" + severityColor(a.Severity)
	if a.Resolved {
		color = "#36a64f"
	}
	return map[string]any{
		"text": fmt.Sprintf("*[%s]* %s", severityLabel(a.Severity), chatTitle(a)),
		"attachments": []slackAttachment{{
			Color: color,
			Title: chatTitle(a),
			Text:  a.Message,
			Fields: []slackField{
				{Title: "Severity", Value: string(a.Severity), Short: true},
				{Title: "Type", Value: string(a.Type), Short: true},
				{Title: "Current Value", Value: fmt.Sprintf("%.2f", a.CurrentValue), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%g", a.ThresholdValue), Short: true},
			},
			Footer: "hostwatch",
			TS:     a.CreatedAt.Unix(),
		}},
	}
}

func teamsPayload(a alerts.Alert) map[string]any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      "hostwatch alert: " + chatTitle(a),
		"text":       a.Message,
		"sections": []map[string]any{{
			"facts": []map[string]string{
				{"name": "Severity", "value": string(a.Severity)},
				{"name": "Target", "value": targetLabel(a)},
				{"name": "Current Value", "value": fmt.Sprintf("%.2f", a.CurrentValue)},
				{"name": "Threshold", "value": fmt.Sprintf("%g", a.ThresholdValue)},
			},
		}},
	}
}
