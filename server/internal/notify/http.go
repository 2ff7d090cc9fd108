package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
)

// DefaultTimeout bounds one delivery when a channel is built without one.
const DefaultTimeout = 10 * time.Second

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// post sends body as JSON and treats any non-2xx status as failure.
func post(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// severityColor maps severity to a hex colour without the leading '#'.
func severityColor(s alerts.Severity) string {
	switch s {
	case alerts.SeverityLow:
		return "36a64f"
	case alerts.SeverityMedium:
		return "ff9900"
	case alerts.SeverityHigh:
		return "ff6600"
	case alerts.SeverityCritical:
		return "ff0000"
	default:
		return "808080"
	}
}

func severityLabel(s alerts.Severity) string {
	switch s {
	case alerts.SeverityLow:
		return "LOW"
	case alerts.SeverityMedium:
		return "MEDIUM"
	case alerts.SeverityHigh:
		return "HIGH"
	case alerts.SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func targetLabel(a alerts.Alert) string {
	if a.TargetID == "" {
		return "local"
	}
	return a.TargetID
}
