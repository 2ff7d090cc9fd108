package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
)

const emailBody = `{{if .Resolved}}RESOLVED{{else}}ALERT{{end}}: {{.RuleName}}

Target:        {{.Target}}
Severity:      {{.Severity}}
Type:          {{.Type}}
Message:       {{.Message}}
Current value: {{printf "%.2f" .CurrentValue}}
Threshold:     {{.ThresholdValue}}
Created at:    {{.CreatedAt.Format "2006-01-02 15:04:05 MST"}}
{{- if .ResolvedAt}}
Resolved at:   {{.ResolvedAt.Format "2006-01-02 15:04:05 MST"}}
{{- end}}
Alert ID:      {{.ID}}
`

var emailTemplate = template.Must(template.New("email").Parse(emailBody))

// EmailConfig holds SMTP settings for an Email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// Email sends a plain-text message per alert over SMTP.
type Email struct {
	name string
	cfg    EmailConfig
	logger *slog.Logger
	send   func(ctx context.Context, m *mail.Msg) error
}

// NewEmail returns an Email channel. SMTP auth is used when a username is set;
// STARTTLS is used when the server offers it. A nil logger uses slog.Default().
func NewEmail(name string, cfg EmailConfig, logger *slog.Logger) *Email {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	e := &Email{name: name, cfg: cfg, logger: loggerOrDefault(logger)}
	e.send = e.dialAndSend
	return e
}

// Name implements Channel.
func (e *Email) Name() string { return e.name }

// Send implements Channel.
func (e *Email) Send(ctx context.Context, a alerts.Alert) bool {
	m, err := e.message(a)
	if err != nil {
		e.logger.Error("notify: email build failed", "channel", e.name, "err", err)
		return false
	}
	if err := e.send(ctx, m); err != nil {
		e.logger.Warn("notify: email send failed", "channel", e.name, "err", err)
		return false
	}
	return true
}

func (e *Email) message(a alerts.Alert) (*mail.Msg, error) {
	subject, body, err := render(a)
	if err != nil {
		return nil, err
	}
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (e *Email) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTimeout(e.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	c, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return c.DialAndSendWithContext(ctx, m)
}

// render produces the subject and body for a.
func render(a alerts.Alert) (string, string, error) {
	subject := fmt.Sprintf("[%s] Monitoring Alert - %s", strings.ToUpper(string(a.Severity)), a.Type)
	if a.Resolved {
		subject = "[RESOLVED] " + subject
	}

	data := struct {
		alerts.Alert
		Target string
	}{a, targetLabel(a)}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject, buf.String(), nil
}
