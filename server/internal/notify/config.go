package notify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hostwatch/hostwatch/server/internal/config"
)

// FromConfig builds the enabled channels, which log through logger. Channels
// that cannot be built, for example because their URL variable is unset, are
// skipped and reported in the joined error; the rest are still returned.
func FromConfig(chs []config.ChannelConfig, logger *slog.Logger) ([]Channel, error) {
	var (
		out  []Channel
		errs []error
	)
	for _, c := range chs {
		if !c.IsEnabled() {
			continue
		}
		ch, err := build(c, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: channel %q: %w", c.Name, err))
			continue
		}
		out = append(out, ch)
	}
	return out, errors.Join(errs...)
}

func build(c config.ChannelConfig, logger *slog.Logger) (Channel, error) {
	switch c.Type {
	case "webhook":
		url := c.URL()
		if url == "" {
			return nil, fmt.Errorf("environment variable %q is empty", c.URLEnv)
		}
		return NewWebhook(c.Name, url, c.Headers, c.Timeout, logger), nil
	case "chat":
		url := c.URL()
		if url == "" {
			return nil, fmt.Errorf("environment variable %q is empty", c.URLEnv)
		}
		return NewChat(c.Name, url, c.Flavor, c.Timeout, logger)
	case "email":
		return NewEmail(c.Name, EmailConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.Username,
			Password: c.Password(),
			From:     c.From,
			To:       c.To,
			Timeout:  c.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown type %q", c.Type)
	}
}
