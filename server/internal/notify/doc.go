// Package notify fans alerts out to notification channels.
//
// A Dispatcher sends each alert to every registered Channel concurrently.
// Channels report delivery as a bool and never return errors; a channel that
// fails, times out or panics is logged with its name and does not affect the
// others.
//
// Channel implementations:
//   - Email    plain-text templated message over SMTP (go-mail)
//   - Webhook  JSON {"alert": ..., "timestamp": ...} POST with custom headers
//   - Chat     Slack attachment or Teams MessageCard, coloured by severity
//
// Dispatcher implements alerts.Notifier.
package notify
