package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostwatch/hostwatch/pkg/logging"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultPollInterval    = 60 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultWorkers         = 8
	DefaultGracePeriod     = 15 * time.Second
	DefaultOfflineAfter    = 1
	DefaultStorageBackend  = "memory"
	DefaultStoragePath     = "hostwatch.db"
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultHistorySize     = 1000
	DefaultStreamInterval  = 5 * time.Second
	DefaultChannelTimeout  = 10 * time.Second
	DefaultSMTPPort        = 587
	DefaultCeilingPercent  = 90.0
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 5
	DefaultLogMaxAgeDays   = 30
	DefaultSSHPort         = 22
	DefaultAlertHistoryLen = 1000
)

// StreamChannelName is the notification channel name taken by the WebSocket
// stream; configured channels may not use it.
const StreamChannelName = "websocket"

// Config holds the server configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Stream    StreamConfig    `yaml:"stream"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	SSH       SSHConfig       `yaml:"ssh"`

	// Targets is the list of hosts to poll.
	Targets []TargetConfig `yaml:"targets"`
}

// LogConfig selects the slog handler and its destination.
type LogConfig = logging.Config

// SchedulerConfig controls the polling loop.
type SchedulerConfig struct {
	// Interval is the base tick period.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single acquisition.
	Timeout time.Duration `yaml:"timeout"`

	// Workers caps concurrent acquisitions within one tick.
	Workers int `yaml:"workers"`

	// GracePeriod is how long Stop waits for in-flight checks.
	GracePeriod time.Duration `yaml:"grace_period"`

	// OfflineAfter is the number of consecutive failures before a target is
	// reported offline.
	OfflineAfter int `yaml:"offline_after"`

	// Ceilings maps a metric path to a hard limit; exceeding any of them
	// classifies the target as warning.
	Ceilings map[string]float64 `yaml:"ceilings"`
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	// Backend selects the implementation: memory | sqlite.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file, used when Backend == "sqlite".
	Path string `yaml:"path"`

	// Retention is how long metric samples are kept.
	Retention time.Duration `yaml:"retention"`

	// HistorySize caps the in-memory per-target sample history.
	HistorySize int `yaml:"history_size"`
}

// SSHConfig holds defaults shared by all ssh targets.
type SSHConfig struct {
	// ConfigPath is the ssh_config file consulted for host aliases
	// (default ~/.ssh/config).
	ConfigPath string `yaml:"config_path"`

	// KnownHosts is used by targets that set none (default ~/.ssh/known_hosts).
	KnownHosts string `yaml:"known_hosts"`

	// DialTimeout bounds TCP connect plus handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// StreamConfig controls the WebSocket broadcast.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AlertsConfig holds rule definitions and notification channels.
type AlertsConfig struct {
	// DefaultRules loads the stock CPU, memory and disk rules in addition to Rules.
	DefaultRules bool `yaml:"default_rules"`

	// HistorySize caps the number of alerts retained in memory.
	HistorySize int `yaml:"history_size"`

	// NotifyOnResolve also dispatches resolution notices.
	NotifyOnResolve bool `yaml:"notify_on_resolve"`

	Rules    []RuleConfig    `yaml:"rules"`
	Channels []ChannelConfig `yaml:"channels"`
}

// RuleConfig defines one threshold rule. Condition and severity are checked by
// the alert engine, not here: a rule with an unknown condition is loaded but
// never fires.
type RuleConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	MetricPath  string  `yaml:"metric_path"`
	Condition   string  `yaml:"condition"`
	Threshold   float64 `yaml:"threshold"`
	Severity    string  `yaml:"severity"`
	Description string  `yaml:"description"`

	// DurationMinutes and Duration both express the sustain window.
	// Duration wins when both are set.
	DurationMinutes float64       `yaml:"duration_minutes"`
	Duration        time.Duration `yaml:"duration"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// SustainFor returns the configured sustain window.
func (r RuleConfig) SustainFor() time.Duration {
	if r.Duration > 0 {
		return r.Duration
	}
	return time.Duration(r.DurationMinutes * float64(time.Minute))
}

// IsEnabled reports whether the rule is enabled, defaulting to true.
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ChannelConfig defines one notification channel.
type ChannelConfig struct {
	// Name identifies the channel in logs and dispatch reports.
	Name string `yaml:"name"`

	// Type is one of: email | webhook | chat.
	Type string `yaml:"type"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Timeout bounds one delivery (default 10s).
	Timeout time.Duration `yaml:"timeout"`

	// Webhook and chat fields.
	// URLEnv is the name of the environment variable that holds the URL.
	URLEnv string `yaml:"url_env"`
	// Flavor is the chat payload format: slack | teams.
	Flavor  string            `yaml:"flavor"`
	Headers map[string]string `yaml:"headers"`

	// Email fields.
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
}

// IsEnabled reports whether the channel is enabled, defaulting to true.
func (c ChannelConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// URL returns the webhook URL resolved from the environment.
func (c ChannelConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// Password returns the SMTP password resolved from the environment.
func (c ChannelConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// TargetConfig describes one monitored host.
type TargetConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Kind is one of: local | ssh | http.
	Kind string `yaml:"kind"`

	// Interval overrides the scheduler interval for this target.
	Interval time.Duration `yaml:"interval"`

	// SSH fields. Address may be an alias from ~/.ssh/config.
	Address               string `yaml:"address"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	KeyFile               string `yaml:"key_file"`
	PasswordEnv           string `yaml:"password_env"`
	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`

	// HTTP fields.
	Endpoint string     `yaml:"endpoint"`
	Auth     AuthConfig `yaml:"auth"`
	TLS      TLSConfig  `yaml:"tls"`
}

// Password returns the SSH password resolved from the environment.
func (t TargetConfig) Password() string {
	if t.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(t.PasswordEnv)
}

// AuthConfig specifies how the server authenticates to an HTTP target.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	applyChildDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Log: LogConfig{
				Level:      "info",
				Format:     "json",
				Output:     "stdout",
				MaxSizeMB:  DefaultLogMaxSizeMB,
				MaxBackups: DefaultLogMaxBackups,
				MaxAgeDays: DefaultLogMaxAgeDays,
			},
			Scheduler: SchedulerConfig{
				Interval:     DefaultPollInterval,
				Timeout:      DefaultPollTimeout,
				Workers:      DefaultWorkers,
				GracePeriod:  DefaultGracePeriod,
				OfflineAfter: DefaultOfflineAfter,
			},
			Storage: StorageConfig{
				Backend:     DefaultStorageBackend,
				Path:        DefaultStoragePath,
				Retention:   DefaultRetention,
				HistorySize: DefaultHistorySize,
			},
			Stream: StreamConfig{
				Interval: DefaultStreamInterval,
			},
			Alerts: AlertsConfig{
				HistorySize: DefaultAlertHistoryLen,
			},
		},
	}
}

// applyChildDefaults fills defaults inside list elements and maps, which
// yaml.Unmarshal replaces wholesale.
func applyChildDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Scheduler.Ceilings == nil {
		s.Scheduler.Ceilings = map[string]float64{
			"cpu.usage_total": DefaultCeilingPercent,
			"memory.percent":  DefaultCeilingPercent,
		}
	}
	for i := range s.Alerts.Channels {
		ch := &s.Alerts.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("%s-%d", ch.Type, i)
		}
		if ch.Timeout <= 0 {
			ch.Timeout = DefaultChannelTimeout
		}
		if ch.Type == "email" && ch.SMTPPort == 0 {
			ch.SMTPPort = DefaultSMTPPort
		}
		if ch.Type == "chat" && ch.Flavor == "" {
			ch.Flavor = "slack"
		}
	}
	for i := range s.Targets {
		t := &s.Targets[i]
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.Kind == "" {
			t.Kind = "local"
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}

	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	switch s.Log.Output {
	case "stdout", "stderr":
	case "file":
		if s.Log.File == "" {
			return fmt.Errorf("server.log.file is required when output is file")
		}
	default:
		return fmt.Errorf("server.log.output %q unknown: want stdout|stderr|file", s.Log.Output)
	}

	if s.Scheduler.Interval <= 0 {
		return fmt.Errorf("server.scheduler.interval must be positive")
	}
	if s.Scheduler.Timeout <= 0 {
		return fmt.Errorf("server.scheduler.timeout must be positive")
	}
	if s.Scheduler.Workers <= 0 {
		return fmt.Errorf("server.scheduler.workers must be positive")
	}
	if s.Scheduler.GracePeriod < 0 {
		return fmt.Errorf("server.scheduler.grace_period must not be negative")
	}
	if s.Scheduler.OfflineAfter < 1 {
		return fmt.Errorf("server.scheduler.offline_after must be at least 1")
	}

	switch s.Storage.Backend {
	case "memory":
	case "sqlite":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|sqlite", s.Storage.Backend)
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	if s.SSH.DialTimeout < 0 {
		return fmt.Errorf("server.ssh.dial_timeout must not be negative")
	}

	ruleIDs := make(map[string]bool)
	for i, r := range s.Alerts.Rules {
		if r.ID == "" {
			return fmt.Errorf("alerts.rules[%d]: id is required", i)
		}
		if ruleIDs[r.ID] {
			return fmt.Errorf("alerts.rules[%d]: duplicate id %q", i, r.ID)
		}
		ruleIDs[r.ID] = true
		if r.Duration < 0 || r.DurationMinutes < 0 {
			return fmt.Errorf("alerts.rules[%d] %q: duration must not be negative", i, r.ID)
		}
	}

	channelNames := map[string]bool{StreamChannelName: true}
	for i, ch := range s.Alerts.Channels {
		if channelNames[ch.Name] {
			if ch.Name == StreamChannelName {
				return fmt.Errorf("alerts.channels[%d]: name %q is reserved for the WebSocket stream", i, ch.Name)
			}
			return fmt.Errorf("alerts.channels[%d]: duplicate name %q", i, ch.Name)
		}
		channelNames[ch.Name] = true
		switch ch.Type {
		case "webhook":
			if ch.URLEnv == "" {
				return fmt.Errorf("alerts.channels[%d] %q: url_env is required", i, ch.Name)
			}
		case "chat":
			if ch.URLEnv == "" {
				return fmt.Errorf("alerts.channels[%d] %q: url_env is required", i, ch.Name)
			}
			switch ch.Flavor {
			case "slack", "teams":
			default:
				return fmt.Errorf("alerts.channels[%d] %q: unknown flavor %q", i, ch.Name, ch.Flavor)
			}
		case "email":
			if ch.SMTPHost == "" || ch.From == "" || len(ch.To) == 0 {
				return fmt.Errorf("alerts.channels[%d] %q: smtp_host, from and to are required", i, ch.Name)
			}
		default:
			return fmt.Errorf("alerts.channels[%d] %q: unknown type %q", i, ch.Name, ch.Type)
		}
	}

	targetIDs := make(map[string]bool)
	for i, t := range s.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if targetIDs[t.ID] {
			return fmt.Errorf("targets[%d]: duplicate id %q", i, t.ID)
		}
		targetIDs[t.ID] = true
		if t.Interval < 0 {
			return fmt.Errorf("targets[%d] %q: interval must not be negative", i, t.ID)
		}
		switch t.Kind {
		case "local":
		case "ssh":
			if t.Address == "" {
				return fmt.Errorf("targets[%d] %q: address is required", i, t.ID)
			}
		case "http":
			if t.Endpoint == "" {
				return fmt.Errorf("targets[%d] %q: endpoint is required", i, t.ID)
			}
			switch t.Auth.Mode {
			case "mtls", "apikey", "bearer", "basic", "none", "":
			default:
				return fmt.Errorf("targets[%d] %q: unknown auth mode %q", i, t.ID, t.Auth.Mode)
			}
		default:
			return fmt.Errorf("targets[%d] %q: unknown kind %q", i, t.ID, t.Kind)
		}
	}
	return nil
}
