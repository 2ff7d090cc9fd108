package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostwatch/hostwatch/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen         = ":9105"
	DefaultMetricsPath    = "/metrics"
	DefaultCollectTimeout = 5 * time.Second
	DefaultSampleInterval = 200 * time.Millisecond
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig    `yaml:"agent"`
	Log   logging.Config `yaml:"log"`
}

// AgentConfig holds the exporter settings.
type AgentConfig struct {
	// Listen is the address the /metrics endpoint is served on (host:port).
	Listen string `yaml:"listen"`

	// MetricsPath is the URL path of the exposition endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// CollectTimeout bounds one sampling of the host per scrape.
	CollectTimeout time.Duration `yaml:"collect_timeout"`

	// SampleInterval is the CPU measurement window inside one sampling.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// Auth optionally protects the endpoint. Modes: bearer | basic | none.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig describes how scrapers must authenticate.
type AuthConfig struct {
	// Mode is one of: bearer | basic | none.
	Mode string `yaml:"mode"`

	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
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

// Load reads and parses the YAML config file at path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Listen:         DefaultListen,
			MetricsPath:    DefaultMetricsPath,
			CollectTimeout: DefaultCollectTimeout,
			SampleInterval: DefaultSampleInterval,
		},
		Log: logging.Config{Level: "info", Format: "json", Output: "stdout"},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Agent.Listen); err != nil {
		return fmt.Errorf("agent.listen %q: %w", cfg.Agent.Listen, err)
	}
	if cfg.Agent.MetricsPath == "" || cfg.Agent.MetricsPath[0] != '/' {
		return fmt.Errorf("agent.metrics_path must start with /")
	}
	if cfg.Agent.CollectTimeout <= 0 {
		return fmt.Errorf("agent.collect_timeout must be positive")
	}
	if cfg.Agent.SampleInterval <= 0 {
		return fmt.Errorf("agent.sample_interval must be positive")
	}
	if cfg.Agent.SampleInterval >= cfg.Agent.CollectTimeout {
		return fmt.Errorf("agent.sample_interval must be shorter than collect_timeout")
	}
	switch cfg.Agent.Auth.Mode {
	case "", "none":
	case "bearer":
		if cfg.Agent.Auth.TokenEnv == "" {
			return fmt.Errorf("agent.auth: bearer requires token_env")
		}
	case "basic":
		if cfg.Agent.Auth.Username == "" || cfg.Agent.Auth.PasswordEnv == "" {
			return fmt.Errorf("agent.auth: basic requires username and password_env")
		}
	default:
		return fmt.Errorf("agent.auth: unknown mode %q", cfg.Agent.Auth.Mode)
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
