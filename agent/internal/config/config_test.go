package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  listen: "127.0.0.1:9200"
  metrics_path: /host
  collect_timeout: 3s
  sample_interval: 100ms
  auth:
    mode: bearer
    token_env: AGENT_TOKEN
log:
  level: debug
  format: text
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.Listen != "127.0.0.1:9200" {
		t.Errorf("listen: got %q", cfg.Agent.Listen)
	}
	if cfg.Agent.MetricsPath != "/host" {
		t.Errorf("metrics_path: got %q", cfg.Agent.MetricsPath)
	}
	if cfg.Agent.CollectTimeout != 3*time.Second {
		t.Errorf("collect_timeout: got %v", cfg.Agent.CollectTimeout)
	}
	if cfg.Agent.SampleInterval != 100*time.Millisecond {
		t.Errorf("sample_interval: got %v", cfg.Agent.SampleInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log: got %+v", cfg.Log)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Log.Output != "stdout" {
		t.Errorf("log.output: got %q, want stdout", cfg.Log.Output)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "agent: {}\n")

	if cfg.Agent.Listen != DefaultListen {
		t.Errorf("default listen: got %q, want %q", cfg.Agent.Listen, DefaultListen)
	}
	if cfg.Agent.MetricsPath != DefaultMetricsPath {
		t.Errorf("default metrics_path: got %q", cfg.Agent.MetricsPath)
	}
	if cfg.Agent.CollectTimeout != DefaultCollectTimeout {
		t.Errorf("default collect_timeout: got %v", cfg.Agent.CollectTimeout)
	}
	if cfg.Agent.SampleInterval != DefaultSampleInterval {
		t.Errorf("default sample_interval: got %v", cfg.Agent.SampleInterval)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Agent.Listen != DefaultListen {
		t.Errorf("listen: got %q", cfg.Agent.Listen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad listen", "agent:\n  listen: nonsense\n", "agent.listen"},
		{"relative path", "agent:\n  metrics_path: metrics\n", "metrics_path"},
		{"zero timeout", "agent:\n  collect_timeout: 0s\n", "collect_timeout"},
		{"window too long", "agent:\n  collect_timeout: 1s\n  sample_interval: 2s\n", "shorter than"},
		{"unknown auth", "agent:\n  auth:\n    mode: apikey\n", "unknown mode"},
		{"bearer without env", "agent:\n  auth:\n    mode: bearer\n", "token_env"},
		{"basic without user", "agent:\n  auth:\n    mode: basic\n    password_env: X\n", "username"},
		{"bad level", "log:\n  level: loud\n", "log"},
		{"bad yaml", "agent: [\n", "parse yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_AGENT_TOKEN", "tok-abc")
	a := AuthConfig{TokenEnv: "TEST_AGENT_TOKEN"}
	if got := a.Token(); got != "tok-abc" {
		t.Errorf("Token(): got %q", got)
	}
	if got := (AuthConfig{}).Token(); got != "" {
		t.Errorf("Token() with no env: got %q", got)
	}
}

func TestAuthConfig_Password(t *testing.T) {
	t.Setenv("TEST_AGENT_PASSWORD", "s3cret")
	a := AuthConfig{Username: "prom", PasswordEnv: "TEST_AGENT_PASSWORD"}
	if got := a.Password(); got != "s3cret" {
		t.Errorf("Password(): got %q", got)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
