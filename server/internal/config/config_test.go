package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "server: {}\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Scheduler.Interval != DefaultPollInterval {
		t.Errorf("scheduler.interval: got %v, want %v", s.Scheduler.Interval, DefaultPollInterval)
	}
	if s.Scheduler.OfflineAfter != 1 {
		t.Errorf("scheduler.offline_after: got %d, want 1", s.Scheduler.OfflineAfter)
	}
	if got := s.Scheduler.Ceilings["cpu.usage_total"]; got != 90 {
		t.Errorf("ceiling cpu.usage_total: got %v, want 90", got)
	}
	if got := s.Scheduler.Ceilings["memory.percent"]; got != 90 {
		t.Errorf("ceiling memory.percent: got %v, want 90", got)
	}
	if s.Storage.Backend != "memory" {
		t.Errorf("storage.backend: got %q, want memory", s.Storage.Backend)
	}
	if s.Storage.Retention != 30*24*time.Hour {
		t.Errorf("storage.retention: got %v, want 720h", s.Storage.Retention)
	}
	if s.Log.Level != "info" || s.Log.Format != "json" || s.Log.Output != "stdout" {
		t.Errorf("log defaults: got %+v", s.Log)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  scheduler:
    interval: 30s
    timeout: 5s
    workers: 4
    grace_period: 2s
    offline_after: 3
    ceilings:
      cpu.usage_total: 95
  storage:
    backend: sqlite
    path: /tmp/hw.db
  ssh:
    config_path: /etc/hostwatch/ssh_config
    dial_timeout: 3s
  alerts:
    rules:
      - id: cpu_high
        name: High CPU
        type: cpu
        metric_path: cpu.usage_total
        condition: greater_than
        threshold: 80
        duration_minutes: 5
        severity: high
      - id: disk
        metric_path: disk.partitions.0.percent
        condition: greater_than
        threshold: 90
        duration: 90s
        enabled: false
    channels:
      - name: ops-slack
        type: chat
        url_env: SLACK_URL
      - type: email
        smtp_host: smtp.example.com
        from: hw@example.com
        to: [ops@example.com]
  targets:
    - id: web1
      kind: ssh
      address: web1.internal
      user: monitor
      interval: 2m
    - id: edge
      kind: http
      endpoint: https://edge:9100/metrics
      auth:
        mode: bearer
        token_env: EDGE_TOKEN
    - id: self
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", s.HTTPPort)
	}
	if s.Scheduler.OfflineAfter != 3 || s.Scheduler.Workers != 4 {
		t.Errorf("scheduler: got %+v", s.Scheduler)
	}
	if s.SSH.ConfigPath != "/etc/hostwatch/ssh_config" || s.SSH.DialTimeout != 3*time.Second {
		t.Errorf("ssh: got %+v", s.SSH)
	}
	if len(s.Scheduler.Ceilings) != 1 || s.Scheduler.Ceilings["cpu.usage_total"] != 95 {
		t.Errorf("ceilings: got %v", s.Scheduler.Ceilings)
	}

	rules := s.Alerts.Rules
	if len(rules) != 2 {
		t.Fatalf("rules: got %d, want 2", len(rules))
	}
	if d := rules[0].SustainFor(); d != 5*time.Minute {
		t.Errorf("rules[0].SustainFor: got %v, want 5m", d)
	}
	if !rules[0].IsEnabled() {
		t.Error("rules[0]: expected enabled by default")
	}
	if d := rules[1].SustainFor(); d != 90*time.Second {
		t.Errorf("rules[1].SustainFor: got %v, want 90s", d)
	}
	if rules[1].IsEnabled() {
		t.Error("rules[1]: expected disabled")
	}

	chs := s.Alerts.Channels
	if chs[0].Flavor != "slack" {
		t.Errorf("chat flavor default: got %q, want slack", chs[0].Flavor)
	}
	if chs[0].Timeout != DefaultChannelTimeout {
		t.Errorf("channel timeout default: got %v", chs[0].Timeout)
	}
	if chs[1].Name != "email-1" || chs[1].SMTPPort != DefaultSMTPPort {
		t.Errorf("email defaults: got name=%q port=%d", chs[1].Name, chs[1].SMTPPort)
	}

	if s.Targets[0].Interval != 2*time.Minute {
		t.Errorf("targets[0].interval: got %v, want 2m", s.Targets[0].Interval)
	}
	if s.Targets[2].Kind != "local" || s.Targets[2].Name != "self" {
		t.Errorf("targets[2] defaults: got kind=%q name=%q", s.Targets[2].Kind, s.Targets[2].Name)
	}
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TEST_HOOK_URL", "https://hooks.example.com/x")
	t.Setenv("TEST_TOKEN", "supersecret")
	p := writeConfig(t, `server:
  alerts:
    channels:
      - type: webhook
        url_env: TEST_HOOK_URL
  targets:
    - id: edge
      kind: http
      endpoint: http://edge/metrics
      auth:
        mode: bearer
        token_env: TEST_TOKEN
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if u := cfg.Server.Alerts.Channels[0].URL(); u != "https://hooks.example.com/x" {
		t.Errorf("URL(): got %q", u)
	}
	if tok := cfg.Server.Targets[0].Auth.Token(); tok != "supersecret" {
		t.Errorf("Token(): got %q, want supersecret", tok)
	}
}

func TestLoad_InvalidRuleConditionIsAccepted(t *testing.T) {
	// Unknown conditions are rejected by the alert engine, not the loader.
	p := writeConfig(t, `server:
  alerts:
    rules:
      - id: weird
        metric_path: cpu.usage_total
        condition: roughly
`)
	if _, err := Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  http_port: 70000\n"},
		{"bad log level", "server:\n  log: {level: loud}\n"},
		{"file output without path", "server:\n  log: {output: file}\n"},
		{"zero workers", "server:\n  scheduler: {workers: 0}\n"},
		{"offline_after zero", "server:\n  scheduler: {offline_after: 0}\n"},
		{"unknown backend", "server:\n  storage: {backend: redis}\n"},
		{"negative ssh dial timeout", "server:\n  ssh: {dial_timeout: -1s}\n"},
		{"rule without id", "server:\n  alerts:\n    rules: [{metric_path: a}]\n"},
		{"duplicate rule id", "server:\n  alerts:\n    rules: [{id: a}, {id: a}]\n"},
		{"duplicate channel name", "server:\n  alerts:\n    channels: [{name: ops, type: webhook, url_env: A}, {name: ops, type: webhook, url_env: B}]\n"},
		{"reserved channel name", "server:\n  alerts:\n    channels: [{name: websocket, type: webhook, url_env: A}]\n"},
		{"unknown channel type", "server:\n  alerts:\n    channels: [{type: pager}]\n"},
		{"webhook without url", "server:\n  alerts:\n    channels: [{type: webhook}]\n"},
		{"chat bad flavor", "server:\n  alerts:\n    channels: [{type: chat, url_env: X, flavor: irc}]\n"},
		{"email without recipients", "server:\n  alerts:\n    channels: [{type: email, smtp_host: h, from: f}]\n"},
		{"target without id", "server:\n  targets: [{kind: local}]\n"},
		{"duplicate target", "server:\n  targets: [{id: a}, {id: a}]\n"},
		{"unknown kind", "server:\n  targets: [{id: a, kind: snmp}]\n"},
		{"ssh without address", "server:\n  targets: [{id: a, kind: ssh}]\n"},
		{"http without endpoint", "server:\n  targets: [{id: a, kind: http}]\n"},
		{"unknown auth mode", "server:\n  targets: [{id: a, kind: http, endpoint: x, auth: {mode: oauth2}}]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
