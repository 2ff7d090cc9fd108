// Package config loads the hostwatch-agent configuration file.
//
// Top-level types:
//   - Config{Agent, Log}: full config tree parsed from YAML
//   - AgentConfig: listen address, metrics path, collect_timeout, CPU
//     sample_interval and optional scrape auth
//   - AuthConfig: mode (bearer|basic|none); Token() and Password() resolve
//     from environment variables
//
// Load(path) reads the YAML file, applies defaults (listen :9105, path
// /metrics, 5s collect timeout, 200ms CPU window, json logs to stdout), then
// validates required fields and enums. An empty path yields the defaults.
package config
