// Package config loads the server configuration from the `server:` section of
// config.yaml and watches the file for changes.
//
// Sections:
//   - log        slog level, format and destination (file output rotates)
//   - scheduler  poll interval, per-check timeout, workers, offline policy, ceilings
//   - storage    memory or sqlite backend and metric retention
//   - stream     WebSocket broadcast interval
//   - alerts     rules and notification channels
//   - ssh        ssh_config and known_hosts locations, dial timeout
//   - targets    monitored hosts (local, ssh, http)
//
// Secrets are never stored in the file: fields ending in _env name the
// environment variable that holds the value.
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) calls fn with each successfully reloaded Config.
package config
