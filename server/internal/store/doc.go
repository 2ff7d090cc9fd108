// Package store persists target status, metric history and alerts.
//
// Two backends implement Store: Memory, a thread-safe in-process store with
// a bounded per-target history, and SQL, backed by gorm and a pure-Go SQLite
// driver. Every write is idempotent so the scheduler and alert engine can
// retry freely. RunRetention prunes samples and resolved alerts older than
// the configured retention.
package store
