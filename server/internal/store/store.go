package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// TargetRecord is the last persisted state of a target.
type TargetRecord struct {
	ID             string           `json:"id"`
	Status         scheduler.Status `json:"status"`
	LastSnapshotAt *time.Time       `json:"last_snapshot_at,omitempty"`
	SeenAt         time.Time        `json:"seen_at"`
}

// Sample is one persisted snapshot.
type Sample struct {
	TargetID string             `json:"target_id"`
	Status   scheduler.Status   `json:"status"`
	TakenAt  time.Time          `json:"taken_at"`
	Snapshot *snapshot.Snapshot `json:"snapshot"`
}

// Store is the persistence contract shared by the scheduler, the alert engine
// and the API.
type Store interface {
	// SaveStatus records the target's status and, when snap is non-nil,
	// appends it to the target's history.
	SaveStatus(ctx context.Context, targetID string, status scheduler.Status, snap *snapshot.Snapshot) error
	// SaveAlert inserts or replaces the alert with the same ID.
	SaveAlert(ctx context.Context, a alerts.Alert) error
	// ResolveAlert marks the alert resolved. Unknown IDs are not an error.
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	ListActiveAlerts(ctx context.Context) ([]alerts.Alert, error)
	ListTargets(ctx context.Context) ([]TargetRecord, error)
	// MetricHistory returns up to limit of the newest samples, oldest first.
	// A limit <= 0 returns everything kept.
	MetricHistory(ctx context.Context, targetID string, limit int) ([]Sample, error)
	// Prune deletes samples taken, and alerts resolved, before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

var (
	_ Store                  = (*Memory)(nil)
	_ Store                  = (*SQL)(nil)
	_ scheduler.StatusWriter = (Store)(nil)
	_ alerts.AlertStore      = (Store)(nil)
)

// Open returns the backend selected by cfg.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.HistorySize), nil
	case "sqlite":
		return OpenSQL(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
}

// RunRetention prunes data older than retention until ctx is cancelled. It
// ticks at half the retention, clamped to [1s, 1h].
func RunRetention(ctx context.Context, s Store, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := retention / 2
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := s.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("store: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: pruned expired records", "count", n)
			}
		}
	}
}
