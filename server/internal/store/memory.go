package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// DefaultHistorySize is the per-target sample cap when none is configured.
const DefaultHistorySize = 1000

// Memory is a thread-safe in-memory Store. Each target keeps at most
// historySize samples; older ones are dropped on write.
type Memory struct {
	mu          sync.RWMutex
	targets     map[string]*TargetRecord
	history     map[string][]Sample
	alerts      map[string]alerts.Alert
	historySize int
	now         func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store keeping up to historySize samples per
// target. Values <= 0 use DefaultHistorySize.
func NewMemory(historySize int) *Memory {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Memory{
		targets:     make(map[string]*TargetRecord),
		history:     make(map[string][]Sample),
		alerts:      make(map[string]alerts.Alert),
		historySize: historySize,
		now:         time.Now,
	}
}

// SaveStatus implements Store.
func (m *Memory) SaveStatus(_ context.Context, targetID string, status scheduler.Status, snap *snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.targets[targetID]
	if !ok {
		rec = &TargetRecord{ID: targetID}
		m.targets[targetID] = rec
	}
	rec.Status = status
	rec.SeenAt = m.now()
	if snap == nil {
		return nil
	}

	at := snap.TakenAt()
	rec.LastSnapshotAt = &at
	h := append(m.history[targetID], Sample{
		TargetID: targetID,
		Status:   status,
		TakenAt:  at,
		Snapshot: snap,
	})
	if len(h) > m.historySize {
		h = append([]Sample(nil), h[len(h)-m.historySize:]...)
	}
	m.history[targetID] = h
	return nil
}

// SaveAlert implements Store.
func (m *Memory) SaveAlert(_ context.Context, a alerts.Alert) error {
	m.mu.Lock()
	m.alerts[a.ID] = a
	m.mu.Unlock()
	return nil
}

// ResolveAlert implements Store.
func (m *Memory) ResolveAlert(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		return nil
	}
	a.Resolved = true
	a.ResolvedAt = &at
	m.alerts[id] = a
	return nil
}

// ListActiveAlerts implements Store. Alerts are ordered by creation time.
func (m *Memory) ListActiveAlerts(_ context.Context) ([]alerts.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]alerts.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListTargets implements Store. Records are ordered by ID.
func (m *Memory) ListTargets(_ context.Context) ([]TargetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TargetRecord, 0, len(m.targets))
	for _, r := range m.targets {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MetricHistory implements Store.
func (m *Memory) MetricHistory(_ context.Context, targetID string, limit int) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[targetID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Sample(nil), h...), nil
}

// Prune implements Store.
func (m *Memory) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, h := range m.history {
		keep := h[:0]
		for _, s := range h {
			if s.TakenAt.Before(before) {
				removed++
				continue
			}
			keep = append(keep, s)
		}
		if len(keep) == 0 {
			delete(m.history, id)
			continue
		}
		m.history[id] = keep
	}
	for id, a := range m.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
