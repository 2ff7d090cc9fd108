package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func snapAt(at time.Time, cpu float64) *snapshot.Snapshot {
	return snapshot.NewBuilder().Set("cpu.usage_total", cpu).Build(at)
}

func TestMemory_SaveStatusAndHistory(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(10)
	st.now = fixedClock(base)

	for i := 0; i < 3; i++ {
		if err := st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base.Add(time.Duration(i)*time.Minute), float64(i))); err != nil {
			t.Fatalf("SaveStatus: %v", err)
		}
	}

	h, _ := st.MetricHistory(ctx, "web", 2)
	if len(h) != 2 {
		t.Fatalf("history: got %d samples, want 2", len(h))
	}
	if v, _ := h[0].Snapshot.Lookup("cpu.usage_total"); v != 1 {
		t.Errorf("history[0] cpu: got %v, want 1 (oldest of the newest two)", v)
	}
	if v, _ := h[1].Snapshot.Lookup("cpu.usage_total"); v != 2 {
		t.Errorf("history[1] cpu: got %v, want 2", v)
	}

	targets, _ := st.ListTargets(ctx)
	if len(targets) != 1 || targets[0].Status != scheduler.StatusOnline {
		t.Fatalf("ListTargets: got %+v", targets)
	}
	if !targets[0].LastSnapshotAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LastSnapshotAt: got %v", targets[0].LastSnapshotAt)
	}
}

func TestMemory_OfflineKeepsLastSnapshot(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(10)
	_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base, 1))
	_ = st.SaveStatus(ctx, "web", scheduler.StatusOffline, nil)

	targets, _ := st.ListTargets(ctx)
	if targets[0].Status != scheduler.StatusOffline {
		t.Errorf("Status: got %q, want offline", targets[0].Status)
	}
	if targets[0].LastSnapshotAt == nil || !targets[0].LastSnapshotAt.Equal(base) {
		t.Errorf("LastSnapshotAt: got %v, want %v", targets[0].LastSnapshotAt, base)
	}
	if h, _ := st.MetricHistory(ctx, "web", 0); len(h) != 1 {
		t.Errorf("offline write must not add a sample, got %d", len(h))
	}
}

func TestMemory_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(3)
	for i := 0; i < 10; i++ {
		_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base.Add(time.Duration(i)*time.Second), float64(i)))
	}
	h, _ := st.MetricHistory(ctx, "web", 0)
	if len(h) != 3 {
		t.Fatalf("history: got %d, want 3", len(h))
	}
	if v, _ := h[0].Snapshot.Lookup("cpu.usage_total"); v != 7 {
		t.Errorf("oldest kept: got %v, want 7", v)
	}
}

func TestMemory_AlertsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(0)
	a := alerts.Alert{ID: "a1", RuleID: "cpu", CreatedAt: base}
	b := alerts.Alert{ID: "a0", RuleID: "mem", CreatedAt: base.Add(-time.Minute)}

	_ = st.SaveAlert(ctx, a)
	_ = st.SaveAlert(ctx, a)
	_ = st.SaveAlert(ctx, b)

	active, _ := st.ListActiveAlerts(ctx)
	if len(active) != 2 || active[0].ID != "a0" {
		t.Fatalf("ListActiveAlerts: got %+v", active)
	}

	resolvedAt := base.Add(time.Hour)
	for i := 0; i < 2; i++ {
		if err := st.ResolveAlert(ctx, "a1", resolvedAt.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("ResolveAlert: %v", err)
		}
	}
	if err := st.ResolveAlert(ctx, "missing", resolvedAt); err != nil {
		t.Errorf("ResolveAlert unknown id: %v", err)
	}

	active, _ = st.ListActiveAlerts(ctx)
	if len(active) != 1 || active[0].ID != "a0" {
		t.Fatalf("after resolve: got %+v", active)
	}
	if got := st.alerts["a1"].ResolvedAt; got == nil || !got.Equal(resolvedAt) {
		t.Errorf("second resolve must not move ResolvedAt, got %v", got)
	}
}

func TestMemory_Prune(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(0)
	_ = st.SaveStatus(ctx, "old", scheduler.StatusOnline, snapAt(base.Add(-48*time.Hour), 1))
	_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base.Add(-48*time.Hour), 1))
	_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base, 2))
	_ = st.SaveAlert(ctx, alerts.Alert{ID: "done", CreatedAt: base.Add(-72 * time.Hour)})
	_ = st.ResolveAlert(ctx, "done", base.Add(-48*time.Hour))
	_ = st.SaveAlert(ctx, alerts.Alert{ID: "firing", CreatedAt: base.Add(-72 * time.Hour)})

	n, err := st.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune removed %d, want 3", n)
	}
	if h, _ := st.MetricHistory(ctx, "web", 0); len(h) != 1 {
		t.Errorf("web history: got %d, want 1", len(h))
	}
	if h, _ := st.MetricHistory(ctx, "old", 0); len(h) != 0 {
		t.Errorf("old history: got %d, want 0", len(h))
	}
	if active, _ := st.ListActiveAlerts(ctx); len(active) != 1 {
		t.Errorf("active alerts must survive pruning, got %d", len(active))
	}
	if targets, _ := st.ListTargets(ctx); len(targets) != 2 {
		t.Errorf("target records must survive pruning, got %d", len(targets))
	}
}

func TestMemory_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base, float64(j)))
				_, _ = st.MetricHistory(ctx, "web", 5)
			}
		}(i)
	}
	wg.Wait()
	if h, _ := st.MetricHistory(ctx, "web", 0); len(h) != 50 {
		t.Errorf("history: got %d, want 50", len(h))
	}
}

func TestRunRetention_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRetention(ctx, NewMemory(0), time.Second)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunRetention did not return after cancel")
	}
}

func TestRunRetention_Prunes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := NewMemory(0)
	_ = st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(time.Now().Add(-time.Hour), 1))

	go RunRetention(ctx, st, 2*time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h, _ := st.MetricHistory(ctx, "web", 0); len(h) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expired sample was not pruned")
}
