package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

func openTestSQL(t *testing.T) *SQL {
	t.Helper()
	st, err := OpenSQL(filepath.Join(t.TempDir(), "hostwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	st.now = fixedClock(base)
	return st
}

func TestSQL_StatusAndHistory(t *testing.T) {
	ctx := context.Background()
	st := openTestSQL(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base.Add(time.Duration(i)*time.Minute), float64(i))))
	}
	require.NoError(t, st.SaveStatus(ctx, "web", scheduler.StatusOffline, nil))

	targets, err := st.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, scheduler.StatusOffline, targets[0].Status)
	require.NotNil(t, targets[0].LastSnapshotAt)
	assert.WithinDuration(t, base.Add(3*time.Minute), *targets[0].LastSnapshotAt, time.Millisecond)

	h, err := st.MetricHistory(ctx, "web", 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	v, ok := h[0].Snapshot.Lookup("cpu.usage_total")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
	v, _ = h[1].Snapshot.Lookup("cpu.usage_total")
	assert.Equal(t, 3.0, v)
	assert.WithinDuration(t, base.Add(3*time.Minute), h[1].Snapshot.TakenAt(), time.Millisecond)

	all, err := st.MetricHistory(ctx, "web", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := st.MetricHistory(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQL_Alerts(t *testing.T) {
	ctx := context.Background()
	st := openTestSQL(t)

	a := alerts.Alert{
		ID: "a1", RuleID: "cpu", RuleName: "High CPU", TargetID: "web",
		Type: alerts.TypeCPU, Severity: alerts.SeverityHigh,
		Message: "cpu.usage_total: 95.00 (threshold: 90)", CurrentValue: 95, ThresholdValue: 90,
		CreatedAt: base,
	}
	require.NoError(t, st.SaveAlert(ctx, a))
	require.NoError(t, st.SaveAlert(ctx, a), "saving twice is an upsert")
	require.NoError(t, st.SaveAlert(ctx, alerts.Alert{ID: "a0", RuleID: "mem", CreatedAt: base.Add(-time.Minute)}))

	active, err := st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a0", active[0].ID)
	got := active[1]
	assert.Equal(t, a.RuleName, got.RuleName)
	assert.Equal(t, alerts.SeverityHigh, got.Severity)
	assert.Equal(t, alerts.TypeCPU, got.Type)
	assert.Equal(t, 95.0, got.CurrentValue)
	assert.WithinDuration(t, base, got.CreatedAt, time.Millisecond)

	resolvedAt := base.Add(time.Hour)
	require.NoError(t, st.ResolveAlert(ctx, "a1", resolvedAt))
	require.NoError(t, st.ResolveAlert(ctx, "a1", resolvedAt.Add(time.Hour)))
	require.NoError(t, st.ResolveAlert(ctx, "missing", resolvedAt))

	active, err = st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a0", active[0].ID)

	var row alertRow
	require.NoError(t, st.db.First(&row, "id = ?", "a1").Error)
	require.NotNil(t, row.ResolvedAt)
	assert.WithinDuration(t, resolvedAt, *row.ResolvedAt, time.Millisecond)
}

func TestSQL_Prune(t *testing.T) {
	ctx := context.Background()
	st := openTestSQL(t)

	require.NoError(t, st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base.Add(-48*time.Hour), 1)))
	require.NoError(t, st.SaveStatus(ctx, "web", scheduler.StatusOnline, snapAt(base, 2)))
	require.NoError(t, st.SaveAlert(ctx, alerts.Alert{ID: "done", CreatedAt: base.Add(-72 * time.Hour)}))
	require.NoError(t, st.ResolveAlert(ctx, "done", base.Add(-48*time.Hour)))
	require.NoError(t, st.SaveAlert(ctx, alerts.Alert{ID: "firing", CreatedAt: base.Add(-72 * time.Hour)}))

	n, err := st.Prune(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h, err := st.MetricHistory(ctx, "web", 0)
	require.NoError(t, err)
	assert.Len(t, h, 1)
	active, err := st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQL_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hostwatch.db")

	st, err := OpenSQL(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveStatus(ctx, "web", scheduler.StatusWarning, snapAt(base, 91)))
	require.NoError(t, st.SaveAlert(ctx, alerts.Alert{ID: "a1", RuleID: "cpu", CreatedAt: base}))
	require.NoError(t, st.Close())

	st, err = OpenSQL(path)
	require.NoError(t, err)
	defer st.Close()

	targets, err := st.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, scheduler.StatusWarning, targets[0].Status)

	active, err := st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "cpu", active[0].RuleID)
}

func TestOpen(t *testing.T) {
	st, err := Open(config.StorageConfig{Backend: "memory", HistorySize: 5})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	st, err = Open(config.StorageConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, st)
	require.NoError(t, st.Close())

	_, err = Open(config.StorageConfig{Backend: "postgres"})
	assert.ErrorContains(t, err, "unsupported backend")
}
