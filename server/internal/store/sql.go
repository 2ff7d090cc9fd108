package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

type targetRow struct {
	ID             string `gorm:"primaryKey"`
	Status         string `gorm:"not null"`
	LastSnapshotAt *time.Time
	SeenAt         time.Time
}

func (targetRow) TableName() string { return "targets" }

type sampleRow struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	TargetID string    `gorm:"not null;index:idx_samples_target_time,priority:1"`
	Status   string    `gorm:"not null"`
	TakenAt  time.Time `gorm:"not null;index:idx_samples_target_time,priority:2;index"`
	Data     string    `gorm:"type:text;not null"`
}

func (sampleRow) TableName() string { return "metric_samples" }

type alertRow struct {
	ID             string `gorm:"primaryKey"`
	RuleID         string `gorm:"not null;index"`
	RuleName       string
	TargetID       string
	Type           string
	Message        string
	Severity       string
	CurrentValue   float64
	ThresholdValue float64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	Resolved       bool `gorm:"not null;index"`
}

func (alertRow) TableName() string { return "alerts" }

func toAlertRow(a alerts.Alert) alertRow {
	var resolvedAt *time.Time
	if a.ResolvedAt != nil {
		at := a.ResolvedAt.UTC()
		resolvedAt = &at
	}
	return alertRow{
		ID:             a.ID,
		RuleID:         a.RuleID,
		RuleName:       a.RuleName,
		TargetID:       a.TargetID,
		Type:           string(a.Type),
		Message:        a.Message,
		Severity:       string(a.Severity),
		CurrentValue:   a.CurrentValue,
		ThresholdValue: a.ThresholdValue,
		CreatedAt:      a.CreatedAt.UTC(),
		ResolvedAt:     resolvedAt,
		Resolved:       a.Resolved,
	}
}

func (r alertRow) alert() alerts.Alert {
	return alerts.Alert{
		ID:             r.ID,
		RuleID:         r.RuleID,
		RuleName:       r.RuleName,
		TargetID:       r.TargetID,
		Type:           alerts.Type(r.Type),
		Message:        r.Message,
		Severity:       alerts.Severity(r.Severity),
		CurrentValue:   r.CurrentValue,
		ThresholdValue: r.ThresholdValue,
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
		Resolved:       r.Resolved,
	}
}

// SQL is a Store backed by SQLite through gorm.
type SQL struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQL opens (creating if needed) the SQLite database at path and
// migrates its schema. ":memory:" gives a private in-memory database.
func OpenSQL(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from being split across connections.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&targetRow{}, &sampleRow{}, &alertRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQL{db: db, now: time.Now}, nil
}

// SaveStatus implements Store.
func (s *SQL) SaveStatus(ctx context.Context, targetID string, status scheduler.Status, snap *snapshot.Snapshot) error {
	row := targetRow{ID: targetID, Status: string(status), SeenAt: s.now().UTC()}
	updates := []string{"status", "seen_at"}

	var sample *sampleRow
	if snap != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("store: encode snapshot: %w", err)
		}
		at := snap.TakenAt().UTC()
		row.LastSnapshotAt = &at
		updates = append(updates, "last_snapshot_at")
		sample = &sampleRow{TargetID: targetID, Status: string(status), TakenAt: at, Data: string(data)}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&row).Error; err != nil {
			return err
		}
		if sample != nil {
			return tx.Create(sample).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save status %s: %w", targetID, err)
	}
	return nil
}

// SaveAlert implements Store.
func (s *SQL) SaveAlert(ctx context.Context, a alerts.Alert) error {
	row := toAlertRow(a)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save alert %s: %w", a.ID, err)
	}
	return nil
}

// ResolveAlert implements Store.
func (s *SQL) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	err := s.db.WithContext(ctx).Model(&alertRow{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{"resolved": true, "resolved_at": &at}).Error
	if err != nil {
		return fmt.Errorf("store: resolve alert %s: %w", id, err)
	}
	return nil
}

// ListActiveAlerts implements Store.
func (s *SQL) ListActiveAlerts(ctx context.Context) ([]alerts.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list active alerts: %w", err)
	}
	out := make([]alerts.Alert, len(rows))
	for i, r := range rows {
		out[i] = r.alert()
	}
	return out, nil
}

// ListTargets implements Store.
func (s *SQL) ListTargets(ctx context.Context) ([]TargetRecord, error) {
	var rows []targetRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list targets: %w", err)
	}
	out := make([]TargetRecord, len(rows))
	for i, r := range rows {
		out[i] = TargetRecord{
			ID:             r.ID,
			Status:         scheduler.Status(r.Status),
			LastSnapshotAt: r.LastSnapshotAt,
			SeenAt:         r.SeenAt,
		}
	}
	return out, nil
}

// MetricHistory implements Store.
func (s *SQL) MetricHistory(ctx context.Context, targetID string, limit int) ([]Sample, error) {
	q := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("taken_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []sampleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: metric history %s: %w", targetID, err)
	}

	out := make([]Sample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		snap := new(snapshot.Snapshot)
		if err := json.Unmarshal([]byte(r.Data), snap); err != nil {
			return nil, fmt.Errorf("store: decode sample %d: %w", r.ID, err)
		}
		out = append(out, Sample{
			TargetID: r.TargetID,
			Status:   scheduler.Status(r.Status),
			TakenAt:  r.TakenAt,
			Snapshot: snap,
		})
	}
	return out, nil
}

// Prune implements Store.
func (s *SQL) Prune(ctx context.Context, before time.Time) (int, error) {
	before = before.UTC()
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("taken_at < ?", before).Delete(&sampleRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		res = tx.Where("resolved = ? AND resolved_at < ?", true, before).Delete(&alertRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return int(removed), nil
}

// Close implements Store.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
