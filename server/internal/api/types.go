package api

import (
	"time"

	"github.com/hostwatch/hostwatch/server/internal/scheduler"
	"github.com/hostwatch/hostwatch/server/internal/store"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" when every target is online, "degraded" otherwise and
	// "stopped" when the scheduler is not running.
	State        string `json:"state"`
	Running      bool   `json:"running"`
	TargetCount  int    `json:"target_count"`
	OnlineCount  int    `json:"online_count"`
	WarningCount int    `json:"warning_count"`
	OfflineCount int    `json:"offline_count"`
	UnknownCount int    `json:"unknown_count"`
	AlertCount   int    `json:"alert_count"`
}

// TargetResponse is one entry in GET /api/v1/targets.
type TargetResponse struct {
	scheduler.TargetStatus
	ActiveAlerts int              `json:"active_alerts"`
	Diagnostics  []DiagnosticHint `json:"diagnostics"`
}

// HistoryResponse is the payload for GET /api/v1/targets/{id}/history.
type HistoryResponse struct {
	TargetID string         `json:"target_id"`
	Samples  []store.Sample `json:"samples"`
}

// RuleRequest is the body of POST /api/v1/rules.
type RuleRequest struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	MetricPath string  `json:"metric_path"`
	Condition  string  `json:"condition"`
	Threshold  float64 `json:"threshold"`
	Severity   string  `json:"severity"`
	// Duration is a Go duration string ("5m"). DurationMinutes is used when
	// Duration is empty.
	Duration        string  `json:"duration"`
	DurationMinutes float64 `json:"duration_minutes"`
	Enabled         *bool   `json:"enabled"`
	Description     string  `json:"description"`
}

// SchedulerResponse is the payload for GET /api/v1/scheduler.
type SchedulerResponse struct {
	scheduler.SchedulerStatus
	GeneratedAt time.Time `json:"generated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}
