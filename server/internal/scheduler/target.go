package scheduler

import (
	"time"

	"github.com/hostwatch/hostwatch/server/internal/config"
)

// Status is the health classification of a target.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusWarning Status = "warning"
	StatusOffline Status = "offline"
)

// Target kinds.
const (
	KindLocal = "local"
	KindSSH   = "ssh"
	KindHTTP  = "http"
)

// Target is a monitored host. Conn carries the connection parameters, which
// only the metric source interprets.
type Target struct {
	ID   string
	Name string
	Kind string
	// Interval overrides the scheduler interval. Values shorter than the
	// scheduler interval are clamped to it.
	Interval time.Duration
	Conn     config.TargetConfig
}

// TargetFromConfig converts a configured target.
func TargetFromConfig(c config.TargetConfig) Target {
	return Target{
		ID:       c.ID,
		Name:     c.Name,
		Kind:     c.Kind,
		Interval: c.Interval,
		Conn:     c,
	}
}

// TargetStatus is the runtime state of one target.
type TargetStatus struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Kind                string        `json:"kind"`
	Status              Status        `json:"status"`
	Interval            time.Duration `json:"interval"`
	LastSnapshotAt      *time.Time    `json:"last_snapshot_at,omitempty"`
	LastCheckedAt       *time.Time    `json:"last_checked_at,omitempty"`
	LastCheckDuration   time.Duration `json:"last_check_duration"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	// Reason explains a warning status, naming the exceeded ceiling.
	Reason string `json:"reason,omitempty"`
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Running          bool           `json:"running"`
	Interval         time.Duration  `json:"interval"`
	Ticks            uint64         `json:"ticks"`
	LastTickAt       *time.Time     `json:"last_tick_at,omitempty"`
	LastTickDuration time.Duration  `json:"last_tick_duration"`
	Targets          []TargetStatus `json:"targets"`
}

// Counts returns the number of targets per status.
func (s SchedulerStatus) Counts() map[Status]int {
	out := map[Status]int{
		StatusUnknown: 0, StatusOnline: 0, StatusWarning: 0, StatusOffline: 0,
	}
	for _, t := range s.Targets {
		out[t.Status]++
	}
	return out
}
