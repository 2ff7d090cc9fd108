package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// DiagnosticHint is one human-readable insight about a target's health.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a target's scheduler state and its
// active alerts. Hints are ordered critical first, then warning, then info.
func computeDiagnostics(ts scheduler.TargetStatus, active []alerts.Alert, base time.Duration, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	switch ts.Status {
	case scheduler.StatusOffline:
		hints = append(hints, DiagnosticHint{
			Key:   "unreachable",
			Level: "critical",
			Title: "Can't reach target",
			Detail: fmt.Sprintf(
				"The last %d poll(s) failed. The most recent error was: %q. "+
					"Check that the host is up and its credentials are valid.",
				ts.ConsecutiveFailures, ts.LastError),
		})
	case scheduler.StatusUnknown:
		if ts.LastCheckedAt == nil {
			hints = append(hints, DiagnosticHint{
				Key:    "warming_up",
				Level:  "info",
				Title:  "Waiting for first poll",
				Detail: "This target has not been polled yet. Status appears after the next scheduler tick.",
			})
		}
	case scheduler.StatusWarning:
		hints = append(hints, DiagnosticHint{
			Key:    "ceiling_exceeded",
			Level:  "warning",
			Title:  "Resource ceiling exceeded",
			Detail: ts.Reason,
		})
	}

	if ts.Status != scheduler.StatusOffline && ts.ConsecutiveFailures > 0 {
		n := float64(ts.ConsecutiveFailures)
		hints = append(hints, DiagnosticHint{
			Key:   "polls_failing",
			Level: "warning",
			Title: "Polls failing",
			Detail: fmt.Sprintf(
				"The last %d poll(s) failed but the target is not yet offline. Last error: %q.",
				ts.ConsecutiveFailures, ts.LastError),
			Value: &n,
		})
	}

	interval := ts.Interval
	if interval < base {
		interval = base
	}
	if ts.LastSnapshotAt != nil && interval > 0 {
		if age := now.Sub(*ts.LastSnapshotAt); age > 3*interval {
			mins := age.Minutes()
			hints = append(hints, DiagnosticHint{
				Key:   "stale",
				Level: "warning",
				Title: "Stale data",
				Detail: fmt.Sprintf(
					"The last successful snapshot is %s old, more than three poll intervals.",
					age.Round(time.Second)),
				Value: &mins,
			})
		}
	}

	for _, a := range active {
		level := "warning"
		if a.Severity == alerts.SeverityCritical {
			level = "critical"
		}
		v := a.CurrentValue
		hints = append(hints, DiagnosticHint{
			Key:    "alert_" + a.RuleID,
			Level:  level,
			Title:  a.RuleName,
			Detail: a.Message,
			Value:  &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "The target is reachable, within its resource ceilings and has no active alerts.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
