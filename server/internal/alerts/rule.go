package alerts

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hostwatch/hostwatch/server/internal/config"
)

// ErrInvalidRule is returned by AddRule for rules that can never be evaluated.
var ErrInvalidRule = errors.New("invalid rule")

// Condition is the comparison applied between a metric value and a threshold.
type Condition string

const (
	GreaterThan Condition = "greater_than"
	LessThan    Condition = "less_than"
	Equals      Condition = "equals"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case GreaterThan, LessThan, Equals:
		return true
	}
	return false
}

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Type is the metric family a rule watches. It only groups alerts in stats
// and notifications.
type Type string

const (
	TypeCPU         Type = "cpu"
	TypeMemory      Type = "memory"
	TypeDisk        Type = "disk"
	TypeNetwork     Type = "network"
	TypeTemperature Type = "temperature"
	TypeProcess     Type = "process"
	TypeCustom      Type = "custom"
)

// Rule is a threshold over one metric path, sustained for Duration.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        Type          `json:"type"`
	MetricPath  string        `json:"metric_path"`
	Condition   Condition     `json:"condition"`
	Threshold   float64       `json:"threshold"`
	Duration    time.Duration `json:"duration"`
	Severity    Severity      `json:"severity"`
	Enabled     bool          `json:"enabled"`
	Description string        `json:"description,omitempty"`
}

// Validate returns a wrapped ErrInvalidRule describing the first problem found.
func (r Rule) Validate() error {
	var problems []string
	if r.ID == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(r.MetricPath) == "" {
		problems = append(problems, "metric_path is required")
	}
	if !r.Condition.Valid() {
		problems = append(problems, fmt.Sprintf("unknown condition %q", r.Condition))
	}
	if !r.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", r.Severity))
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		problems = append(problems, "threshold must be finite")
	}
	if r.Duration < 0 {
		problems = append(problems, "duration must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidRule, r.ID, strings.Join(problems, "; "))
	}
	return nil
}

// sameTrigger reports whether two versions of a rule watch the same thing, in
// which case streak state can carry over a rule update.
func (r Rule) sameTrigger(o Rule) bool {
	return r.MetricPath == o.MetricPath && r.Condition == o.Condition && r.Threshold == o.Threshold
}

func (r Rule) displayName() string {
	if r.Description != "" {
		return r.Description
	}
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// RuleFromConfig converts a configured rule. Type defaults to custom.
func RuleFromConfig(c config.RuleConfig) Rule {
	typ := Type(c.Type)
	if typ == "" {
		typ = TypeCustom
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return Rule{
		ID:          c.ID,
		Name:        name,
		Type:        typ,
		MetricPath:  c.MetricPath,
		Condition:   Condition(c.Condition),
		Threshold:   c.Threshold,
		Duration:    c.SustainFor(),
		Severity:    Severity(c.Severity),
		Enabled:     c.IsEnabled(),
		Description: c.Description,
	}
}

// DefaultRules returns the stock CPU, memory and disk rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "cpu_high", Name: "High CPU Usage", Type: TypeCPU,
			MetricPath: "cpu.usage_total", Condition: GreaterThan, Threshold: 80,
			Duration: 5 * time.Minute, Severity: SeverityHigh, Enabled: true,
			Description: "CPU usage is above 80%",
		},
		{
			ID: "cpu_critical", Name: "Critical CPU Usage", Type: TypeCPU,
			MetricPath: "cpu.usage_total", Condition: GreaterThan, Threshold: 95,
			Duration: 2 * time.Minute, Severity: SeverityCritical, Enabled: true,
			Description: "CPU usage is critically high",
		},
		{
			ID: "memory_high", Name: "High Memory Usage", Type: TypeMemory,
			MetricPath: "memory.percent", Condition: GreaterThan, Threshold: 85,
			Duration: 5 * time.Minute, Severity: SeverityHigh, Enabled: true,
			Description: "Memory usage is above 85%",
		},
		{
			ID: "memory_critical", Name: "Critical Memory Usage", Type: TypeMemory,
			MetricPath: "memory.percent", Condition: GreaterThan, Threshold: 95,
			Duration: 2 * time.Minute, Severity: SeverityCritical, Enabled: true,
			Description: "Memory usage is critically high",
		},
		{
			ID: "disk_high", Name: "High Disk Usage", Type: TypeDisk,
			MetricPath: "disk.partitions.0.percent", Condition: GreaterThan, Threshold: 90,
			Duration: 10 * time.Minute, Severity: SeverityHigh, Enabled: true,
			Description: "Disk usage is above 90%",
		},
	}
}
