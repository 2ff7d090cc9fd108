package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

const (
	// DefaultHistorySize is the number of alerts retained when no option is given.
	DefaultHistorySize = 1000

	emitTimeout = 10 * time.Second
)

// Alert is one firing of a rule against a target.
type Alert struct {
	ID       string `json:"id"`
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	// TargetID is empty for the local host.
	TargetID       string     `json:"target_id"`
	Type           Type       `json:"type"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	CurrentValue   float64    `json:"current_value"`
	ThresholdValue float64    `json:"threshold_value"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolved       bool       `json:"resolved"`
}

// RuleState is the hysteresis state for one (rule, target) pair.
type RuleState struct {
	FirstViolationAt      *time.Time `json:"first_violation_at,omitempty"`
	LastEvaluatedAt       time.Time  `json:"last_evaluated_at"`
	ConsecutiveViolations int        `json:"consecutive_violations"`
}

// RuleStatus reports a rule together with its evaluation state.
type RuleStatus struct {
	Rule Rule `json:"rule"`
	// Error is set for misconfigured rules, which never fire.
	Error string `json:"error,omitempty"`
	// LastEvaluatedAt is the last time the rule's path resolved for any target.
	LastEvaluatedAt *time.Time           `json:"last_evaluated_at,omitempty"`
	Targets         map[string]RuleState `json:"targets,omitempty"`
}

// Stats summarises the retained alert history and the rule set.
type Stats struct {
	Total              int              `json:"total"`
	Active             int              `json:"active"`
	Resolved           int              `json:"resolved"`
	BySeverity         map[Severity]int `json:"by_severity"`
	ByType             map[Type]int     `json:"by_type"`
	Rules              int              `json:"rules"`
	EnabledRules       int              `json:"enabled_rules"`
	MisconfiguredRules int              `json:"misconfigured_rules"`
}

// Notifier delivers fired and resolved alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// AlertStore persists the alert lifecycle.
type AlertStore interface {
	SaveAlert(ctx context.Context, a Alert) error
	ResolveAlert(ctx context.Context, alertID string, at time.Time) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the delivery target for fired and resolved alerts.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithStore sets the persistence target for alerts.
func WithStore(s AlertStore) Option { return func(e *Engine) { e.store = s } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithHistorySize caps the retained alert history.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

type stateKey struct {
	rule   string
	target string
}

type ruleEntry struct {
	rule          Rule
	err           error
	lastEvaluated time.Time
}

// event is a lifecycle transition waiting to be persisted and delivered.
type event struct {
	alert    Alert
	resolved bool
}

// Engine evaluates rules against snapshots and manages the alert lifecycle.
//
// Engine is safe for concurrent use. Checks for the same target are
// serialized by a per-target lock; checks for different targets only share
// mu, which is held for map updates.
type Engine struct {
	notifier    Notifier
	store       AlertStore
	now         func() time.Time
	newID       func() string
	historySize int
	logger      *slog.Logger

	mu          sync.Mutex
	rules       map[string]*ruleEntry
	order       []string
	states      map[stateKey]*RuleState
	active      map[stateKey]*Alert
	history     []*Alert
	targetLocks map[string]*sync.Mutex
}

// New returns an Engine with no rules.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:         time.Now,
		newID:       uuid.NewString,
		historySize: DefaultHistorySize,
		logger:      slog.Default(),
		rules:       make(map[string]*ruleEntry),
		states:      make(map[stateKey]*RuleState),
		active:      make(map[stateKey]*Alert),
		targetLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule adds or replaces a rule. A rule that fails validation is still
// registered so RuleStatus can report it, but it never fires; the validation
// error, wrapping ErrInvalidRule, is returned.
//
// Replacing a rule keeps its streaks only when metric path, condition and
// threshold are unchanged and the rule stays valid and enabled. Otherwise
// streaks are cleared and active alerts of the rule are resolved.
func (e *Engine) AddRule(r Rule) error {
	verr := r.Validate()
	if r.ID == "" {
		return verr
	}

	now := e.now()
	var events []event

	e.mu.Lock()
	entry := &ruleEntry{rule: r, err: verr}
	if prev, ok := e.rules[r.ID]; ok {
		if prev.err != nil || verr != nil || !r.Enabled || !prev.rule.sameTrigger(r) {
			events = e.clearRuleLocked(r.ID, now)
		} else {
			entry.lastEvaluated = prev.lastEvaluated
		}
	} else {
		e.order = append(e.order, r.ID)
	}
	e.rules[r.ID] = entry
	e.mu.Unlock()

	e.emitForTargets(events)

	if verr != nil {
		e.logger.Warn("alerts: rule misconfigured, it will never fire",
			"rule", r.ID, "err", verr)
		return verr
	}
	return nil
}

// RemoveRule deletes a rule, clears all its state and resolves its active
// alerts. Removing an unknown id is a no-op.
func (e *Engine) RemoveRule(id string) {
	now := e.now()

	e.mu.Lock()
	if _, ok := e.rules[id]; ok {
		delete(e.rules, id)
		for i, rid := range e.order {
			if rid == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
	events := e.clearRuleLocked(id, now)
	e.mu.Unlock()

	e.emitForTargets(events)
}

// SyncRules makes the rule set equal to rules: ids not present are removed,
// the rest are added or replaced. Validation errors are joined.
func (e *Engine) SyncRules(rules []Rule) error {
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.ID] = true
	}
	for _, r := range e.Rules() {
		if !keep[r.ID] {
			e.RemoveRule(r.ID)
		}
	}
	var errs []error
	for _, r := range rules {
		if err := e.AddRule(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// clearRuleLocked drops all state of rule id and resolves its active alerts.
func (e *Engine) clearRuleLocked(id string, now time.Time) []event {
	var events []event
	for k := range e.states {
		if k.rule == id {
			delete(e.states, k)
		}
	}
	for k, a := range e.active {
		if k.rule == id {
			events = append(events, e.resolveLocked(k, a, now))
		}
	}
	return events
}

func (e *Engine) resolveLocked(k stateKey, a *Alert, now time.Time) event {
	at := now
	a.Resolved = true
	a.ResolvedAt = &at
	delete(e.active, k)
	return event{alert: *a, resolved: true}
}

// Rules returns the registered rules in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].rule)
	}
	return out
}

// RuleStatus returns every rule with its misconfiguration error, last
// evaluation time and per-target streaks.
func (e *Engine) RuleStatus() []RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleStatus, 0, len(e.order))
	idx := make(map[string]int, len(e.order))
	for _, id := range e.order {
		ent := e.rules[id]
		rs := RuleStatus{Rule: ent.rule}
		if ent.err != nil {
			rs.Error = ent.err.Error()
		}
		if !ent.lastEvaluated.IsZero() {
			t := ent.lastEvaluated
			rs.LastEvaluatedAt = &t
		}
		idx[id] = len(out)
		out = append(out, rs)
	}
	for k, st := range e.states {
		i, ok := idx[k.rule]
		if !ok {
			continue
		}
		if out[i].Targets == nil {
			out[i].Targets = make(map[string]RuleState)
		}
		out[i].Targets[k.target] = copyState(st)
	}
	return out
}

// State returns the hysteresis state of (ruleID, targetID), if any.
func (e *Engine) State(ruleID, targetID string) (RuleState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[stateKey{ruleID, targetID}]
	if !ok {
		return RuleState{}, false
	}
	return copyState(st), true
}

func copyState(st *RuleState) RuleState {
	cp := *st
	if st.FirstViolationAt != nil {
		t := *st.FirstViolationAt
		cp.FirstViolationAt = &t
	}
	return cp
}

// Check evaluates every enabled, valid rule against snap for targetID.
// A rule whose path does not resolve is skipped without touching its state.
func (e *Engine) Check(snap *snapshot.Snapshot, targetID string) {
	lock := e.targetLock(targetID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()

	e.mu.Lock()
	entries := make([]*ruleEntry, 0, len(e.order))
	for _, id := range e.order {
		ent := e.rules[id]
		if ent.rule.Enabled && ent.err == nil {
			entries = append(entries, ent)
		}
	}
	e.mu.Unlock()

	var events []event
	for _, ent := range entries {
		value, ok := snap.Lookup(ent.rule.MetricPath)
		if !ok {
			e.logger.Debug("alerts: metric path not found, rule skipped",
				"rule", ent.rule.ID, "path", ent.rule.MetricPath, "target", targetID)
			continue
		}
		if ev, ok := e.evaluate(ent, targetID, value, now); ok {
			events = append(events, ev)
		}
	}

	// Emitted under the target lock so persistence for one target stays ordered.
	e.emit(events)
}

// evaluate advances the state of one (rule, target) pair and returns the
// lifecycle transition it caused, if any.
func (e *Engine) evaluate(ent *ruleEntry, targetID string, value float64, now time.Time) (event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The rule may have been removed or replaced since Check listed it.
	if cur, ok := e.rules[ent.rule.ID]; !ok || cur != ent {
		return event{}, false
	}

	rule := ent.rule
	k := stateKey{rule.ID, targetID}
	st, ok := e.states[k]
	if !ok {
		st = &RuleState{}
		e.states[k] = st
	}
	st.LastEvaluatedAt = now
	ent.lastEvaluated = now

	if !rule.Condition.Holds(value, rule.Threshold) {
		st.FirstViolationAt = nil
		st.ConsecutiveViolations = 0
		if a, ok := e.active[k]; ok {
			return e.resolveLocked(k, a, now), true
		}
		return event{}, false
	}

	if st.FirstViolationAt == nil {
		t := now
		st.FirstViolationAt = &t
	}
	st.ConsecutiveViolations++

	if now.Sub(*st.FirstViolationAt) < rule.Duration {
		return event{}, false
	}
	if _, ok := e.active[k]; ok {
		return event{}, false
	}

	a := &Alert{
		ID:             e.newID(),
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		TargetID:       targetID,
		Type:           rule.Type,
		Message:        fmt.Sprintf("%s: %.2f (threshold: %g)", rule.displayName(), value, rule.Threshold),
		Severity:       rule.Severity,
		CurrentValue:   value,
		ThresholdValue: rule.Threshold,
		CreatedAt:      now,
	}
	e.active[k] = a
	e.appendHistoryLocked(a)
	return event{alert: *a}, true
}

func (e *Engine) appendHistoryLocked(a *Alert) {
	e.history = append(e.history, a)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
}

func (e *Engine) targetLock(targetID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.targetLocks[targetID]
	if !ok {
		l = &sync.Mutex{}
		e.targetLocks[targetID] = l
	}
	return l
}

// emitForTargets emits events raised outside Check. Each target's events are
// emitted under that target's lock, after any Check still persisting the
// alerts being resolved.
func (e *Engine) emitForTargets(events []event) {
	if len(events) == 0 {
		return
	}
	var order []string
	byTarget := make(map[string][]event)
	for _, ev := range events {
		id := ev.alert.TargetID
		if _, ok := byTarget[id]; !ok {
			order = append(order, id)
		}
		byTarget[id] = append(byTarget[id], ev)
	}
	for _, id := range order {
		lock := e.targetLock(id)
		lock.Lock()
		e.emit(byTarget[id])
		lock.Unlock()
	}
}

// emit persists and delivers lifecycle transitions. Failures are logged.
// Callers hold the lock of every target involved.
func (e *Engine) emit(events []event) {
	for _, ev := range events {
		a := ev.alert
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)

		if ev.resolved {
			e.logger.Info("alert resolved",
				"rule", a.RuleID, "target", a.TargetID, "alert_id", a.ID)
		} else {
			e.logger.Warn("alert fired",
				"rule", a.RuleID, "target", a.TargetID, "value", a.CurrentValue,
				"severity", a.Severity, "alert_id", a.ID)
		}

		if e.store != nil {
			var err error
			if ev.resolved {
				err = e.store.ResolveAlert(ctx, a.ID, *a.ResolvedAt)
			} else {
				err = e.store.SaveAlert(ctx, a)
			}
			if err != nil {
				e.logger.Error("alerts: persist failed", "alert_id", a.ID, "err", err)
			}
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, a)
		}
		cancel()
	}
}

// Restore seeds unresolved alerts loaded from persistence so deduplication
// survives a restart. Rules should be added first: restored alerts whose rule
// is not registered are resolved immediately.
func (e *Engine) Restore(alerts []Alert) {
	now := e.now()
	var events []event

	e.mu.Lock()
	known := make(map[string]bool, len(e.history))
	for _, a := range e.history {
		known[a.ID] = true
	}
	for _, a := range alerts {
		if a.Resolved || known[a.ID] {
			continue
		}
		cp := a
		k := stateKey{a.RuleID, a.TargetID}
		if _, ok := e.active[k]; ok {
			continue
		}
		e.active[k] = &cp
		e.appendHistoryLocked(&cp)
		known[a.ID] = true
		if _, ok := e.rules[a.RuleID]; !ok {
			events = append(events, e.resolveLocked(k, &cp, now))
		}
	}
	sort.SliceStable(e.history, func(i, j int) bool {
		return e.history[i].CreatedAt.Before(e.history[j].CreatedAt)
	})
	e.mu.Unlock()

	e.emitForTargets(events)
}

// GetActiveAlerts returns copies of all unresolved alerts, oldest first.
func (e *Engine) GetActiveAlerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, copyAlert(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetHistory returns the most recent limit alerts, resolved or not, in
// creation order. limit <= 0 returns everything retained.
func (e *Engine) GetHistory(limit int) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.history
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Alert, len(src))
	for i, a := range src {
		out[i] = copyAlert(a)
	}
	return out
}

// Stats summarises retained alerts and the rule set.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Total:      len(e.history),
		Active:     len(e.active),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
		Rules:      len(e.rules),
	}
	for _, a := range e.history {
		if a.Resolved {
			s.Resolved++
		}
		s.BySeverity[a.Severity]++
		s.ByType[a.Type]++
	}
	for _, ent := range e.rules {
		if ent.err != nil {
			s.MisconfiguredRules++
		} else if ent.rule.Enabled {
			s.EnabledRules++
		}
	}
	return s
}

func copyAlert(a *Alert) Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return cp
}
