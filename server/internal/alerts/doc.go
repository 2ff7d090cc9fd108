// Package alerts implements threshold rules with duration-based hysteresis.
//
// Engine.Check evaluates every enabled rule against one target's snapshot.
// Per (rule, target) the engine tracks when the current violation streak
// began; an alert fires once the streak has lasted at least the rule's
// Duration and resolves the first time the condition stops holding:
//
//	None -> Violating -> Active -> Resolved (-> None)
//
// At most one unresolved alert exists per (rule, target). A rule whose metric
// path does not resolve in a snapshot is skipped for that snapshot and its
// state is left untouched. Rules that fail validation are kept, reported by
// RuleStatus, and never fire.
//
// Fired and resolved alerts are persisted through an AlertStore and delivered
// through a Notifier, both outside the engine's locks.
package alerts
