// Package scheduler polls registered targets on an interval.
//
// Each tick checks every due target concurrently through a bounded worker
// pool. A check acquires a snapshot under a per-check timeout, classifies the
// target as online, warning or offline, persists the status and forwards the
// snapshot to the alert engine. A target that fails or hangs only affects its
// own status; the tick waits for it no longer than the timeout.
//
// Ticks never overlap, so snapshots for one target reach the engine in order.
// Stop prevents new checks from starting, waits up to the grace period for
// in-flight ones and then cancels them; a cancelled check writes nothing, so
// the target keeps its previous status.
package scheduler
