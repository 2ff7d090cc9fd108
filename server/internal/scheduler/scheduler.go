package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

// Defaults applied to zero Options fields.
const (
	DefaultInterval     = 60 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultWorkers      = 8
	DefaultGracePeriod  = 15 * time.Second
	DefaultOfflineAfter = 1

	persistTimeout = 5 * time.Second
)

// MetricSource produces a snapshot for one target. Acquire should return
// once ctx is done; the scheduler stops waiting for it either way.
type MetricSource interface {
	Acquire(ctx context.Context, t Target) (*snapshot.Snapshot, error)
}

// StatusWriter persists target status. snap is nil for offline targets.
type StatusWriter interface {
	SaveStatus(ctx context.Context, targetID string, status Status, snap *snapshot.Snapshot) error
}

// Checker evaluates a snapshot, typically the alert engine.
type Checker interface {
	Check(snap *snapshot.Snapshot, targetID string)
}

// Options tunes a Scheduler.
type Options struct {
	// Workers caps concurrent checks within a tick.
	Workers int
	// Timeout bounds one acquisition.
	Timeout time.Duration
	// GracePeriod is how long Stop waits for in-flight checks.
	GracePeriod time.Duration
	// OfflineAfter is the number of consecutive failures before a target is
	// marked offline. Earlier failures keep the previous status.
	OfflineAfter int
	// Ceilings maps metric paths to hard limits; exceeding one yields warning.
	Ceilings map[string]float64

	Logger *slog.Logger
	Now    func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	if o.OfflineAfter < 1 {
		o.OfflineAfter = DefaultOfflineAfter
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type targetState struct {
	target         Target
	status         Status
	reason         string
	lastSnapshotAt time.Time
	lastCheckedAt  time.Time
	lastDuration   time.Duration
	failures       int
	lastErr        string
}

// Scheduler drives periodic checks of registered targets.
// It is safe for concurrent use.
type Scheduler struct {
	src  MetricSource
	st   StatusWriter
	eng  Checker
	opts Options
	log  *slog.Logger

	mu               sync.Mutex
	targets          map[string]*targetState
	running          bool
	interval         time.Duration
	cancelLoop       context.CancelFunc
	cancelWork       context.CancelFunc
	done             chan struct{}
	ticks            uint64
	lastTickAt       time.Time
	lastTickDuration time.Duration
}

// New returns a stopped Scheduler. st and eng may be nil.
func New(src MetricSource, st StatusWriter, eng Checker, opts Options) *Scheduler {
	opts.applyDefaults()
	ceilings := make(map[string]float64, len(opts.Ceilings))
	for k, v := range opts.Ceilings {
		ceilings[k] = v
	}
	opts.Ceilings = ceilings
	return &Scheduler{
		src:     src,
		st:      st,
		eng:     eng,
		opts:    opts,
		log:     opts.Logger,
		targets: make(map[string]*targetState),
	}
}

// RegisterTarget adds t, or updates the definition of an existing target
// while keeping its runtime state.
func (s *Scheduler) RegisterTarget(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.targets[t.ID]; ok {
		ts.target = t
		return
	}
	s.targets[t.ID] = &targetState{target: t, status: StatusUnknown}
}

// UnregisterTarget removes a target. An in-flight check for it completes but
// its result is discarded.
func (s *Scheduler) UnregisterTarget(id string) {
	s.mu.Lock()
	delete(s.targets, id)
	s.mu.Unlock()
}

// SetTargets makes the registered set equal to ts.
func (s *Scheduler) SetTargets(ts []Target) {
	keep := make(map[string]bool, len(ts))
	for _, t := range ts {
		keep[t.ID] = true
		s.RegisterTarget(t)
	}
	s.mu.Lock()
	for id := range s.targets {
		if !keep[id] {
			delete(s.targets, id)
		}
	}
	s.mu.Unlock()
}

// RestoreStatus seeds the last persisted status of a registered target.
func (s *Scheduler) RestoreStatus(id string, status Status, lastSnapshotAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.targets[id]; ok && ts.status == StatusUnknown {
		ts.status = status
		ts.lastSnapshotAt = lastSnapshotAt
	}
}

// Start begins ticking every interval; the first tick runs immediately.
// It is a no-op if the scheduler is already running.
func (s *Scheduler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	workCtx, cancelWork := context.WithCancel(context.Background())
	s.running = true
	s.interval = interval
	s.cancelLoop = cancelLoop
	s.cancelWork = cancelWork
	s.done = make(chan struct{})

	go s.loop(loopCtx, workCtx, interval, s.done)
	s.log.Info("scheduler: started", "interval", interval, "workers", s.opts.Workers)
}

// Stop halts ticking and joins the loop. In-flight checks get the grace
// period to finish; after that they are cancelled and write nothing.
// Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancelLoop, cancelWork, done := s.cancelLoop, s.cancelWork, s.done
	s.mu.Unlock()

	cancelLoop()

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.log.Warn("scheduler: grace period elapsed, cancelling in-flight checks",
			"grace_period", s.opts.GracePeriod)
		cancelWork()
		<-done
	}
	cancelWork()
	s.log.Info("scheduler: stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(loopCtx, workCtx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	s.tick(loopCtx, workCtx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tick(loopCtx, workCtx, interval)
		}
	}
}

// tick checks every due target. loopCtx gates the start of new checks,
// workCtx cancels running ones.
func (s *Scheduler) tick(loopCtx, workCtx context.Context, base time.Duration) {
	start := s.opts.Now()
	due := s.dueTargets(start, base)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)
	for _, t := range due {
		if loopCtx.Err() != nil {
			break
		}
		t := t
		g.Go(func() error {
			if loopCtx.Err() != nil {
				return nil
			}
			s.checkTarget(workCtx, t, start)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := s.opts.Now().Sub(start)
	s.mu.Lock()
	s.ticks++
	s.lastTickAt = start
	s.lastTickDuration = elapsed
	s.mu.Unlock()

	s.log.Debug("scheduler: tick complete", "targets", len(due), "duration", elapsed)
}

// dueTargets returns targets whose interval has elapsed, ordered by id.
func (s *Scheduler) dueTargets(now time.Time, base time.Duration) []Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Target
	for _, ts := range s.targets {
		interval := ts.target.Interval
		if interval < base {
			interval = base
		}
		// Half a base interval of slack absorbs ticker jitter.
		if ts.lastCheckedAt.IsZero() || now.Sub(ts.lastCheckedAt)+base/2 >= interval {
			out = append(out, ts.target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkTarget acquires, classifies, persists and forwards one target.
func (s *Scheduler) checkTarget(workCtx context.Context, t Target, tickStart time.Time) {
	start := s.opts.Now()

	acqCtx, cancel := context.WithTimeout(workCtx, s.opts.Timeout)
	snap, err := s.acquire(acqCtx, t)
	cancel()

	if workCtx.Err() != nil {
		s.log.Warn("scheduler: check cancelled by stop, status unchanged", "target", t.ID)
		return
	}
	elapsed := s.opts.Now().Sub(start)

	if err != nil {
		s.recordFailure(t, tickStart, elapsed, err)
		return
	}

	status, reason := s.classify(snap)

	s.mu.Lock()
	ts, ok := s.targets[t.ID]
	if ok {
		ts.status = status
		ts.reason = reason
		ts.failures = 0
		ts.lastErr = ""
		ts.lastCheckedAt = tickStart
		ts.lastDuration = elapsed
		ts.lastSnapshotAt = snap.TakenAt()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if status == StatusWarning {
		s.log.Warn("scheduler: target over ceiling", "target", t.ID, "reason", reason)
	}
	s.persist(t.ID, status, snap)
	if s.eng != nil {
		s.eng.Check(snap, t.ID)
	}
}

func (s *Scheduler) recordFailure(t Target, tickStart time.Time, elapsed time.Duration, err error) {
	s.mu.Lock()
	ts, ok := s.targets[t.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ts.failures++
	ts.lastErr = err.Error()
	ts.lastCheckedAt = tickStart
	ts.lastDuration = elapsed
	failures := ts.failures
	goOffline := failures >= s.opts.OfflineAfter
	if goOffline {
		ts.status = StatusOffline
		ts.reason = ""
	}
	s.mu.Unlock()

	s.log.Warn("scheduler: acquisition failed",
		"target", t.ID, "kind", t.Kind, "failures", failures, "err", err)
	if goOffline {
		s.persist(t.ID, StatusOffline, nil)
	}
}

// acquire calls the source but never waits past ctx, even if the source
// ignores it.
func (s *Scheduler) acquire(ctx context.Context, t Target) (*snapshot.Snapshot, error) {
	type result struct {
		snap *snapshot.Snapshot
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		snap, err := s.src.Acquire(ctx, t)
		ch <- result{snap, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.snap == nil {
			return nil, errors.New("source returned no snapshot")
		}
		return r.snap, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire: %w", ctx.Err())
	}
}

// classify applies the hard ceilings to a successful snapshot.
func (s *Scheduler) classify(snap *snapshot.Snapshot) (Status, string) {
	paths := make([]string, 0, len(s.opts.Ceilings))
	for p := range s.opts.Ceilings {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		limit := s.opts.Ceilings[p]
		if v, ok := snap.Lookup(p); ok && v > limit {
			return StatusWarning, fmt.Sprintf("%s %.2f > %g", p, v, limit)
		}
	}
	return StatusOnline, ""
}

// persist writes status on a fresh context so a stop cannot interrupt a write
// halfway.
func (s *Scheduler) persist(id string, status Status, snap *snapshot.Snapshot) {
	if s.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.st.SaveStatus(ctx, id, status, snap); err != nil {
		s.log.Error("scheduler: save status failed", "target", id, "err", err)
	}
}

// Status returns the scheduler state with targets ordered by id.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := SchedulerStatus{
		Running:          s.running,
		Interval:         s.interval,
		Ticks:            s.ticks,
		LastTickDuration: s.lastTickDuration,
		Targets:          make([]TargetStatus, 0, len(s.targets)),
	}
	if !s.lastTickAt.IsZero() {
		t := s.lastTickAt
		out.LastTickAt = &t
	}
	for _, ts := range s.targets {
		st := TargetStatus{
			ID:                  ts.target.ID,
			Name:                ts.target.Name,
			Kind:                ts.target.Kind,
			Status:              ts.status,
			Interval:            ts.target.Interval,
			LastCheckDuration:   ts.lastDuration,
			ConsecutiveFailures: ts.failures,
			LastError:           ts.lastErr,
			Reason:              ts.reason,
		}
		if !ts.lastSnapshotAt.IsZero() {
			t := ts.lastSnapshotAt
			st.LastSnapshotAt = &t
		}
		if !ts.lastCheckedAt.IsZero() {
			t := ts.lastCheckedAt
			st.LastCheckedAt = &t
		}
		out.Targets = append(out.Targets, st)
	}
	sort.Slice(out.Targets, func(i, j int) bool { return out.Targets[i].ID < out.Targets[j].ID })
	return out
}
