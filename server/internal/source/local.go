package source

import (
	"context"

	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// Local samples the host the server runs on.
type Local struct {
	collector *hostmetrics.Collector
}

// NewLocal returns a Local source using c.
func NewLocal(c *hostmetrics.Collector) *Local {
	return &Local{collector: c}
}

// Acquire implements scheduler.MetricSource. The target's connection
// parameters are ignored.
func (l *Local) Acquire(ctx context.Context, _ scheduler.Target) (*snapshot.Snapshot, error) {
	return l.collector.Collect(ctx)
}
