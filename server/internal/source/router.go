package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// ErrUnknownKind is returned for targets whose kind has no registered source.
var ErrUnknownKind = errors.New("unknown target kind")

// Router dispatches acquisitions to the source registered for a target's kind.
type Router struct {
	mu      sync.RWMutex
	sources map[string]scheduler.MetricSource
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{sources: make(map[string]scheduler.MetricSource)}
}

// Register sets the source for kind, replacing any previous one.
func (r *Router) Register(kind string, src scheduler.MetricSource) {
	r.mu.Lock()
	r.sources[kind] = src
	r.mu.Unlock()
}

// Acquire implements scheduler.MetricSource.
func (r *Router) Acquire(ctx context.Context, t scheduler.Target) (*snapshot.Snapshot, error) {
	r.mu.RLock()
	src, ok := r.sources[t.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source: target %q: %w %q", t.ID, ErrUnknownKind, t.Kind)
	}
	return src.Acquire(ctx, t)
}

// Close closes every registered source that holds resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for kind, src := range r.sources {
		if c, ok := src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("source %s: %w", kind, err))
			}
		}
	}
	return errors.Join(errs...)
}
