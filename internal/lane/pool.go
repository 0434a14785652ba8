package lane

import (
	"context"
	"fmt"

	"github.com/mattjoyce/graphproc/internal/log"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

// Pool is the set of running lanes, one per registered worker. It is built
// once at startup and read-only afterwards.
type Pool struct {
	lanes  []*Lane
	byName map[string]*Lane
}

// StartPool prepares and verifies every worker in reg, then starts one lane
// per worker. A Prepare failure aborts startup; a Verify failure is logged.
func StartPool(ctx context.Context, reg *plugin.Registry, startup plugin.StartupData) (*Pool, error) {
	logger := log.WithComponent("lanes")
	workers := reg.All()

	for _, w := range workers {
		wlog := log.WithWorker(w.Name())
		if p, ok := w.(plugin.Preparer); ok {
			sd := startup
			sd.Config = reg.Config(w.Name())
			sd.Logger = wlog
			if err := p.Prepare(ctx, sd); err != nil {
				return nil, fmt.Errorf("prepare worker %q: %w", w.Name(), err)
			}
		}
		if v, ok := w.(plugin.Verifier); ok {
			if err := v.Verify(); err != nil {
				wlog.Warn("worker verification failed", "error", err)
			}
		}
	}

	pool := &Pool{
		lanes:  make([]*Lane, 0, len(workers)),
		byName: make(map[string]*Lane, len(workers)),
	}
	for _, w := range workers {
		l := New(w, log.WithWorker(w.Name()))
		l.Start(ctx)
		pool.lanes = append(pool.lanes, l)
		pool.byName[w.Name()] = l
	}
	logger.Info("worker lanes started", "count", len(pool.lanes))
	return pool, nil
}

// Lanes returns the lanes in registration order.
func (p *Pool) Lanes() []*Lane {
	out := make([]*Lane, len(p.lanes))
	copy(out, p.lanes)
	return out
}

// Get returns the lane for a worker.
func (p *Pool) Get(name string) (*Lane, bool) {
	l, ok := p.byName[name]
	return l, ok
}

// Len returns the number of lanes.
func (p *Pool) Len() int { return len(p.lanes) }

// Stats returns counters for every lane.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, 0, len(p.lanes))
	for _, l := range p.lanes {
		out = append(out, l.Stats())
	}
	return out
}

// Stop stops every lane and waits for them to exit or for ctx to end.
func (p *Pool) Stop(ctx context.Context) error {
	for _, l := range p.lanes {
		l.Stop()
	}
	for _, l := range p.lanes {
		select {
		case <-l.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for lane %q: %w", l.Name(), ctx.Err())
		}
	}
	return nil
}
