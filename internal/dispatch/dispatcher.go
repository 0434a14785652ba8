package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/graphproc/internal/fanout"
	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/lane"
	"github.com/mattjoyce/graphproc/internal/log"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

const (
	// DefaultResultTimeout is the length of one wait slice for a streamed result.
	DefaultResultTimeout = 10 * time.Second
	// DefaultResultWaits is how many slices a streamed result gets by default.
	DefaultResultWaits = 6
)

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	// ResultTimeout bounds one wait for a streamed result.
	ResultTimeout time.Duration
	// ResultWaits is how many ResultTimeout slices a streamed result gets
	// before it is recorded as ErrResultTimeout.
	ResultWaits int
	// ChunkSize is the fan-out read size in bytes.
	ChunkSize int
	// TeeBuffer is how many chunks each worker's tee holds before the
	// fan-out waits on it.
	TeeBuffer int
	// TempDir holds materialized streams. Empty means os.TempDir().
	TempDir string
}

func (o Options) withDefaults() Options {
	if o.ResultTimeout <= 0 {
		o.ResultTimeout = DefaultResultTimeout
	}
	if o.ResultWaits <= 0 {
		o.ResultWaits = DefaultResultWaits
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = fanout.DefaultChunkSize
	}
	if o.TeeBuffer <= 0 {
		o.TeeBuffer = fanout.DefaultBufferChunks
	}
	return o
}

// Report is the outcome of one dispatched event.
type Report struct {
	Ref      graph.ElementRef
	Key      string
	Name     string
	Streamed bool
	// Results holds exactly one entry per interested worker.
	Results []lane.Result
	// Dropped is set when the element or property could not be resolved.
	Dropped bool
}

// Failures counts failed results.
func (r *Report) Failures() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// Stats are the Dispatcher's cumulative counters.
type Stats struct {
	Events   int64 `json:"events"`
	Dropped  int64 `json:"dropped"`
	Results  int64 `json:"results"`
	Failures int64 `json:"failures"`
}

// Dispatcher routes events to worker lanes. It is safe for concurrent use by
// several queue consumers.
type Dispatcher struct {
	store    graph.Store
	pool     *lane.Pool
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	// streamMu serializes fan-out phases. Two concurrent fan-outs could each
	// wait on a lane that is blocked reading the other's tee.
	streamMu sync.Mutex

	events   atomic.Int64
	dropped  atomic.Int64
	results  atomic.Int64
	failures atomic.Int64
}

// New creates a Dispatcher over the lanes in pool. A nil notifier disables
// downstream notification.
func New(store graph.Store, pool *lane.Pool, notifier Notifier, opts Options) *Dispatcher {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Dispatcher{
		store:    store,
		pool:     pool,
		notifier: notifier,
		opts:     opts.withDefaults(),
		logger:   log.WithComponent("dispatch"),
	}
}

// Process dispatches ev and discards the report.
func (d *Dispatcher) Process(ctx context.Context, ev graph.MutationEvent) error {
	_, err := d.Dispatch(ctx, ev)
	return err
}

// Dispatch runs every interested worker for ev and returns their results.
//
// The error is reserved for per-message fatal problems: an event naming no
// element, a store failure other than not-found, a failed flush or a failed
// downstream notification. Worker failures only appear in the Report.
func (d *Dispatcher) Dispatch(ctx context.Context, ev graph.MutationEvent) (*Report, error) {
	ref, err := ev.Ref()
	if err != nil {
		return nil, err
	}
	d.events.Add(1)

	report := &Report{Ref: ref, Key: ev.PropertyKey, Name: ev.PropertyName}
	logger := log.WithElement(string(ref.Kind), ref.ID).With(
		slog.String("component", "dispatch"),
		slog.String("status", string(ev.Status)),
	)
	if ev.HasProperty() {
		logger = logger.With(slog.String("property_key", ev.PropertyKey), slog.String("property_name", ev.PropertyName))
	}

	snap, err := d.store.Get(ctx, ref, ev.PropertyKey, ev.PropertyName)
	if errors.Is(err, graph.ErrNotFound) {
		d.dropped.Add(1)
		report.Dropped = true
		logger.Error("could not resolve event target, dropping event", "error", err)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}

	interested := d.interested(snap)
	if len(interested) == 0 {
		logger.Debug("no interested workers")
		return report, nil
	}

	data := plugin.NewWorkData(ev, snap)
	if snap.Property != nil && snap.Property.IsStreamed() {
		report.Streamed = true
		report.Results = d.dispatchStream(ctx, interested, data, snap.Property.Stream, logger)
	} else {
		report.Results = d.dispatchValue(ctx, interested, data)
	}

	d.results.Add(int64(len(report.Results)))
	for _, res := range report.Results {
		if res.Failed() {
			d.failures.Add(1)
			logger.Warn("worker failed", "worker", res.Worker, "error", res.Err, "duration", res.Duration)
		}
	}

	if err := d.store.Flush(ctx); err != nil {
		return report, fmt.Errorf("flush store: %w", err)
	}
	if err := d.notifier.PushOnQueue(ctx, snap.Element, ev.PropertyKey, ev.PropertyName, ev.Priority); err != nil {
		return report, fmt.Errorf("notify downstream: %w", err)
	}

	logger.Info("event dispatched",
		"workers", len(report.Results),
		"failures", report.Failures(),
		"streamed", report.Streamed,
	)
	return report, nil
}

// Stats returns the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:   d.events.Load(),
		Dropped:  d.dropped.Load(),
		Results:  d.results.Load(),
		Failures: d.failures.Load(),
	}
}

func (d *Dispatcher) interested(snap *graph.Snapshot) []*lane.Lane {
	var out []*lane.Lane
	for _, l := range d.pool.Lanes() {
		if !snap.Element.Filter.Permits(l.Name()) {
			continue
		}
		if !l.Worker().IsHandled(snap.Element, snap.Property) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// dispatchValue submits data to every lane and waits without a bound: no
// shared stream is involved, so a slow worker holds only this event.
func (d *Dispatcher) dispatchValue(ctx context.Context, lanes []*lane.Lane, data *plugin.WorkData) []lane.Result {
	tickets := make([]*lane.Ticket, 0, len(lanes))
	for _, l := range lanes {
		tickets = append(tickets, l.Enqueue(nil, data))
	}

	results := make([]lane.Result, 0, len(tickets))
	for _, t := range tickets {
		res, err := t.Wait(ctx)
		if err != nil {
			res = lane.Result{Worker: t.Worker(), Err: err}
		}
		results = append(results, res)
	}
	return results
}
