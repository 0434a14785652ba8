package lane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/graphproc/internal/plugin"
)

type item struct {
	in       io.ReadCloser
	data     *plugin.WorkData
	ticket   *Ticket
	queuedAt time.Time
}

// Stats is a point-in-time view of a lane's counters.
type Stats struct {
	Worker       string        `json:"worker"`
	Queued       int           `json:"queued"`
	Busy         bool          `json:"busy"`
	Processed    int64         `json:"processed"`
	Failed       int64         `json:"failed"`
	TotalTime    time.Duration `json:"total_time_ns"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastFinished time.Time     `json:"last_finished,omitzero"`
}

// Lane executes one worker's items in FIFO order on a dedicated goroutine.
type Lane struct {
	worker plugin.Worker
	logger *slog.Logger

	mu      sync.Mutex
	pending []*item
	stopped bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	busy         atomic.Bool
	processed    atomic.Int64
	failed       atomic.Int64
	totalNanos   atomic.Int64
	lastNanos    atomic.Int64
	lastFinished atomic.Int64
}

// New creates a lane for w. Call Start to begin processing.
func New(w plugin.Worker, logger *slog.Logger) *Lane {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lane{
		worker: w,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Name returns the worker name.
func (l *Lane) Name() string { return l.worker.Name() }

// Worker returns the worker driven by this lane.
func (l *Lane) Worker() plugin.Worker { return l.worker }

// Start launches the lane goroutine. ctx is passed to every Execute call and
// stopping it stops the lane at the next idle point. Calling Start again is a
// no-op.
func (l *Lane) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)
}

// Enqueue appends an item and returns its Ticket. It never blocks. in may be
// nil; when set, the lane closes it after the worker returns.
func (l *Lane) Enqueue(in io.ReadCloser, data *plugin.WorkData) *Ticket {
	t := newTicket(l.Name())
	it := &item{in: in, data: data, ticket: t, queuedAt: time.Now()}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.reject(it)
		return t
	}
	l.pending = append(l.pending, it)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Stop asks the lane to exit. Queued items that have not started fail with
// ErrLaneStopped. Stop does not wait; use Done for that.
func (l *Lane) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		close(l.stop)
	})
	// A lane that never started has no goroutine to finish the shutdown.
	if l.started.CompareAndSwap(false, true) {
		l.rejectPending()
		close(l.done)
	}
}

// Done is closed once the lane goroutine has exited.
func (l *Lane) Done() <-chan struct{} { return l.done }

// Stats returns the lane's counters.
func (l *Lane) Stats() Stats {
	l.mu.Lock()
	queued := len(l.pending)
	l.mu.Unlock()

	s := Stats{
		Worker:       l.Name(),
		Queued:       queued,
		Busy:         l.busy.Load(),
		Processed:    l.processed.Load(),
		Failed:       l.failed.Load(),
		TotalTime:    time.Duration(l.totalNanos.Load()),
		LastDuration: time.Duration(l.lastNanos.Load()),
	}
	if ns := l.lastFinished.Load(); ns > 0 {
		s.LastFinished = time.Unix(0, ns).UTC()
	}
	return s
}

func (l *Lane) run(ctx context.Context) {
	defer close(l.done)
	defer l.rejectPending()

	l.logger.Debug("lane started")
	defer l.logger.Debug("lane stopped")

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			l.markStopped()
			return
		default:
		}

		it := l.next()
		if it == nil {
			select {
			case <-l.wake:
			case <-l.stop:
				return
			case <-ctx.Done():
				l.markStopped()
				return
			}
			continue
		}
		l.process(ctx, it)
	}
}

func (l *Lane) next() *item {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	it := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return it
}

func (l *Lane) process(ctx context.Context, it *item) {
	l.busy.Store(true)
	defer l.busy.Store(false)

	start := time.Now()
	err := l.execute(ctx, it)
	if cerr := closeStream(it.in); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close stream: %w", cerr))
	}
	elapsed := time.Since(start)

	l.processed.Add(1)
	l.totalNanos.Add(int64(elapsed))
	l.lastNanos.Store(int64(elapsed))
	l.lastFinished.Store(time.Now().UnixNano())
	if err != nil {
		l.failed.Add(1)
	}

	l.logger.Debug("work item finished",
		"duration_ms", elapsed.Milliseconds(),
		"queued_ms", start.Sub(it.queuedAt).Milliseconds(),
		"failed", err != nil,
	)
	it.ticket.resolve(Result{Worker: l.Name(), Err: err, Duration: elapsed})
}

func (l *Lane) execute(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker %s: %v", l.Name(), r)
		}
	}()

	var in io.Reader
	if it.in != nil {
		in = it.in
	}
	return l.worker.Execute(ctx, in, it.data)
}

func closeStream(in io.ReadCloser) (err error) {
	if in == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic closing stream: %v", r)
		}
	}()
	return in.Close()
}

func (l *Lane) markStopped() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

func (l *Lane) rejectPending() {
	l.mu.Lock()
	l.stopped = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, it := range pending {
		l.reject(it)
	}
}

func (l *Lane) reject(it *item) {
	_ = closeStream(it.in)
	it.ticket.resolve(Result{Worker: l.Name(), Err: ErrLaneStopped})
}
