package lane

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrLaneStopped resolves tickets for items the lane will never run.
	ErrLaneStopped = errors.New("lane stopped")
	// ErrResultTimeout is returned by WaitTimeout when no Result arrived in time.
	ErrResultTimeout = errors.New("timed out waiting for worker result")
)

// Result is the outcome of one work item.
type Result struct {
	Worker   string
	Err      error
	Duration time.Duration
}

// Failed reports whether the item failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Ticket is the future for one enqueued item.
type Ticket struct {
	worker string
	done   chan struct{}
	once   sync.Once
	res    Result
}

func newTicket(worker string) *Ticket {
	return &Ticket{worker: worker, done: make(chan struct{})}
}

func (t *Ticket) resolve(r Result) {
	t.once.Do(func() {
		t.res = r
		close(t.done)
	})
}

// Worker returns the name of the worker the item was queued for.
func (t *Ticket) Worker() string { return t.worker }

// Done is closed once the Result is available.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result returns the Result if it is available.
func (t *Ticket) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the Result is available or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. It returns ErrResultTimeout when d elapses
// first; the ticket stays valid and may be waited on again.
func (t *Ticket) WaitTimeout(ctx context.Context, d time.Duration) (Result, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.res, nil
	case <-timer.C:
		return Result{}, ErrResultTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
