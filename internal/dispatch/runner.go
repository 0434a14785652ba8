package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/log"
	"github.com/mattjoyce/graphproc/internal/queue"
)

// Processor handles one decoded event. *Dispatcher implements it.
type Processor interface {
	Process(ctx context.Context, ev graph.MutationEvent) error
}

// RunnerConfig controls the queue consumers.
type RunnerConfig struct {
	Stage        string
	Consumers    int
	PollInterval time.Duration
}

// Runner drains one stage of the durable queue into a Processor using
// Consumers concurrent goroutines.
type Runner struct {
	queue  *queue.Queue
	proc   Processor
	cfg    RunnerConfig
	logger *slog.Logger
}

func NewRunner(q *queue.Queue, proc Processor, cfg RunnerConfig) *Runner {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Runner{
		queue:  q,
		proc:   proc,
		cfg:    cfg,
		logger: log.WithComponent("runner").With("stage", cfg.Stage),
	}
}

// Start re-queues events left running by a previous process, then consumes
// until ctx is cancelled. It blocks until every consumer has returned.
func (r *Runner) Start(ctx context.Context) error {
	n, err := r.queue.RecoverRunning(ctx, r.cfg.Stage)
	if err != nil {
		return fmt.Errorf("recover running events: %w", err)
	}
	if n > 0 {
		r.logger.Warn("re-queued events interrupted by previous shutdown", "count", n)
	}

	r.logger.Info("queue consumers started", "consumers", r.cfg.Consumers)
	defer r.logger.Info("queue consumers stopped")

	var wg sync.WaitGroup
	for i := range r.cfg.Consumers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.consume(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) consume(ctx context.Context, id int) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything available before sleeping again.
		for {
			handled, err := r.ProcessNext(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("failed to process event", "consumer", id, "error", err)
			}
			if !handled || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext dequeues and handles one event. It reports whether an event was
// found.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	job, err := r.queue.Dequeue(ctx, r.cfg.Stage)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}

	jobLogger := log.WithJob(job.ID).With("stage", job.Stage)
	ev, err := graph.DecodeEvent(job.Payload)
	if err != nil {
		jobLogger.Error("undecodable event", "error", err)
		r.complete(ctx, job.ID, queue.StatusDead, err)
		return true, nil
	}

	err = r.proc.Process(WithParentEvent(ctx, job.ID), ev)
	switch {
	case errors.Is(err, graph.ErrNoElement):
		jobLogger.Error("event names no element", "error", err)
		r.complete(ctx, job.ID, queue.StatusDead, err)
	case err != nil && ctx.Err() != nil:
		// Left running; RecoverRunning re-queues it on the next start.
		jobLogger.Warn("dispatch interrupted by shutdown", "error", err)
	case err != nil:
		jobLogger.Error("event dispatch failed", "error", err)
		r.complete(ctx, job.ID, queue.StatusFailed, err)
	default:
		r.complete(ctx, job.ID, queue.StatusSucceeded, nil)
	}
	return true, nil
}

func (r *Runner) complete(ctx context.Context, id string, status queue.Status, cause error) {
	var lastErr *string
	if cause != nil {
		msg := cause.Error()
		lastErr = &msg
	}
	// Completion must land even when shutdown cancelled the dispatch.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.queue.Complete(cctx, id, status, lastErr); err != nil {
		r.logger.Error("failed to complete event", "job_id", id, "error", err)
	}
}
