package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mattjoyce/graphproc/internal/fanout"
	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/lane"
	"github.com/mattjoyce/graphproc/internal/plugin"
	"github.com/mattjoyce/graphproc/internal/storage"
)

// dispatchStream fans sv out to every lane and collects one result each.
func (d *Dispatcher) dispatchStream(ctx context.Context, lanes []*lane.Lane, data *plugin.WorkData, sv graph.StreamValue, logger *slog.Logger) []lane.Result {
	src, err := sv.Open()
	if err != nil {
		return failAll(lanes, fmt.Errorf("open stream: %w", err))
	}

	tempPath := ""
	if needsLocalFile(lanes) {
		path, err := d.materialize(src)
		if cerr := src.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close stream: %w", cerr)
		}
		if err != nil {
			if path != "" {
				_ = os.Remove(path)
			}
			return failAll(lanes, err)
		}
		f, err := os.Open(path)
		if err != nil {
			_ = os.Remove(path)
			return failAll(lanes, fmt.Errorf("reopen local copy: %w", err))
		}
		src = f
		tempPath = path
		data.LocalFile = path
		logger.Debug("stream materialized", "path", path)
	}

	tickets, n, err := d.fanOut(ctx, src, lanes, data)
	if err != nil {
		logger.Warn("fan-out ended early", "error", err, "bytes", n)
	}
	if err := src.Close(); err != nil {
		logger.Warn("close stream source", "error", err)
	}

	results, pending := d.collectStreamed(ctx, tickets)
	if tempPath != "" {
		removeWhenDone(tempPath, pending, logger)
	}
	return results
}

// fanOut copies src to one tee per lane and returns once every tee has been
// drained or closed. A source error reaches the workers through their tees.
func (d *Dispatcher) fanOut(ctx context.Context, src io.Reader, lanes []*lane.Lane, data *plugin.WorkData) ([]*lane.Ticket, int64, error) {
	owners := make([]string, len(lanes))
	for i, l := range lanes {
		owners[i] = l.Name()
	}

	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	fo := fanout.New(src, owners,
		fanout.WithChunkSize(d.opts.ChunkSize),
		fanout.WithBufferChunks(d.opts.TeeBuffer),
	)
	tickets := make([]*lane.Ticket, len(lanes))
	for i, t := range fo.Tees() {
		tickets[i] = lanes[i].Enqueue(t, data)
	}
	n, err := fo.Run(ctx)
	return tickets, n, err
}

// collectStreamed waits for every ticket in ResultTimeout slices. Tickets still
// unresolved after ResultWaits slices are reported as ErrResultTimeout and
// returned as pending; the worker invocation itself keeps running.
func (d *Dispatcher) collectStreamed(ctx context.Context, tickets []*lane.Ticket) ([]lane.Result, []*lane.Ticket) {
	results := make([]lane.Result, 0, len(tickets))
	var pending []*lane.Ticket
	for _, t := range tickets {
		res, err := d.waitBounded(ctx, t)
		if err != nil {
			res = lane.Result{Worker: t.Worker(), Err: err}
			pending = append(pending, t)
		}
		results = append(results, res)
	}
	return results, pending
}

func (d *Dispatcher) waitBounded(ctx context.Context, t *lane.Ticket) (lane.Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := t.WaitTimeout(ctx, d.opts.ResultTimeout)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, lane.ErrResultTimeout) || attempt >= d.opts.ResultWaits {
			return lane.Result{}, err
		}
		d.logger.Debug("still waiting for worker result", "worker", t.Worker(), "attempt", attempt)
	}
}

// materialize copies src into a new file under TempDir.
func (d *Dispatcher) materialize(src io.Reader) (string, error) {
	dir := d.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := storage.EnsureLocalDir(dir, "pipeline.temp_dir"); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "graphproc-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return path, fmt.Errorf("write local copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close local copy: %w", err)
	}
	return path, nil
}

// removeWhenDone deletes path now, or once every pending ticket resolves.
func removeWhenDone(path string, pending []*lane.Ticket, logger *slog.Logger) {
	remove := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove local copy", "path", path, "error", err)
		}
	}
	if len(pending) == 0 {
		remove()
		return
	}
	go func() {
		for _, t := range pending {
			<-t.Done()
		}
		remove()
	}()
}

func needsLocalFile(lanes []*lane.Lane) bool {
	for _, l := range lanes {
		if l.Worker().IsLocalFileRequired() {
			return true
		}
	}
	return false
}

func failAll(lanes []*lane.Lane, err error) []lane.Result {
	results := make([]lane.Result, len(lanes))
	for i, l := range lanes {
		results[i] = lane.Result{Worker: l.Name(), Err: err}
	}
	return results
}
