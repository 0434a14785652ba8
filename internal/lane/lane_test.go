package lane

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

type funcWorker struct {
	name string
	exec func(ctx context.Context, in io.Reader, data *plugin.WorkData) error
}

func (w *funcWorker) Name() string                                   { return w.name }
func (w *funcWorker) IsHandled(*graph.Element, *graph.Property) bool { return true }
func (w *funcWorker) IsLocalFileRequired() bool                      { return false }
func (w *funcWorker) Execute(ctx context.Context, in io.Reader, data *plugin.WorkData) error {
	return w.exec(ctx, in, data)
}

type closeRecorder struct {
	io.Reader
	closed bool
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.err
}

func startLane(t *testing.T, w plugin.Worker) *Lane {
	t.Helper()
	l := New(w, nil)
	l.Start(context.Background())
	t.Cleanup(func() {
		l.Stop()
		<-l.Done()
	})
	return l
}

func waitResult(t *testing.T, tk *Ticket) Result {
	t.Helper()
	res, err := tk.WaitTimeout(context.Background(), 5*time.Second)
	require.NoError(t, err)
	return res
}

func TestLaneProcessesInFIFOOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	l := startLane(t, &funcWorker{name: "fifo", exec: func(_ context.Context, _ io.Reader, d *plugin.WorkData) error {
		mu.Lock()
		order = append(order, d.WorkspaceID)
		mu.Unlock()
		return nil
	}})

	var tickets []*Ticket
	want := []string{"a", "b", "c", "d", "e"}
	for _, ws := range want {
		tickets = append(tickets, l.Enqueue(nil, &plugin.WorkData{WorkspaceID: ws}))
	}
	for _, tk := range tickets {
		res := waitResult(t, tk)
		assert.False(t, res.Failed())
		assert.Equal(t, "fifo", res.Worker)
	}
	assert.Equal(t, want, order)
}

func TestFailingWorkerKeepsProcessing(t *testing.T) {
	boom := errors.New("boom")
	l := startLane(t, &funcWorker{name: "broken", exec: func(context.Context, io.Reader, *plugin.WorkData) error {
		return boom
	}})

	const n = 25
	tickets := make([]*Ticket, n)
	for i := range n {
		tickets[i] = l.Enqueue(nil, &plugin.WorkData{})
	}
	for _, tk := range tickets {
		res := waitResult(t, tk)
		assert.ErrorIs(t, res.Err, boom)
	}

	stats := l.Stats()
	assert.Equal(t, int64(n), stats.Processed)
	assert.Equal(t, int64(n), stats.Failed)
	assert.Zero(t, stats.Queued)
}

func TestPanicBecomesFailedResult(t *testing.T) {
	calls := 0
	l := startLane(t, &funcWorker{name: "panicky", exec: func(context.Context, io.Reader, *plugin.WorkData) error {
		calls++
		if calls == 1 {
			panic("kaboom")
		}
		return nil
	}})

	res := waitResult(t, l.Enqueue(nil, &plugin.WorkData{}))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "kaboom")

	res = waitResult(t, l.Enqueue(nil, &plugin.WorkData{}))
	assert.NoError(t, res.Err)
}

func TestStreamIsAlwaysClosed(t *testing.T) {
	execErr := errors.New("exec failed")
	closeErr := errors.New("close failed")
	l := startLane(t, &funcWorker{name: "reader", exec: func(_ context.Context, in io.Reader, _ *plugin.WorkData) error {
		b, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		if string(b) == "fail" {
			return execErr
		}
		return nil
	}})

	ok := &closeRecorder{Reader: strings.NewReader("fine")}
	res := waitResult(t, l.Enqueue(ok, &plugin.WorkData{}))
	assert.NoError(t, res.Err)
	assert.True(t, ok.closed)

	both := &closeRecorder{Reader: strings.NewReader("fail"), err: closeErr}
	res = waitResult(t, l.Enqueue(both, &plugin.WorkData{}))
	assert.True(t, both.closed)
	assert.ErrorIs(t, res.Err, execErr)
	assert.ErrorIs(t, res.Err, closeErr)
}

func TestNilStreamReachesWorkerAsNil(t *testing.T) {
	l := startLane(t, &funcWorker{name: "nil", exec: func(_ context.Context, in io.Reader, _ *plugin.WorkData) error {
		if in != nil {
			return errors.New("expected nil reader")
		}
		return nil
	}})
	res := waitResult(t, l.Enqueue(nil, &plugin.WorkData{}))
	assert.NoError(t, res.Err)
}

func TestTimeoutDoesNotCancelInvocation(t *testing.T) {
	release := make(chan struct{})
	l := startLane(t, &funcWorker{name: "slow", exec: func(_ context.Context, _ io.Reader, d *plugin.WorkData) error {
		if d.WorkspaceID == "slow" {
			<-release
			return errors.New("late")
		}
		return nil
	}})

	slow := l.Enqueue(nil, &plugin.WorkData{WorkspaceID: "slow"})
	_, err := slow.WaitTimeout(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrResultTimeout)

	fast := l.Enqueue(nil, &plugin.WorkData{WorkspaceID: "fast"})
	close(release)

	// The late result resolves only its own ticket.
	res := waitResult(t, slow)
	assert.EqualError(t, res.Err, "late")
	res = waitResult(t, fast)
	assert.NoError(t, res.Err)
}

func TestStopFailsQueuedItems(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	l := New(&funcWorker{name: "blocking", exec: func(context.Context, io.Reader, *plugin.WorkData) error {
		close(started)
		<-release
		return nil
	}}, nil)
	l.Start(context.Background())

	running := l.Enqueue(nil, &plugin.WorkData{})
	<-started
	queuedStream := &closeRecorder{Reader: strings.NewReader("x")}
	queued := l.Enqueue(queuedStream, &plugin.WorkData{})

	l.Stop()
	close(release)
	<-l.Done()

	assert.NoError(t, waitResult(t, running).Err)
	assert.ErrorIs(t, waitResult(t, queued).Err, ErrLaneStopped)
	assert.True(t, queuedStream.closed)

	late := &closeRecorder{Reader: strings.NewReader("y")}
	res := waitResult(t, l.Enqueue(late, &plugin.WorkData{}))
	assert.ErrorIs(t, res.Err, ErrLaneStopped)
	assert.True(t, late.closed)
}

func TestStopBeforeStart(t *testing.T) {
	l := New(&funcWorker{name: "idle", exec: func(context.Context, io.Reader, *plugin.WorkData) error { return nil }}, nil)
	tk := l.Enqueue(nil, &plugin.WorkData{})
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("lane never reported done")
	}
	assert.ErrorIs(t, waitResult(t, tk).Err, ErrLaneStopped)
}

func TestContextCancelStopsLane(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(&funcWorker{name: "ctx", exec: func(context.Context, io.Reader, *plugin.WorkData) error { return nil }}, nil)
	l.Start(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("lane did not stop on context cancel")
	}
	assert.ErrorIs(t, waitResult(t, l.Enqueue(nil, &plugin.WorkData{})).Err, ErrLaneStopped)
}

func TestTicketWaitHonoursContext(t *testing.T) {
	tk := newTicket("w")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tk.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := tk.Result()
	assert.False(t, ok)
	tk.resolve(Result{Worker: "w"})
	tk.resolve(Result{Worker: "ignored"})
	res, ok := tk.Result()
	assert.True(t, ok)
	assert.Equal(t, "w", res.Worker)
}
