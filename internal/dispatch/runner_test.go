package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/queue"
	"github.com/mattjoyce/graphproc/internal/storage"
)

func openQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return queue.New(db)
}

type fakeProcessor struct {
	mu      sync.Mutex
	events  []graph.MutationEvent
	parents []string
	err     error
}

func (p *fakeProcessor) Process(ctx context.Context, ev graph.MutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	parent, _ := ParentEventFrom(ctx)
	p.parents = append(p.parents, parent)
	return p.err
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func jobStatus(t *testing.T, q *queue.Queue, id string) queue.Status {
	t.Helper()
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

func TestProcessNextMarksOutcome(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	proc := &fakeProcessor{}
	r := NewRunner(q, proc, RunnerConfig{Stage: "ingest"})

	handled, err := r.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, handled, "empty stage")

	okID, err := q.EnqueueEvent(ctx, "ingest", graph.MutationEvent{GraphVertexID: "v1", Priority: graph.PriorityNormal}, "test", nil)
	require.NoError(t, err)
	handled, err = r.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, queue.StatusSucceeded, jobStatus(t, q, okID))
	assert.Equal(t, []string{okID}, proc.parents)

	proc.err = errors.New("flush store: broken")
	failID, err := q.EnqueueEvent(ctx, "ingest", graph.MutationEvent{GraphVertexID: "v2"}, "test", nil)
	require.NoError(t, err)
	_, err = r.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, jobStatus(t, q, failID))
}

func TestUndecodablePayloadIsDead(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	proc := &fakeProcessor{}
	r := NewRunner(q, proc, RunnerConfig{Stage: "ingest"})

	id, err := q.Enqueue(ctx, queue.EnqueueRequest{Stage: "ingest", Payload: []byte(`{"propertyKey":"k"}`), Priority: graph.PriorityNormal, SubmittedBy: "test"})
	require.NoError(t, err)

	handled, err := r.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, queue.StatusDead, jobStatus(t, q, id))
	assert.Zero(t, proc.count())
}

func TestRunnerDrainsQueueUntilCancelled(t *testing.T) {
	q := openQueue(t)
	proc := &fakeProcessor{}
	for i := range 5 {
		_, err := q.EnqueueEvent(context.Background(), "ingest",
			graph.MutationEvent{GraphVertexID: string(rune('a' + i))}, "test", nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(q, proc, RunnerConfig{Stage: "ingest", Consumers: 2, PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	assert.Eventually(t, func() bool { return proc.count() == 5 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	depth, err := q.Depth(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueNotifierBroadcastsAndReenqueues(t *testing.T) {
	ctx := WithParentEvent(context.Background(), "parent-1")
	q := openQueue(t)
	hub := events.NewHub(10)
	sub, cancel := hub.Subscribe(4)
	defer cancel()

	n := &QueueNotifier{Hub: hub, Queue: q, NextStage: "enrich"}
	el := &graph.Element{Ref: graph.ElementRef{ID: "e1", Kind: graph.KindEdge}}
	require.NoError(t, n.PushOnQueue(ctx, el, "k", "n", graph.PriorityHigh))

	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeElementProcessed, ev.Type)
		assert.Contains(t, string(ev.Data), `"element_id":"e1"`)
		assert.Contains(t, string(ev.Data), `"parent_event_id":"parent-1"`)
	case <-time.After(time.Second):
		t.Fatal("no broadcast")
	}

	job, err := q.Dequeue(context.Background(), "enrich")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, graph.PriorityHigh, job.Priority)
	require.NotNil(t, job.ParentEventID)
	assert.Equal(t, "parent-1", *job.ParentEventID)

	ev, err := graph.DecodeEvent(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.GraphEdgeID)
	assert.Equal(t, "k", ev.PropertyKey)
}

func TestQueueNotifierWithoutStageOnlyBroadcasts(t *testing.T) {
	q := openQueue(t)
	hub := events.NewHub(10)
	n := &QueueNotifier{Hub: hub, Queue: q}

	el := &graph.Element{Ref: graph.ElementRef{ID: "v1", Kind: graph.KindVertex}}
	require.NoError(t, n.PushOnQueue(context.Background(), el, "", "", graph.PriorityNormal))

	assert.Len(t, hub.SnapshotSince(0), 1)
	depth, err := q.Depth(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, depth)
}
