package watch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/graphproc/internal/api"
	"github.com/mattjoyce/graphproc/internal/dispatch"
	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/lane"
)

type fixedDepth int

func (d fixedDepth) Depth(context.Context, string) (int, error) { return int(d), nil }

type fixedLanes []lane.Stats

func (l fixedLanes) Stats() []lane.Stats { return l }

type fixedDispatch dispatch.Stats

func (d fixedDispatch) Stats() dispatch.Stats { return dispatch.Stats(d) }

// newOpsServer runs the real ops handler so the client is exercised against
// the routes and auth it will meet in production.
func newOpsServer(t *testing.T, token string, hub *events.Hub) *httptest.Server {
	t.Helper()
	lanes := fixedLanes{
		{Worker: "title.blake3", Processed: 4, Failed: 1, TotalTime: 40 * time.Millisecond},
		{Worker: "raw.folded", Queued: 2, Busy: true},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := api.New(api.Config{Stage: "ingest", Token: token}, fixedDepth(3), lanes,
		fixedDispatch{Events: 9, Results: 18, Failures: 1}, hub, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientHealthAndLanes(t *testing.T) {
	ts := newOpsServer(t, "secret", events.NewHub(10))
	c := NewClient(ts.URL+"/", "secret")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ingest", h.Stage)
	assert.Equal(t, 3, h.QueueDepth)
	assert.Equal(t, int64(9), h.Dispatch.Events)

	stats, err := c.Lanes(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "title.blake3", stats[0].Worker)
	assert.True(t, stats[1].Busy)
}

func TestClientWithoutTokenIsRejected(t *testing.T) {
	ts := newOpsServer(t, "secret", nil)
	c := NewClient(ts.URL, "")

	_, err := c.Health(context.Background())
	require.NoError(t, err, "healthz is open")

	_, err = c.Lanes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClientStreamResumesAfterLastID(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.TypeElementProcessed, dispatch.Notice{ElementKind: "vertex", ElementID: "old"})
	hub.Publish(events.TypeElementProcessed, dispatch.Notice{ElementKind: "vertex", ElementID: "v1"})
	ts := newOpsServer(t, "secret", hub)
	c := NewClient(ts.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := make(chan events.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Stream(ctx, 1, ch) }()

	first := <-ch
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, events.TypeElementProcessed, first.Type)
	assert.Contains(t, string(first.Data), `"v1"`)

	hub.Publish(events.TypeElementProcessed, dispatch.Notice{ElementKind: "vertex", ElementID: "v2"})
	second := <-ch
	assert.Equal(t, int64(3), second.ID)
	assert.Contains(t, string(second.Data), `"v2"`)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: element.processed",
		`data: {"element_id":"a"}`,
		"",
		"id:8",
		"data: line one",
		"data: line two",
		"",
		"id: 9",
		"",
	}, "\n")

	var got []events.Event
	err := readSSE(strings.NewReader(stream), func(ev events.Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "element.processed", got[0].Type)
	assert.JSONEq(t, `{"element_id":"a"}`, string(got[0].Data))

	assert.Equal(t, int64(8), got[1].ID)
	assert.Empty(t, got[1].Type)
	assert.Equal(t, "line one\nline two", string(got[1].Data))
}

func TestReadSSEStopsWhenEmitDeclines(t *testing.T) {
	stream := "data: 1\n\ndata: 2\n\n"
	calls := 0
	err := readSSE(strings.NewReader(stream), func(events.Event) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestClientReportsStatusAndServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"queue unavailable"}`)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "").Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "queue unavailable")
}
