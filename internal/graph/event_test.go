package graph

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventDefaults(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"graphVertexId":"v1","propertyKey":"k1","propertyName":"raw","status":"update"}`))
	require.NoError(t, err)

	assert.Equal(t, StatusUpdate, ev.Status)
	assert.Equal(t, PriorityNormal, ev.Priority)
	assert.True(t, ev.HasProperty())

	ref, err := ev.Ref()
	require.NoError(t, err)
	assert.Equal(t, ElementRef{ID: "v1", Kind: KindVertex}, ref)
}

func TestDecodeEventRequiresElement(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"propertyName":"raw"}`))
	assert.ErrorIs(t, err, ErrNoElement)
}

func TestDecodeEventRejectsUnknownStatus(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"graphEdgeId":"e1","status":"EXPLODED"}`))
	assert.Error(t, err)
}

func TestEdgeRef(t *testing.T) {
	ref, err := MutationEvent{GraphEdgeID: "e7"}.Ref()
	require.NoError(t, err)
	assert.Equal(t, KindEdge, ref.Kind)
	assert.Equal(t, "edge:e7", ref.String())
}

func TestBeforeAction(t *testing.T) {
	assert.True(t, MutationEvent{}.BeforeAction().IsZero())
	assert.Equal(t, int64(1700000000000), MutationEvent{BeforeActionTimestamp: 1700000000000}.BeforeAction().UnixMilli())
}

func TestWorkerFilterPermits(t *testing.T) {
	tests := []struct {
		name   string
		filter WorkerFilter
		worker string
		want   bool
	}{
		{"empty filter", WorkerFilter{}, "hash", true},
		{"allowed", WorkerFilter{Allow: []string{"hash"}}, "hash", true},
		{"not in allow list", WorkerFilter{Allow: []string{"size"}}, "hash", false},
		{"denied", WorkerFilter{Deny: []string{"hash"}}, "hash", false},
		{"deny beats allow", WorkerFilter{Allow: []string{"hash"}, Deny: []string{"hash"}}, "hash", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Permits(tt.worker))
		})
	}
}

func TestBytesStream(t *testing.T) {
	s := BytesStream("HELLO")
	assert.Equal(t, int64(5), s.Size())

	rc, err := s.Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(b))
}

func TestElementProperty(t *testing.T) {
	el := &Element{Properties: []*Property{{Key: "k1", Name: "raw"}}}
	assert.NotNil(t, el.Property("k1", "raw"))
	assert.Nil(t, el.Property("k2", "raw"))

	var nilEl *Element
	assert.Nil(t, nilEl.Property("k1", "raw"))
}
