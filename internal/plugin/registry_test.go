package plugin

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/graphproc/internal/graph"
)

type stubWorker struct{ name string }

func (s stubWorker) Name() string                                      { return s.name }
func (stubWorker) IsHandled(*graph.Element, *graph.Property) bool      { return true }
func (stubWorker) IsLocalFileRequired() bool                           { return false }
func (stubWorker) Execute(context.Context, io.Reader, *WorkData) error { return nil }

func TestNewRegistryKeepsOrder(t *testing.T) {
	reg, err := NewRegistry(stubWorker{"b"}, stubWorker{"a"})
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name())
	assert.Equal(t, "a", all[1].Name())
	assert.Equal(t, 2, reg.Len())

	w, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", w.Name())
	assert.Empty(t, reg.Config("a"))
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(stubWorker{"a"}, stubWorker{"a"})
	assert.ErrorContains(t, err, "already registered")

	_, err = NewRegistry(stubWorker{" "})
	assert.ErrorContains(t, err, "empty")
}

func TestNewRegistryRejectsBadNames(t *testing.T) {
	_, err := NewRegistry(stubWorker{"  "})
	assert.ErrorContains(t, err, "empty")

	_, err = NewRegistry(stubWorker{" title "})
	assert.ErrorContains(t, err, "whitespace")

	reg, err := NewRegistry(stubWorker{"title"})
	require.NoError(t, err)
	_, ok := reg.Get("title")
	assert.True(t, ok)
}

func TestBuildFromCatalog(t *testing.T) {
	catalog := Catalog{
		"hash": func() Worker { return stubWorker{"hash"} },
		"size": func() Worker { return stubWorker{"size"} },
	}
	reg, err := Build(catalog, []Spec{{Name: "size", Config: map[string]any{"target": "bytes"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, "bytes", reg.Config("size")["target"])

	_, err = Build(catalog, []Spec{{Name: "ocr"}})
	assert.ErrorContains(t, err, "available: hash, size")
}

func TestBuildRejectsMismatchedName(t *testing.T) {
	catalog := Catalog{"hash": func() Worker { return stubWorker{"sha"} }}
	_, err := Build(catalog, []Spec{{Name: "hash"}})
	assert.ErrorContains(t, err, "produced worker named")
}

func TestAllReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(stubWorker{"a"})
	require.NoError(t, err)
	all := reg.All()
	all[0] = stubWorker{"mutated"}
	_, ok := reg.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", reg.All()[0].Name())
}

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		Target string   `yaml:"target"`
		Keys   []string `yaml:"keys"`
	}
	err := DecodeConfig(map[string]any{"target": "digest", "keys": []any{"k1", "k2"}}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "digest", cfg.Target)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Keys)

	assert.NoError(t, DecodeConfig(nil, &cfg))
}

func TestNewWorkData(t *testing.T) {
	el := &graph.Element{Ref: graph.ElementRef{ID: "v1", Kind: graph.KindVertex}}
	prop := &graph.Property{Key: "k1", Name: "raw"}
	ev := graph.MutationEvent{
		GraphVertexID:         "v1",
		WorkspaceID:           "ws",
		VisibilitySource:      "secret",
		Priority:              graph.PriorityHigh,
		Status:                graph.StatusUpdate,
		BeforeActionTimestamp: 1000,
	}

	data := NewWorkData(ev, &graph.Snapshot{Element: el, Property: prop})
	assert.Same(t, el, data.Element)
	assert.Same(t, prop, data.Property)
	assert.Equal(t, "ws", data.WorkspaceID)
	assert.Equal(t, "secret", data.VisibilitySource)
	assert.Equal(t, graph.PriorityHigh, data.Priority)
	assert.Equal(t, int64(1000), data.BeforeAction.UnixMilli())
	assert.Empty(t, data.LocalFile)
}
