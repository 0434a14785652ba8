package workers

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/graph/mocks"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

func workData(prop *graph.Property) *plugin.WorkData {
	return &plugin.WorkData{
		Element:  &graph.Element{Ref: graph.ElementRef{ID: "v1", Kind: graph.KindVertex}, Properties: []*graph.Property{prop}},
		Property: prop,
	}
}

// captureSave expects one Save and returns the mutation it received.
func captureSave(store *mocks.MockStore) *graph.Mutation {
	var got graph.Mutation
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m graph.Mutation) (*graph.Element, error) {
			got = m
			return &graph.Element{Ref: m.Ref}, nil
		})
	return &got
}

func TestBuiltinsBuildFromCatalog(t *testing.T) {
	reg, err := plugin.Build(Builtins(), []plugin.Spec{{Name: HashName}, {Name: SizeName}, {Name: FoldName}})
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())
}

func TestPrepareRequiresStore(t *testing.T) {
	for _, w := range []plugin.Preparer{NewHash(), NewSize(), NewFold()} {
		assert.Error(t, w.Prepare(context.Background(), plugin.StartupData{}))
	}
	assert.Error(t, NewHash().Verify())
}

func TestHashRecordsDigest(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	h := NewHash()
	require.NoError(t, h.Prepare(context.Background(), plugin.StartupData{Store: store}))
	require.NoError(t, h.Verify())

	prop := &graph.Property{Key: "doc", Name: "body", Visibility: "public", Stream: graph.BytesStream("HELLO")}
	require.True(t, h.IsHandled(nil, prop))
	assert.False(t, h.IsLocalFileRequired())

	got := captureSave(store)
	require.NoError(t, h.Execute(context.Background(), strings.NewReader("HELLO"), workData(prop)))

	want := blake3.Sum256([]byte("HELLO"))
	require.Len(t, got.Properties, 1)
	assert.Equal(t, "doc", got.Properties[0].Key)
	assert.Equal(t, "body.blake3", got.Properties[0].Name)
	assert.Equal(t, "public", got.Properties[0].Visibility)
	assert.Equal(t, hex.EncodeToString(want[:]), got.Properties[0].Value)
}

func TestHashIgnoresValuesAndOwnOutput(t *testing.T) {
	h := NewHash()
	assert.False(t, h.IsHandled(nil, nil))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "k", Name: "n", Value: "x"}))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "k", Name: "n.blake3", Stream: graph.BytesStream("x")}))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "k", Name: "n", Stream: graph.BytesStream("x"), Deleted: true}))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "k", Name: "n", Stream: graph.BytesStream("x"), Hidden: true}))
}

func TestHashKeysRestrictInterest(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewHash()
	require.NoError(t, h.Prepare(context.Background(), plugin.StartupData{
		Store:  mocks.NewMockStore(ctrl),
		Config: map[string]any{"keys": []any{"doc"}, "suffix": "digest"},
	}))
	assert.True(t, h.IsHandled(nil, &graph.Property{Key: "doc", Name: "n", Stream: graph.BytesStream("x")}))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "img", Name: "n", Stream: graph.BytesStream("x")}))
	assert.False(t, h.IsHandled(nil, &graph.Property{Key: "doc", Name: "n.digest", Stream: graph.BytesStream("x")}))
}

func TestSizeReadsLocalCopy(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	s := NewSize()
	require.NoError(t, s.Prepare(context.Background(), plugin.StartupData{Store: store}))
	assert.True(t, s.IsLocalFileRequired())

	path := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>hi</body></html>"), 0o600))

	prop := &graph.Property{Key: "page", Name: "raw", Stream: graph.BytesStream("ignored")}
	data := workData(prop)
	data.LocalFile = path

	got := captureSave(store)
	require.NoError(t, s.Execute(context.Background(), nil, data))

	require.Len(t, got.Properties, 1)
	assert.Equal(t, "raw.size", got.Properties[0].Name)
	info, ok := got.Properties[0].Value.(SizeInfo)
	require.True(t, ok)
	assert.Equal(t, int64(28), info.Bytes)
	assert.Equal(t, "text/html; charset=utf-8", info.ContentType)
}

func TestSizeWithoutLocalCopyFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := NewSize()
	require.NoError(t, s.Prepare(context.Background(), plugin.StartupData{Store: mocks.NewMockStore(ctrl)}))
	err := s.Execute(context.Background(), nil, workData(&graph.Property{Key: "k", Name: "n"}))
	assert.Error(t, err)
}

func TestFoldNormalizesAndFolds(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	f := NewFold()
	require.NoError(t, f.Prepare(context.Background(), plugin.StartupData{Store: store}))

	// "e" followed by a combining acute accent composes to U+00E9 under NFC.
	prop := &graph.Property{Key: "title", Name: "en", Value: "Cafe\u0301 STRASSE"}
	require.True(t, f.IsHandled(nil, prop))

	got := captureSave(store)
	require.NoError(t, f.Execute(context.Background(), nil, workData(prop)))
	require.Len(t, got.Properties, 1)
	assert.Equal(t, "en.folded", got.Properties[0].Name)
	assert.Equal(t, "caf\u00e9 strasse", got.Properties[0].Value)
}

func TestFoldSkipsNonStrings(t *testing.T) {
	f := NewFold()
	assert.False(t, f.IsHandled(nil, &graph.Property{Key: "k", Name: "n", Value: 42}))
	assert.False(t, f.IsHandled(nil, &graph.Property{Key: "k", Name: "n", Stream: graph.BytesStream("x")}))
	assert.False(t, f.IsHandled(nil, &graph.Property{Key: "k", Name: "n.folded", Value: "x"}))
}

func TestFoldLanguage(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := NewFold()
	require.NoError(t, f.Prepare(context.Background(), plugin.StartupData{
		Store:  mocks.NewMockStore(ctrl),
		Config: map[string]any{"language": "tr"},
	}))
	assert.Equal(t, "ı", f.Apply("I"))

	bad := NewFold()
	assert.Error(t, bad.Prepare(context.Background(), plugin.StartupData{
		Store:  mocks.NewMockStore(ctrl),
		Config: map[string]any{"language": "!!"},
	}))
}

func TestSaveErrorIsWrapped(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil, errors.New("locked"))
	f := NewFold()
	require.NoError(t, f.Prepare(context.Background(), plugin.StartupData{Store: store}))

	err := f.Execute(context.Background(), nil, workData(&graph.Property{Key: "k", Name: "n", Value: "X"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}
