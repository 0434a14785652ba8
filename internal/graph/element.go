package graph

import (
	"bytes"
	"context"
	"io"
	"slices"
)

// ElementKind distinguishes nodes from relationships.
type ElementKind string

const (
	KindVertex ElementKind = "vertex"
	KindEdge   ElementKind = "edge"
)

// ElementRef identifies an element in the store.
type ElementRef struct {
	ID   string      `json:"id"`
	Kind ElementKind `json:"kind"`
}

func (r ElementRef) String() string { return string(r.Kind) + ":" + r.ID }

// WorkerFilter restricts which workers may process an element.
// A non-empty Allow list restricts eligibility; Deny always excludes.
type WorkerFilter struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Permits reports whether the named worker passes the filter.
func (f WorkerFilter) Permits(name string) bool {
	if slices.Contains(f.Deny, name) {
		return false
	}
	return len(f.Allow) == 0 || slices.Contains(f.Allow, name)
}

// StreamValue is a property value exposed as a byte stream.
type StreamValue interface {
	Open() (io.ReadCloser, error)
	// Size returns the length in bytes, or -1 when unknown.
	Size() int64
}

// BytesStream is an in-memory StreamValue.
type BytesStream []byte

func (b BytesStream) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b BytesStream) Size() int64 { return int64(len(b)) }

// Property is a keyed, named value attached to an element.
type Property struct {
	Key        string
	Name       string
	Visibility string
	// Value holds in-memory values. It is nil for streamed values.
	Value   any
	Stream  StreamValue
	Hidden  bool
	Deleted bool
}

// IsStreamed reports whether the value must be read as a byte stream.
func (p *Property) IsStreamed() bool {
	return p != nil && p.Stream != nil
}

// Element is a resolved node or relationship.
type Element struct {
	Ref        ElementRef
	Visibility string
	Filter     WorkerFilter
	Properties []*Property
}

// Property returns the property with the given key and name, or nil.
func (e *Element) Property(key, name string) *Property {
	if e == nil {
		return nil
	}
	for _, p := range e.Properties {
		if p.Key == key && p.Name == name {
			return p
		}
	}
	return nil
}

// Snapshot is what a Store lookup returns for one dispatch.
// Property is nil when no property was requested.
type Snapshot struct {
	Element  *Element
	Property *Property
}

// PropertyMutation sets, hides or deletes one property.
type PropertyMutation struct {
	Key        string
	Name       string
	Visibility string
	Value      any
	// Stream, when set, is persisted as a streamed value instead of Value.
	Stream io.Reader
	Hidden *bool
	Delete bool
}

// Mutation changes one element. The element is created when missing.
type Mutation struct {
	Ref        ElementRef
	Visibility string
	Filter     *WorkerFilter
	Properties []PropertyMutation
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/graphproc/internal/graph Store

// Store is the graph store contract used by the pipeline.
type Store interface {
	// Get resolves an element and, when name is non-empty, one of its
	// properties. Missing elements or properties yield ErrNotFound.
	Get(ctx context.Context, ref ElementRef, key, name string) (*Snapshot, error)
	Save(ctx context.Context, m Mutation) (*Element, error)
	// Flush is a durability barrier.
	Flush(ctx context.Context) error
}
