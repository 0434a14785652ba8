// Package plugin defines the property worker contract and the immutable
// registry of workers built once at startup.
package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/graphproc/internal/graph"
)

// Worker is one unit of ingest-time property processing.
type Worker interface {
	// Name is the worker identity used by lanes, logs and allow/deny filters.
	Name() string
	// IsHandled reports interest in a change. prop is nil for element-level events.
	IsHandled(el *graph.Element, prop *graph.Property) bool
	// IsLocalFileRequired asks for the streamed value to be materialized on
	// local disk before the worker runs. The path is passed in WorkData.LocalFile.
	IsLocalFileRequired() bool
	// Execute processes one change. in is nil unless the property is streamed.
	// The caller closes in after Execute returns.
	Execute(ctx context.Context, in io.Reader, data *WorkData) error
}

// Preparer is implemented by workers that need one-time setup. A failing
// Prepare aborts startup.
type Preparer interface {
	Prepare(ctx context.Context, startup StartupData) error
}

// Verifier is implemented by workers that can self-check after Prepare.
// Verify failures are advisory.
type Verifier interface {
	Verify() error
}

// StartupData is handed to Prepare once per worker.
type StartupData struct {
	Store  graph.Store
	Config map[string]any
	Logger *slog.Logger
}

// WorkData is the read-only execution context shared by every worker
// processing one event.
type WorkData struct {
	Element          *graph.Element
	Property         *graph.Property
	WorkspaceID      string
	VisibilitySource string
	Priority         graph.Priority
	Status           graph.Status
	BeforeAction     time.Time
	// LocalFile is the path of the materialized streamed value, or empty.
	LocalFile string
}

// NewWorkData builds the execution context for one resolved event.
func NewWorkData(ev graph.MutationEvent, snap *graph.Snapshot) *WorkData {
	return &WorkData{
		Element:          snap.Element,
		Property:         snap.Property,
		WorkspaceID:      ev.WorkspaceID,
		VisibilitySource: ev.VisibilitySource,
		Priority:         ev.Priority,
		Status:           ev.Status,
		BeforeAction:     ev.BeforeAction(),
	}
}

// DecodeConfig converts a worker's raw config map into a typed struct using
// its yaml tags.
func DecodeConfig(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal worker config: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode worker config: %w", err)
	}
	return nil
}
