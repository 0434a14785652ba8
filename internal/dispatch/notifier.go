package dispatch

import (
	"context"
	"fmt"

	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/graph"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/mattjoyce/graphproc/internal/dispatch Notifier

// Notifier tells the next pipeline stage that an element has been processed.
// key and name are empty for element-level events.
type Notifier interface {
	PushOnQueue(ctx context.Context, el *graph.Element, key, name string, priority graph.Priority) error
}

type nopNotifier struct{}

func (nopNotifier) PushOnQueue(context.Context, *graph.Element, string, string, graph.Priority) error {
	return nil
}

// EventQueue is the durable side of a QueueNotifier. *queue.Queue implements it.
type EventQueue interface {
	EnqueueEvent(ctx context.Context, stage string, ev graph.MutationEvent, submittedBy string, parentID *string) (string, error)
}

// Notice is the payload broadcast for every processed element.
type Notice struct {
	ElementKind  graph.ElementKind `json:"element_kind"`
	ElementID    string            `json:"element_id"`
	PropertyKey  string            `json:"property_key,omitempty"`
	PropertyName string            `json:"property_name,omitempty"`
	Priority     graph.Priority    `json:"priority"`
	ParentEvent  string            `json:"parent_event_id,omitempty"`
}

// QueueNotifier broadcasts on a Hub and re-enqueues the change on the next
// stage. Either side may be nil or empty to disable it.
type QueueNotifier struct {
	Hub       *events.Hub
	Queue     EventQueue
	NextStage string
}

func (n *QueueNotifier) PushOnQueue(ctx context.Context, el *graph.Element, key, name string, priority graph.Priority) error {
	parent, hasParent := ParentEventFrom(ctx)

	if n.Hub != nil {
		n.Hub.Publish(events.TypeElementProcessed, Notice{
			ElementKind:  el.Ref.Kind,
			ElementID:    el.Ref.ID,
			PropertyKey:  key,
			PropertyName: name,
			Priority:     priority,
			ParentEvent:  parent,
		})
	}

	if n.Queue == nil || n.NextStage == "" {
		return nil
	}
	ev := graph.MutationEvent{
		PropertyKey:  key,
		PropertyName: name,
		Priority:     priority,
		Status:       graph.StatusUpdate,
	}
	switch el.Ref.Kind {
	case graph.KindEdge:
		ev.GraphEdgeID = el.Ref.ID
	default:
		ev.GraphVertexID = el.Ref.ID
	}
	var parentID *string
	if hasParent {
		parentID = &parent
	}
	if _, err := n.Queue.EnqueueEvent(ctx, n.NextStage, ev, "dispatch", parentID); err != nil {
		return fmt.Errorf("enqueue on stage %q: %w", n.NextStage, err)
	}
	return nil
}

type parentEventKey struct{}

// WithParentEvent records the queue id of the event being dispatched so
// downstream notifications can link back to it.
func WithParentEvent(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, parentEventKey{}, id)
}

// ParentEventFrom returns the id stored by WithParentEvent.
func ParentEventFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentEventKey{}).(string)
	return id, ok && id != ""
}
