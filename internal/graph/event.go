package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the kind of change a MutationEvent reports.
type Status string

const (
	StatusUpdate   Status = "UPDATE"
	StatusHidden   Status = "HIDDEN"
	StatusUnhidden Status = "UNHIDDEN"
	StatusDeletion Status = "DELETION"
)

func (s Status) valid() bool {
	switch s {
	case StatusUpdate, StatusHidden, StatusUnhidden, StatusDeletion:
		return true
	}
	return false
}

// Priority orders events in the upstream queue.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Rank returns a sortable weight, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

var (
	// ErrNoElement is returned for events that carry neither a vertex nor an edge id.
	ErrNoElement = errors.New("event references no vertex or edge")
	// ErrNotFound is returned by stores when an element or property does not exist.
	ErrNotFound = errors.New("not found")
)

// MutationEvent describes one changed element/property as delivered by the
// upstream queue.
type MutationEvent struct {
	PropertyKey           string   `json:"propertyKey,omitempty"`
	PropertyName          string   `json:"propertyName,omitempty"`
	GraphVertexID         string   `json:"graphVertexId,omitempty"`
	GraphEdgeID           string   `json:"graphEdgeId,omitempty"`
	WorkspaceID           string   `json:"workspaceId,omitempty"`
	VisibilitySource      string   `json:"visibilitySource,omitempty"`
	Priority              Priority `json:"priority,omitempty"`
	Status                Status   `json:"status,omitempty"`
	BeforeActionTimestamp int64    `json:"beforeActionTimestamp,omitempty"`
}

// Ref resolves the element the event points at. Vertex ids win when both are set.
func (e MutationEvent) Ref() (ElementRef, error) {
	switch {
	case e.GraphVertexID != "":
		return ElementRef{ID: e.GraphVertexID, Kind: KindVertex}, nil
	case e.GraphEdgeID != "":
		return ElementRef{ID: e.GraphEdgeID, Kind: KindEdge}, nil
	}
	return ElementRef{}, ErrNoElement
}

// HasProperty reports whether the event names a specific property.
func (e MutationEvent) HasProperty() bool {
	return e.PropertyName != ""
}

// BeforeAction returns the before-action timestamp, or the zero time when unset.
func (e MutationEvent) BeforeAction() time.Time {
	if e.BeforeActionTimestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.BeforeActionTimestamp).UTC()
}

// DecodeEvent parses a queue payload, filling defaults and rejecting events
// that cannot be dispatched.
func DecodeEvent(b []byte) (MutationEvent, error) {
	var ev MutationEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return MutationEvent{}, fmt.Errorf("decode mutation event: %w", err)
	}
	if _, err := ev.Ref(); err != nil {
		return MutationEvent{}, err
	}
	ev.Status = Status(strings.ToUpper(string(ev.Status)))
	if ev.Status == "" {
		ev.Status = StatusUpdate
	}
	if !ev.Status.valid() {
		return MutationEvent{}, fmt.Errorf("invalid event status %q", ev.Status)
	}
	ev.Priority = Priority(strings.ToUpper(string(ev.Priority)))
	if ev.Priority == "" {
		ev.Priority = PriorityNormal
	}
	return ev, nil
}
