// Package inspect renders the lineage of a queued mutation event: the chain of
// stages it passed through and the properties its element carries now.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/queue"
)

// maxHops bounds the parent walk in case of a corrupt cycle.
const maxHops = 64

// JobGetter loads one queued event by id.
type JobGetter interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// Report is the structured JSON representation of a lineage report.
type Report struct {
	EventID    string     `json:"event_id"`
	Element    string     `json:"element,omitempty"`
	Hops       int        `json:"hops"`
	Steps      []Step     `json:"steps"`
	Properties []Property `json:"properties,omitempty"`
}

// Step is one queue entry in the lineage, oldest first.
type Step struct {
	Hop         int            `json:"hop"`
	EventID     string         `json:"event_id"`
	Stage       string         `json:"stage"`
	Status      queue.Status   `json:"status"`
	Priority    graph.Priority `json:"priority"`
	Attempt     int            `json:"attempt"`
	SubmittedBy string         `json:"submitted_by"`
	Property    string         `json:"property,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
}

// Property summarizes one property of the inspected element.
type Property struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Streamed bool   `json:"streamed"`
	Size     int64  `json:"size,omitempty"`
	Value    any    `json:"value,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// BuildReport renders a terminal-friendly lineage report for an event.
func BuildReport(ctx context.Context, jobs JobGetter, store graph.Store, eventID string) (string, error) {
	report, err := Gather(ctx, jobs, store, eventID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Lineage Report\n")
	fmt.Fprintf(&out, "Event ID    : %s\n", report.EventID)
	fmt.Fprintf(&out, "Element     : %s\n", renderUnset(report.Element, "<none>"))
	fmt.Fprintf(&out, "Hops        : %d\n", report.Hops)
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s :: %s\n", step.Hop, step.Stage, step.EventID)
		fmt.Fprintf(&out, "    status     : %s (attempt %d, %s)\n", step.Status, step.Attempt, step.Priority)
		fmt.Fprintf(&out, "    submitted  : %s at %s\n", step.SubmittedBy, step.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&out, "    property   : %s\n", renderUnset(step.Property, "<element>"))
		fmt.Fprintf(&out, "    parent_id  : %s\n", renderUnset(step.ParentID, "<none>"))
		if step.LastError != "" {
			fmt.Fprintf(&out, "    last_error : %s\n", step.LastError)
		}
		fmt.Fprintf(&out, "\n")
	}

	if len(report.Properties) > 0 {
		fmt.Fprintf(&out, "Properties\n")
		for _, p := range report.Properties {
			fmt.Fprintf(&out, "  %s/%s = %s%s\n", p.Key, p.Name, renderValue(p), renderFlags(p))
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON lineage report.
func BuildJSONReport(ctx context.Context, jobs JobGetter, store graph.Store, eventID string) (string, error) {
	report, err := Gather(ctx, jobs, store, eventID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather walks parent links from eventID back to the root event and loads the
// element the event names. A nil store skips the property listing.
func Gather(ctx context.Context, jobs JobGetter, store graph.Store, eventID string) (*Report, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("event id is required")
	}

	report := &Report{EventID: eventID}
	var ref *graph.ElementRef
	seen := make(map[string]bool)
	for id := eventID; id != ""; {
		if seen[id] || len(seen) >= maxHops {
			return nil, fmt.Errorf("event %q: lineage cycle or depth over %d", eventID, maxHops)
		}
		seen[id] = true

		job, err := jobs.Get(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) && id != eventID {
			// Parents may have been pruned; report what remains.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", id, err)
		}

		step := stepFromJob(job)
		if ref == nil {
			if ev, err := graph.DecodeEvent(job.Payload); err == nil {
				r, _ := ev.Ref()
				ref = &r
			}
		}
		report.Steps = append(report.Steps, step)
		id = step.ParentID
	}

	// Oldest first.
	for i, j := 0, len(report.Steps)-1; i < j; i, j = i+1, j-1 {
		report.Steps[i], report.Steps[j] = report.Steps[j], report.Steps[i]
	}
	for i := range report.Steps {
		report.Steps[i].Hop = i + 1
	}
	report.Hops = len(report.Steps)

	if ref == nil {
		return report, nil
	}
	report.Element = ref.String()
	if store == nil {
		return report, nil
	}
	snap, err := store.Get(ctx, *ref, "", "")
	if errors.Is(err, graph.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load element %s: %w", ref, err)
	}
	report.Properties = summarize(snap.Element)
	return report, nil
}

func stepFromJob(job *queue.Job) Step {
	step := Step{
		EventID:     job.ID,
		Stage:       job.Stage,
		Status:      job.Status,
		Priority:    job.Priority,
		Attempt:     job.Attempt,
		SubmittedBy: job.SubmittedBy,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.LastError != nil {
		step.LastError = *job.LastError
	}
	if job.ParentEventID != nil {
		step.ParentID = *job.ParentEventID
	}
	if ev, err := graph.DecodeEvent(job.Payload); err == nil && ev.HasProperty() {
		step.Property = ev.PropertyKey + "/" + ev.PropertyName
	}
	return step
}

func summarize(el *graph.Element) []Property {
	out := make([]Property, 0, len(el.Properties))
	for _, p := range el.Properties {
		sp := Property{Key: p.Key, Name: p.Name, Hidden: p.Hidden, Deleted: p.Deleted}
		if p.IsStreamed() {
			sp.Streamed = true
			sp.Size = p.Stream.Size()
		} else {
			sp.Value = p.Value
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func renderValue(p Property) string {
	if p.Streamed {
		return fmt.Sprintf("<stream %d bytes>", p.Size)
	}
	b, err := json.Marshal(p.Value)
	if err != nil {
		return fmt.Sprintf("%v", p.Value)
	}
	return string(b)
}

func renderFlags(p Property) string {
	var flags []string
	if p.Hidden {
		flags = append(flags, "hidden")
	}
	if p.Deleted {
		flags = append(flags, "deleted")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
