package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mattjoyce/graphproc/internal/graph"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusDead marks payloads that can never be dispatched (undecodable,
	// no element id). They are not retried.
	StatusDead Status = "dead"
)

func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusDead
}

// Job is one queued mutation event.
type Job struct {
	ID            string
	Stage         string
	Payload       json.RawMessage
	Status        Status
	Priority      graph.Priority
	Attempt       int
	SubmittedBy   string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastError     *string
	ParentEventID *string
}

type EnqueueRequest struct {
	Stage         string
	Payload       json.RawMessage
	Priority      graph.Priority
	SubmittedBy   string
	ParentEventID *string
}

var ErrJobNotFound = errors.New("job not found")

// timeFormat is fixed width so that TEXT ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(timeFormat, s)
	return t, err == nil
}

func rankToPriority(rank int) graph.Priority {
	switch {
	case rank >= graph.PriorityHigh.Rank():
		return graph.PriorityHigh
	case rank <= graph.PriorityLow.Rank():
		return graph.PriorityLow
	default:
		return graph.PriorityNormal
	}
}
