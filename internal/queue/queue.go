package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/graphproc/internal/graph"
)

// Queue is the durable SQLite-backed event queue. Each event belongs to a
// stage; consumers dequeue from one stage.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Stage == "" {
		return "", fmt.Errorf("stage is empty")
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}
	if !json.Valid(req.Payload) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	_, err := q.db.ExecContext(ctx, `
INSERT INTO event_queue(id, stage, payload, status, priority, attempt, submitted_by, created_at, parent_event_id)
VALUES(?, ?, ?, ?, ?, 1, ?, ?, ?);
`, id, req.Stage, string(req.Payload), StatusQueued, req.Priority.Rank(), req.SubmittedBy, formatTime(time.Now()), req.ParentEventID)
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	return id, nil
}

// EnqueueEvent serializes ev and queues it on stage.
func (q *Queue) EnqueueEvent(ctx context.Context, stage string, ev graph.MutationEvent, submittedBy string, parentID *string) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return q.Enqueue(ctx, EnqueueRequest{
		Stage:         stage,
		Payload:       payload,
		Priority:      ev.Priority,
		SubmittedBy:   submittedBy,
		ParentEventID: parentID,
	})
}

// Dequeue claims the highest-priority, oldest queued event on stage and marks
// it running. Returns (nil, nil) if the stage is empty.
func (q *Queue) Dequeue(ctx context.Context, stage string) (*Job, error) {
	now := formatTime(time.Now())

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM event_queue
  WHERE stage = ? AND status = ?
  ORDER BY priority DESC, created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE event_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next) AND status = ?
RETURNING
  id, stage, payload, status, priority, attempt, submitted_by,
  created_at, started_at, completed_at, last_error, parent_event_id;
`, stage, StatusQueued, StatusRunning, now, StatusQueued)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue event: %w", err)
	}
	return j, nil
}

// Get loads one job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, stage, payload, status, priority, attempt, submitted_by,
  created_at, started_at, completed_at, last_error, parent_event_id
FROM event_queue
WHERE id = ?;
`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return j, nil
}

// Complete marks a job terminal and appends a row to event_log.
func (q *Queue) Complete(ctx context.Context, id string, status Status, lastError *string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if !status.terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		stage       string
		attempt     int
		submittedBy string
		createdAt   string
		parentID    sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
SELECT stage, attempt, submitted_by, created_at, parent_event_id
FROM event_queue
WHERE id = ?;
`, id).Scan(&stage, &attempt, &submittedBy, &createdAt, &parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load event for completion: %w", err)
	}

	completedAt := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
UPDATE event_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, id); err != nil {
		return fmt.Errorf("update event completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO event_log(id, stage, status, attempt, submitted_by, created_at, completed_at, last_error, parent_event_id)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, fmt.Sprintf("%s-%d", id, attempt), stage, status, attempt, submittedBy, createdAt, completedAt, lastError, parentID); err != nil {
		return fmt.Errorf("insert event_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RecoverRunning puts events left running by a previous process back in the
// queue with their attempt counter bumped. It returns how many were recovered.
func (q *Queue) RecoverRunning(ctx context.Context, stage string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE event_queue
SET status = ?, attempt = attempt + 1, started_at = NULL
WHERE stage = ? AND status = ?;
`, StatusQueued, stage, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover running events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover running events: %w", err)
	}
	return int(n), nil
}

// Depth returns the number of queued events on stage.
func (q *Queue) Depth(ctx context.Context, stage string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_queue WHERE stage = ? AND status = ?;", stage, StatusQueued,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		payload      string
		statusS      string
		priority     int
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
		parentID     sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Stage, &payload, &statusS, &priority, &j.Attempt, &j.SubmittedBy,
		&createdAtS, &startedAtS, &completedAtS, &lastError, &parentID,
	); err != nil {
		return nil, err
	}

	j.Payload = json.RawMessage(payload)
	j.Status = Status(statusS)
	j.Priority = rankToPriority(priority)
	if t, ok := parseTime(createdAtS); ok {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, ok := parseTime(startedAtS.String); ok {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, ok := parseTime(completedAtS.String); ok {
			j.CompletedAt = &t
		}
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if parentID.Valid {
		j.ParentEventID = &parentID.String
	}
	return &j, nil
}
