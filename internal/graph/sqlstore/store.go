// Package sqlstore is the SQLite-backed graph.Store. Elements and properties
// live in SQLite; streamed values live in content-addressed blob files.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/storage"
)

// Store implements graph.Store.
type Store struct {
	db      *sql.DB
	blobDir string
}

var _ graph.Store = (*Store)(nil)

// New returns a Store over an already bootstrapped database.
func New(db *sql.DB, blobDir string) (*Store, error) {
	if err := storage.EnsureLocalDir(blobDir, "state.blob_dir"); err != nil {
		return nil, err
	}
	return &Store{db: db, blobDir: blobDir}, nil
}

// Get resolves an element and optionally one of its properties. Hidden and
// deleted properties are returned with their flags set.
func (s *Store) Get(ctx context.Context, ref graph.ElementRef, key, name string) (*graph.Snapshot, error) {
	el, err := s.loadElement(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	snap := &graph.Snapshot{Element: el}
	if name == "" {
		return snap, nil
	}
	snap.Property = el.Property(key, name)
	if snap.Property == nil {
		return nil, fmt.Errorf("property %s/%s on %s: %w", key, name, ref, graph.ErrNotFound)
	}
	return snap, nil
}

// Save applies m, creating the element when it does not exist yet.
func (s *Store) Save(ctx context.Context, m graph.Mutation) (*graph.Element, error) {
	if m.Ref.ID == "" || m.Ref.Kind == "" {
		return nil, fmt.Errorf("mutation has no element reference")
	}

	// Blobs are written before the transaction so a failed copy leaves no rows behind.
	type blob struct {
		hash string
		size int64
	}
	blobs := make(map[int]blob)
	for i, pm := range m.Properties {
		if pm.Stream == nil || pm.Delete {
			continue
		}
		hash, size, err := s.writeBlob(pm.Stream)
		if err != nil {
			return nil, fmt.Errorf("property %s/%s: %w", pm.Key, pm.Name, err)
		}
		blobs[i] = blob{hash: hash, size: size}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := upsertElement(ctx, tx, m, now); err != nil {
		return nil, err
	}

	for i, pm := range m.Properties {
		switch {
		case pm.Delete:
			_, err = tx.ExecContext(ctx, `
UPDATE properties SET deleted = 1, updated_at = ?
WHERE element_kind = ? AND element_id = ? AND key = ? AND name = ?;
`, now, m.Ref.Kind, m.Ref.ID, pm.Key, pm.Name)
		case pm.Hidden != nil && pm.Value == nil && pm.Stream == nil:
			_, err = tx.ExecContext(ctx, `
UPDATE properties SET hidden = ?, updated_at = ?
WHERE element_kind = ? AND element_id = ? AND key = ? AND name = ?;
`, boolInt(*pm.Hidden), now, m.Ref.Kind, m.Ref.ID, pm.Key, pm.Name)
		default:
			err = upsertProperty(ctx, tx, m.Ref, pm, blobs[i].hash, blobs[i].size, now)
		}
		if err != nil {
			return nil, fmt.Errorf("save property %s/%s: %w", pm.Key, pm.Name, err)
		}
	}

	el, err := s.loadElement(ctx, tx, m.Ref)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return el, nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE);"); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func upsertElement(ctx context.Context, tx *sql.Tx, m graph.Mutation, now string) error {
	filter := []byte(`{}`)
	if m.Filter != nil {
		b, err := json.Marshal(m.Filter)
		if err != nil {
			return fmt.Errorf("marshal worker filter: %w", err)
		}
		filter = b
	}

	_, err := tx.ExecContext(ctx, `
INSERT INTO elements(kind, id, visibility, filter, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(kind, id) DO UPDATE SET
  visibility = CASE WHEN excluded.visibility = '' THEN elements.visibility ELSE excluded.visibility END,
  filter = CASE WHEN ? THEN excluded.filter ELSE elements.filter END,
  updated_at = excluded.updated_at;
`, m.Ref.Kind, m.Ref.ID, m.Visibility, string(filter), now, now, m.Filter != nil)
	if err != nil {
		return fmt.Errorf("upsert element %s: %w", m.Ref, err)
	}
	return nil
}

func upsertProperty(ctx context.Context, tx *sql.Tx, ref graph.ElementRef, pm graph.PropertyMutation, blobHash string, blobSize int64, now string) error {
	var (
		value  any
		hash   any
		size   any
		hidden bool
	)
	if pm.Hidden != nil {
		hidden = *pm.Hidden
	}
	if blobHash != "" {
		hash, size = blobHash, blobSize
	} else {
		b, err := json.Marshal(pm.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		value = string(b)
	}

	_, err := tx.ExecContext(ctx, `
INSERT INTO properties(element_kind, element_id, key, name, visibility, value, blob_hash, blob_size, hidden, deleted, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
ON CONFLICT(element_kind, element_id, key, name) DO UPDATE SET
  visibility = excluded.visibility,
  value = excluded.value,
  blob_hash = excluded.blob_hash,
  blob_size = excluded.blob_size,
  hidden = excluded.hidden,
  deleted = 0,
  updated_at = excluded.updated_at;
`, ref.Kind, ref.ID, pm.Key, pm.Name, pm.Visibility, value, hash, size, boolInt(hidden), now)
	return err
}

func (s *Store) loadElement(ctx context.Context, q querier, ref graph.ElementRef) (*graph.Element, error) {
	var (
		visibility string
		filterRaw  string
	)
	err := q.QueryRowContext(ctx,
		"SELECT visibility, filter FROM elements WHERE kind = ? AND id = ?;", ref.Kind, ref.ID,
	).Scan(&visibility, &filterRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element %s: %w", ref, graph.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read element %s: %w", ref, err)
	}

	el := &graph.Element{Ref: ref, Visibility: visibility}
	if err := json.Unmarshal([]byte(filterRaw), &el.Filter); err != nil {
		return nil, fmt.Errorf("decode worker filter for %s: %w", ref, err)
	}

	rows, err := q.QueryContext(ctx, `
SELECT key, name, visibility, value, blob_hash, blob_size, hidden, deleted
FROM properties
WHERE element_kind = ? AND element_id = ?
ORDER BY key, name;
`, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("read properties for %s: %w", ref, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        graph.Property
			value    sql.NullString
			blobHash sql.NullString
			blobSize sql.NullInt64
		)
		if err := rows.Scan(&p.Key, &p.Name, &p.Visibility, &value, &blobHash, &blobSize, &p.Hidden, &p.Deleted); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		switch {
		case blobHash.Valid && blobHash.String != "":
			p.Stream = fileStream{path: s.blobPath(blobHash.String), size: blobSize.Int64}
		case value.Valid:
			if err := json.Unmarshal([]byte(value.String), &p.Value); err != nil {
				return nil, fmt.Errorf("decode property %s/%s: %w", p.Key, p.Name, err)
			}
		}
		el.Properties = append(el.Properties, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return el, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
