package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
)

const upsertNoteSQL = `
INSERT INTO notes (id, title, content, created_at, modified_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title       = excluded.title,
	content     = excluded.content,
	modified_at = excluded.modified_at
`

// UpsertNote inserts or updates a single note. created_at is immutable
// after creation; modified_at is clamped to never precede created_at.
func (db *DB) UpsertNote(n models.Note) error {
	n = clampNote(n)
	_, err := db.conn.Exec(upsertNoteSQL,
		n.ID, n.Title, n.Content, n.CreatedAt.UnixMilli(), n.ModifiedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("localstore: upsert note: %w", err)
	}
	return nil
}

// UpsertNotes applies a batch of notes in a single transaction. A failure
// mid-batch rolls back the whole batch.
func (db *DB) UpsertNotes(notes []models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(upsertNoteSQL)
	if err != nil {
		return fmt.Errorf("localstore: prepare note upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		n = clampNote(n)
		if _, err := stmt.Exec(n.ID, n.Title, n.Content, n.CreatedAt.UnixMilli(), n.ModifiedAt.UnixMilli()); err != nil {
			return fmt.Errorf("localstore: upsert note %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// GetNote returns the note with the given id, or apperr.ErrNotFound.
func (db *DB) GetNote(id string) (*models.Note, error) {
	row := db.conn.QueryRow(`SELECT id, title, content, created_at, modified_at FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("localstore: get note: %w", err)
	}
	return &n, nil
}

// AllNotes returns every note keyed by id. Reconciliation fetches this
// fresh each pass; callers must not retain the map across passes.
func (db *DB) AllNotes() (map[string]models.Note, error) {
	rows, err := db.conn.Query(`SELECT id, title, content, created_at, modified_at FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("localstore: all notes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Note)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// ListNotes returns notes ordered by modified_at descending, with the
// total count for pagination.
func (db *DB) ListNotes(limit, offset int) ([]models.Note, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("localstore: count notes: %w", err)
	}

	rows, err := db.conn.Query(
		`SELECT id, title, content, created_at, modified_at FROM notes ORDER BY modified_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("localstore: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// DeleteNote removes a note. Its tag attachments and links cascade:
// links are deleted in the same transaction so no orphan rows survive
// a local deletion.
func (db *DB) DeleteNote(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM note_links WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("localstore: delete note links: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localstore: delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

// NoteIDs returns the set of known note ids.
func (db *DB) NoteIDs() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT id FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("localstore: note ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (models.Note, error) {
	var n models.Note
	var created, modified int64
	if err := r.Scan(&n.ID, &n.Title, &n.Content, &created, &modified); err != nil {
		return models.Note{}, err
	}
	n.CreatedAt = time.UnixMilli(created).UTC()
	n.ModifiedAt = time.UnixMilli(modified).UTC()
	return n, nil
}

func clampNote(n models.Note) models.Note {
	if n.ModifiedAt.Before(n.CreatedAt) {
		n.ModifiedAt = n.CreatedAt
	}
	return n
}
