package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
)

// GetOrCreateTag returns the tag named name, creating it when absent.
// The boolean reports whether a new tag was created. Name is the natural
// dedup key: two calls with the same name yield the same tag id.
func (db *DB) GetOrCreateTag(name string) (models.Tag, bool, error) {
	if t, err := db.GetTagByName(name); err == nil {
		return *t, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return models.Tag{}, false, err
	}

	t := models.Tag{ID: models.NewID(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := db.conn.Exec(`INSERT INTO tags (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`, t.ID, t.Name, t.CreatedAt.UnixMilli())
	if err != nil {
		return models.Tag{}, false, fmt.Errorf("localstore: create tag: %w", err)
	}
	// A concurrent insert may have won; re-read to return the canonical row.
	canonical, err := db.GetTagByName(name)
	if err != nil {
		return models.Tag{}, false, err
	}
	return *canonical, canonical.ID == t.ID, nil
}

const upsertTagSQL = `
INSERT INTO tags (id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name
`

// UpsertTags applies a batch of tags in a single transaction. Scalar
// fields are refreshed unconditionally (remote wins for tags).
func (db *DB) UpsertTags(tags []models.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(upsertTagSQL)
	if err != nil {
		return fmt.Errorf("localstore: prepare tag upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tags {
		if _, err := stmt.Exec(t.ID, t.Name, t.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("localstore: upsert tag %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// GetTag returns the tag with the given id, or apperr.ErrNotFound.
func (db *DB) GetTag(id string) (*models.Tag, error) {
	return db.scanTagRow(db.conn.QueryRow(`SELECT id, name, created_at FROM tags WHERE id = ?`, id))
}

// GetTagByName returns the tag with the given name, or apperr.ErrNotFound.
func (db *DB) GetTagByName(name string) (*models.Tag, error) {
	return db.scanTagRow(db.conn.QueryRow(`SELECT id, name, created_at FROM tags WHERE name = ?`, name))
}

// AllTags returns every tag keyed by id.
func (db *DB) AllTags() (map[string]models.Tag, error) {
	rows, err := db.conn.Query(`SELECT id, name, created_at FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("localstore: all tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Tag)
	for rows.Next() {
		var t models.Tag
		var created int64
		if err := rows.Scan(&t.ID, &t.Name, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		out[t.ID] = t
	}
	return out, rows.Err()
}

// DeleteTag removes a tag. Attachments detach via FK cascade on the join
// table; notes themselves are untouched (nullify semantics).
func (db *DB) DeleteTag(id string) error {
	res, err := db.conn.Exec(`DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localstore: delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// AttachTag links a tag to a note. Both must exist.
func (db *DB) AttachTag(noteID, tagID string) error {
	_, err := db.conn.Exec(`INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)`, noteID, tagID)
	if err != nil {
		return fmt.Errorf("localstore: attach tag: %w", err)
	}
	return nil
}

// DetachTag removes a note-tag attachment.
func (db *DB) DetachTag(noteID, tagID string) error {
	_, err := db.conn.Exec(`DELETE FROM note_tags WHERE note_id = ? AND tag_id = ?`, noteID, tagID)
	if err != nil {
		return fmt.Errorf("localstore: detach tag: %w", err)
	}
	return nil
}

// AttachTags applies note->tag attachments in one transaction, silently
// skipping tag ids that don't exist locally yet. Missing attachments are
// retried on the next pass once the tag has propagated.
func (db *DB) AttachTags(attachments map[string][]string) error {
	if len(attachments) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO note_tags (note_id, tag_id)
		SELECT ?, id FROM tags WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("localstore: prepare attach: %w", err)
	}
	defer stmt.Close()

	for noteID, tagIDs := range attachments {
		for _, tagID := range tagIDs {
			if _, err := stmt.Exec(noteID, tagID); err != nil {
				return fmt.Errorf("localstore: attach %s -> %s: %w", noteID, tagID, err)
			}
		}
	}
	return tx.Commit()
}

// TagIDsForNote returns the ids of all tags attached to a note.
func (db *DB) TagIDsForNote(noteID string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT tag_id FROM note_tags WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("localstore: tags for note: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (db *DB) scanTagRow(row *sql.Row) (*models.Tag, error) {
	var t models.Tag
	var created int64
	if err := row.Scan(&t.ID, &t.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("localstore: scan tag: %w", err)
	}
	t.CreatedAt = time.UnixMilli(created).UTC()
	return &t, nil
}
