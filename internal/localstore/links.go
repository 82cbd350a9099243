package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
)

// CreateLink inserts a new link after validating the endpoint invariant
// and that both endpoints exist locally.
func (db *DB) CreateLink(l models.NoteLink) error {
	if !l.Valid() {
		return fmt.Errorf("localstore: %w: link endpoints must be distinct and non-empty", apperr.ErrConflict)
	}
	for _, id := range []string{l.SourceID, l.TargetID} {
		if _, err := db.GetNote(id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("localstore: link endpoint %s: %w", id, apperr.ErrNotFound)
			}
			return err
		}
	}
	_, err := db.conn.Exec(
		`INSERT INTO note_links (id, source_id, target_id, link_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.SourceID, l.TargetID, string(l.LinkType), l.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("localstore: create link: %w", err)
	}
	return nil
}

// InsertLinks applies a batch of links in a single transaction. Links are
// immutable after creation, so existing ids are left untouched.
func (db *DB) InsertLinks(links []models.NoteLink) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO note_links (id, source_id, target_id, link_type, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("localstore: prepare link insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range links {
		if _, err := stmt.Exec(l.ID, l.SourceID, l.TargetID, string(l.LinkType), l.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("localstore: insert link %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// GetLink returns the link with the given id, or apperr.ErrNotFound.
func (db *DB) GetLink(id string) (*models.NoteLink, error) {
	row := db.conn.QueryRow(
		`SELECT id, source_id, target_id, link_type, created_at FROM note_links WHERE id = ?`, id)
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("localstore: get link: %w", err)
	}
	return &l, nil
}

// AllLinks returns every link keyed by id.
func (db *DB) AllLinks() (map[string]models.NoteLink, error) {
	rows, err := db.conn.Query(`SELECT id, source_id, target_id, link_type, created_at FROM note_links`)
	if err != nil {
		return nil, fmt.Errorf("localstore: all links: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.NoteLink)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

// LinksForNote returns all links where the note is source or target.
func (db *DB) LinksForNote(noteID string) ([]models.NoteLink, error) {
	rows, err := db.conn.Query(
		`SELECT id, source_id, target_id, link_type, created_at FROM note_links
		 WHERE source_id = ? OR target_id = ?`, noteID, noteID)
	if err != nil {
		return nil, fmt.Errorf("localstore: links for note: %w", err)
	}
	defer rows.Close()

	var out []models.NoteLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLink removes a link by id.
func (db *DB) DeleteLink(id string) error {
	res, err := db.conn.Exec(`DELETE FROM note_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localstore: delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteDanglingLinks garbage-collects links whose endpoints no longer
// resolve to a local note. Such links are inert and never surfaced; this
// sweep runs at the end of every full pass.
func (db *DB) DeleteDanglingLinks() (int, error) {
	res, err := db.conn.Exec(`DELETE FROM note_links
		WHERE source_id NOT IN (SELECT id FROM notes)
		   OR target_id NOT IN (SELECT id FROM notes)
		   OR source_id = target_id`)
	if err != nil {
		return 0, fmt.Errorf("localstore: sweep links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanLink(r rowScanner) (models.NoteLink, error) {
	var l models.NoteLink
	var typ string
	var created int64
	if err := r.Scan(&l.ID, &l.SourceID, &l.TargetID, &typ, &created); err != nil {
		return models.NoteLink{}, err
	}
	l.LinkType = models.LinkType(typ)
	l.CreatedAt = time.UnixMilli(created).UTC()
	return l, nil
}
