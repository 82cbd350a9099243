// Package models defines the domain types for Skrift.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LinkType enumerates the semantic kinds of note-to-note links.
type LinkType string

const (
	LinkReference LinkType = "reference"
	LinkRelated   LinkType = "related"
	LinkParent    LinkType = "parent"
	LinkChild     LinkType = "child"
)

// Valid reports whether t is one of the known link types.
func (t LinkType) Valid() bool {
	switch t {
	case LinkReference, LinkRelated, LinkParent, LinkChild:
		return true
	}
	return false
}

// Note is the primary user-editable entity. ModifiedAt is bumped on every
// local mutation and drives last-writer-wins reconciliation against the
// remote store. Invariant: ModifiedAt >= CreatedAt.
type Note struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Touch updates ModifiedAt, clamping it to never precede CreatedAt.
func (n *Note) Touch(now time.Time) {
	if now.Before(n.CreatedAt) {
		now = n.CreatedAt
	}
	n.ModifiedAt = now
}

// Tag is a label attached to notes. Name is the natural dedup key:
// creation goes through get-or-create-by-name semantics.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteLink is a directed, immutable edge between two notes. A valid link
// has distinct non-empty endpoints; anything else is inert and eligible
// for garbage collection.
type NoteLink struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	LinkType  LinkType  `json:"link_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the link satisfies the endpoint invariant.
func (l NoteLink) Valid() bool {
	return l.SourceID != "" && l.TargetID != "" && l.SourceID != l.TargetID && l.LinkType.Valid()
}

// NewID generates a stable unique entity id.
func NewID() string {
	return uuid.NewString()
}
