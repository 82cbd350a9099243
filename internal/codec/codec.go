// Package codec translates between domain models and remote documents.
// It is the only place where wire shapes are known: timestamps are Unix
// milliseconds on the wire, optional fields are pointers so a partial
// document can be told apart from a zeroed one.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
)

// Principal supplies the identity that scopes every remote document.
type Principal interface {
	// CurrentOwnerID returns the owner id and whether one is available.
	CurrentOwnerID() (string, bool)
}

// StaticPrincipal is a fixed-identity Principal for single-user setups.
type StaticPrincipal string

func (p StaticPrincipal) CurrentOwnerID() (string, bool) {
	return string(p), p != ""
}

// NoteDocument is the wire shape of a note. All mutable fields are
// pointers: a partial document from a merge-write leaves absent fields
// untouched on decode.
type NoteDocument struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"owner_id"`
	Title      *string  `json:"title,omitempty"`
	Content    *string  `json:"content,omitempty"`
	CreatedAt  *int64   `json:"created_at,omitempty"`
	ModifiedAt *int64   `json:"modified_at,omitempty"`
	TagIDs     []string `json:"tag_ids,omitempty"`
}

// TagDocument is the wire shape of a tag.
type TagDocument struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Name      *string `json:"name,omitempty"`
	CreatedAt *int64  `json:"created_at,omitempty"`
}

// LinkDocument is the wire shape of a note link. Links are immutable, so
// the fields are plain values.
type LinkDocument struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	LinkType  string `json:"link_type"`
	CreatedAt int64  `json:"created_at"`
}

// Codec encodes and decodes documents under a principal's scope.
type Codec struct {
	principal Principal
}

// New creates a Codec scoped to the given principal.
func New(p Principal) *Codec {
	return &Codec{principal: p}
}

// OwnerID returns the current owner id, or apperr.ErrScopeUnavailable
// when no principal is authenticated.
func (c *Codec) OwnerID() (string, error) {
	owner, ok := c.principal.CurrentOwnerID()
	if !ok {
		return "", apperr.ErrScopeUnavailable
	}
	return owner, nil
}

// EncodeNote builds the full wire document for a note, including its
// current tag attachments.
func (c *Codec) EncodeNote(n models.Note, tagIDs []string) (NoteDocument, error) {
	owner, err := c.OwnerID()
	if err != nil {
		return NoteDocument{}, err
	}
	return NoteDocument{
		ID:         n.ID,
		OwnerID:    owner,
		Title:      ptr(n.Title),
		Content:    ptr(n.Content),
		CreatedAt:  ptr(n.CreatedAt.UnixMilli()),
		ModifiedAt: ptr(n.ModifiedAt.UnixMilli()),
		TagIDs:     tagIDs,
	}, nil
}

// EncodeTag builds the full wire document for a tag.
func (c *Codec) EncodeTag(t models.Tag) (TagDocument, error) {
	owner, err := c.OwnerID()
	if err != nil {
		return TagDocument{}, err
	}
	return TagDocument{
		ID:        t.ID,
		OwnerID:   owner,
		Name:      ptr(t.Name),
		CreatedAt: ptr(t.CreatedAt.UnixMilli()),
	}, nil
}

// EncodeLink builds the wire document for a link.
func (c *Codec) EncodeLink(l models.NoteLink) (LinkDocument, error) {
	owner, err := c.OwnerID()
	if err != nil {
		return LinkDocument{}, err
	}
	return LinkDocument{
		ID:        l.ID,
		OwnerID:   owner,
		SourceID:  l.SourceID,
		TargetID:  l.TargetID,
		LinkType:  string(l.LinkType),
		CreatedAt: l.CreatedAt.UnixMilli(),
	}, nil
}

// DecodeNote turns a raw remote document into a note, plus its tag ids.
// When existing is non-nil, absent fields keep the local values instead
// of zeroing; this is how partial merge documents round-trip safely.
func DecodeNote(raw json.RawMessage, existing *models.Note) (models.Note, []string, error) {
	var doc NoteDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Note{}, nil, fmt.Errorf("codec: decode note: %w", err)
	}
	if doc.ID == "" {
		return models.Note{}, nil, fmt.Errorf("codec: decode note: missing id")
	}

	var n models.Note
	if existing != nil {
		n = *existing
	}
	n.ID = doc.ID
	if doc.Title != nil {
		n.Title = *doc.Title
	}
	if doc.Content != nil {
		n.Content = *doc.Content
	}
	if doc.CreatedAt != nil {
		n.CreatedAt = fromMilli(*doc.CreatedAt)
	}
	if doc.ModifiedAt != nil {
		n.ModifiedAt = fromMilli(*doc.ModifiedAt)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.ModifiedAt
	}
	if n.ModifiedAt.Before(n.CreatedAt) {
		n.ModifiedAt = n.CreatedAt
	}
	return n, doc.TagIDs, nil
}

// DecodeTag turns a raw remote document into a tag. Absent fields keep
// the values from existing when provided.
func DecodeTag(raw json.RawMessage, existing *models.Tag) (models.Tag, error) {
	var doc TagDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Tag{}, fmt.Errorf("codec: decode tag: %w", err)
	}
	if doc.ID == "" {
		return models.Tag{}, fmt.Errorf("codec: decode tag: missing id")
	}

	var t models.Tag
	if existing != nil {
		t = *existing
	}
	t.ID = doc.ID
	if doc.Name != nil {
		t.Name = *doc.Name
	}
	if doc.CreatedAt != nil {
		t.CreatedAt = fromMilli(*doc.CreatedAt)
	}
	return t, nil
}

// DecodeLink turns a raw remote document into a link.
func DecodeLink(raw json.RawMessage) (models.NoteLink, error) {
	var doc LinkDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.NoteLink{}, fmt.Errorf("codec: decode link: %w", err)
	}
	if doc.ID == "" {
		return models.NoteLink{}, fmt.Errorf("codec: decode link: missing id")
	}
	return models.NoteLink{
		ID:        doc.ID,
		SourceID:  doc.SourceID,
		TargetID:  doc.TargetID,
		LinkType:  models.LinkType(doc.LinkType),
		CreatedAt: fromMilli(doc.CreatedAt),
	}, nil
}

func ptr[T any](v T) *T { return &v }

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
