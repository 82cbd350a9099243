package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/syncengine"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 512)),
	)
}

// UpdateNoteRequest is the request body for updating a note. Absent
// fields are left unchanged.
type UpdateNoteRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func (r UpdateNoteRequest) Validate() error {
	if r.Title == nil && r.Content == nil {
		return validation.Errors{"body": validation.NewError("validation_empty", "at least one field is required")}
	}
	if r.Title != nil {
		return validation.Validate(*r.Title, validation.Required, validation.Length(1, 512))
	}
	return nil
}

// TagNoteRequest attaches a tag (by name) to a note.
type TagNoteRequest struct {
	Name string `json:"name"`
}

func (r TagNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 128)),
	)
}

// CreateLinkRequest creates a directed link between two notes.
type CreateLinkRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	LinkType string `json:"link_type"`
}

func (r CreateLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceID, validation.Required),
		validation.Field(&r.TargetID, validation.Required),
		validation.Field(&r.LinkType, validation.Required,
			validation.By(func(v any) error {
				if !models.LinkType(v.(string)).Valid() {
					return validation.NewError("validation_link_type", "unknown link type")
				}
				return nil
			})),
	)
}

// SyncRequest selects entity kinds for an incremental pass. Empty means
// all kinds.
type SyncRequest struct {
	Kinds []string `json:"kinds"`
}

func (r SyncRequest) Validate() error {
	for _, k := range r.Kinds {
		switch syncengine.Kind(k) {
		case syncengine.KindNotes, syncengine.KindTags, syncengine.KindLinks:
		default:
			return validation.NewError("validation_kind", "unknown sync kind: "+k)
		}
	}
	return nil
}

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}
