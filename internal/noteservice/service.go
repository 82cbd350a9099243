// Package noteservice implements local-first note mutations: every edit
// commits locally first, then mirrors to the remote store. A failed push
// never loses the edit; deletes are the one exception and require the
// remote ack before the local row goes away.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/localstore"
	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/remote"
)

// Syncer is the slice of the sync engine the service needs.
type Syncer interface {
	PushNote(ctx context.Context, n models.Note, tagIDs []string) error
	PushTag(ctx context.Context, t models.Tag) error
	PushLink(ctx context.Context, l models.NoteLink) error
	PushDelete(ctx context.Context, col remote.Collection, id string) error
}

// Service coordinates the local store, the sync engine and change
// notifications.
type Service struct {
	db     *localstore.DB
	syncer Syncer
	logger *slog.Logger

	// notify reports entity changes (created, updated, deleted) by id.
	notify func(kind, id string)

	// pushTimeout bounds the background mirror of a local edit.
	pushTimeout time.Duration
}

// New creates a Service. notify may be nil.
func New(db *localstore.DB, syncer Syncer, logger *slog.Logger, notify func(kind, id string)) *Service {
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Service{
		db:          db,
		syncer:      syncer,
		logger:      logger,
		notify:      notify,
		pushTimeout: 30 * time.Second,
	}
}

// CreateNote commits a new note locally and mirrors it in the background.
func (s *Service) CreateNote(ctx context.Context, title, content string) (models.Note, error) {
	now := time.Now().UTC()
	n := models.Note{
		ID:         models.NewID(),
		Title:      strings.TrimSpace(title),
		Content:    content,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if n.Title == "" {
		return models.Note{}, fmt.Errorf("noteservice: %w: title is required", apperr.ErrConflict)
	}
	if err := s.db.UpsertNote(n); err != nil {
		return models.Note{}, err
	}
	s.notify("created", n.ID)
	s.pushNoteAsync(n)
	return n, nil
}

// UpdateNote applies the supplied fields to an existing note. Nil fields
// are left unchanged.
func (s *Service) UpdateNote(ctx context.Context, id string, title, content *string) (models.Note, error) {
	n, err := s.db.GetNote(id)
	if err != nil {
		return models.Note{}, err
	}
	if title != nil {
		n.Title = strings.TrimSpace(*title)
	}
	if content != nil {
		n.Content = *content
	}
	n.Touch(time.Now().UTC())
	if err := s.db.UpsertNote(*n); err != nil {
		return models.Note{}, err
	}
	s.notify("updated", n.ID)
	s.pushNoteAsync(*n)
	return *n, nil
}

// DeleteNote removes a note. The remote delete must be acknowledged
// before the local row is touched; with the order reversed, a crash
// between the two deletes would resurrect the note on the next pass.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.db.GetNote(id); err != nil {
		return err
	}
	if err := s.syncer.PushDelete(ctx, remote.CollectionNotes, id); err != nil {
		return err
	}
	if err := s.db.DeleteNote(id); err != nil {
		return err
	}
	s.notify("deleted", id)
	return nil
}

// GetNote returns a note by id.
func (s *Service) GetNote(ctx context.Context, id string) (models.Note, error) {
	n, err := s.db.GetNote(id)
	if err != nil {
		return models.Note{}, err
	}
	return *n, nil
}

// ListNotes returns a page of notes, most recently modified first.
func (s *Service) ListNotes(ctx context.Context, limit, offset int) ([]models.Note, int, error) {
	return s.db.ListNotes(limit, offset)
}

// GetOrCreateTag returns the tag with the given name, creating it when
// absent. Created tags are mirrored in the background.
func (s *Service) GetOrCreateTag(ctx context.Context, name string) (models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Tag{}, fmt.Errorf("noteservice: %w: tag name is required", apperr.ErrConflict)
	}
	t, created, err := s.db.GetOrCreateTag(name)
	if err != nil {
		return models.Tag{}, err
	}
	if created {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
			defer cancel()
			if err := s.syncer.PushTag(ctx, t); err != nil {
				s.logger.Warn("tag push failed, queued for next sync",
					slog.String("tag", t.ID), slog.String("error", err.Error()))
			}
		}()
	}
	return t, nil
}

// TagNote attaches a tag (by name, get-or-create) to a note.
func (s *Service) TagNote(ctx context.Context, noteID, tagName string) (models.Tag, error) {
	n, err := s.db.GetNote(noteID)
	if err != nil {
		return models.Tag{}, err
	}
	t, err := s.GetOrCreateTag(ctx, tagName)
	if err != nil {
		return models.Tag{}, err
	}
	if err := s.db.AttachTag(n.ID, t.ID); err != nil {
		return models.Tag{}, err
	}
	s.notify("updated", n.ID)
	s.pushNoteAsync(*n)
	return t, nil
}

// UntagNote detaches a tag from a note.
func (s *Service) UntagNote(ctx context.Context, noteID, tagID string) error {
	n, err := s.db.GetNote(noteID)
	if err != nil {
		return err
	}
	if err := s.db.DetachTag(noteID, tagID); err != nil {
		return err
	}
	s.notify("updated", noteID)
	s.pushNoteAsync(*n)
	return nil
}

// LinkNotes creates a directed link between two existing notes and
// mirrors it in the background. Endpoints must be distinct.
func (s *Service) LinkNotes(ctx context.Context, sourceID, targetID string, linkType models.LinkType) (models.NoteLink, error) {
	l := models.NoteLink{
		ID:        models.NewID(),
		SourceID:  sourceID,
		TargetID:  targetID,
		LinkType:  linkType,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.CreateLink(l); err != nil {
		return models.NoteLink{}, err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
		defer cancel()
		if err := s.syncer.PushLink(ctx, l); err != nil {
			s.logger.Warn("link push failed, queued for next sync",
				slog.String("link", l.ID), slog.String("error", err.Error()))
		}
	}()
	return l, nil
}

// DeleteLink removes a link, remote first.
func (s *Service) DeleteLink(ctx context.Context, id string) error {
	if _, err := s.db.GetLink(id); err != nil {
		return err
	}
	if err := s.syncer.PushDelete(ctx, remote.CollectionLinks, id); err != nil {
		return err
	}
	return s.db.DeleteLink(id)
}

// LinksForNote returns all links touching a note.
func (s *Service) LinksForNote(ctx context.Context, noteID string) ([]models.NoteLink, error) {
	return s.db.LinksForNote(noteID)
}

// Tags returns all known tags.
func (s *Service) Tags(ctx context.Context) (map[string]models.Tag, error) {
	return s.db.AllTags()
}

// TagIDsForNote returns the tag ids attached to a note.
func (s *Service) TagIDsForNote(ctx context.Context, noteID string) ([]string, error) {
	return s.db.TagIDsForNote(noteID)
}

func (s *Service) pushNoteAsync(n models.Note) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
		defer cancel()
		tagIDs, err := s.db.TagIDsForNote(n.ID)
		if err != nil {
			s.logger.Warn("tag lookup for push failed", slog.String("note", n.ID), slog.String("error", err.Error()))
		}
		if err := s.syncer.PushNote(ctx, n, tagIDs); err != nil {
			s.logger.Warn("note push failed, queued for next sync",
				slog.String("note", n.ID), slog.String("error", err.Error()))
		}
	}()
}
