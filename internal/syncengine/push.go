package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/remote"
)

// Per-mutation pushes mirror single local changes to the remote store
// outside a full pass. Upserts are merge-writes so concurrent fields the
// client doesn't know about survive. An offline push fails fast and
// marks the engine dirty; the next online transition drains the backlog.

// PushNote mirrors a local note upsert to the remote store.
func (e *Engine) PushNote(ctx context.Context, n models.Note, tagIDs []string) error {
	return e.push(ctx, "push_note", string(KindNotes), func(ctx context.Context) error {
		doc, err := e.codec.EncodeNote(n, tagIDs)
		if err != nil {
			return err
		}
		return e.remote.Upsert(ctx, remote.CollectionNotes, n.ID, doc, true)
	})
}

// PushTag mirrors a local tag upsert to the remote store.
func (e *Engine) PushTag(ctx context.Context, t models.Tag) error {
	return e.push(ctx, "push_tag", string(KindTags), func(ctx context.Context) error {
		doc, err := e.codec.EncodeTag(t)
		if err != nil {
			return err
		}
		return e.remote.Upsert(ctx, remote.CollectionTags, t.ID, doc, true)
	})
}

// PushLink mirrors a local link creation to the remote store.
func (e *Engine) PushLink(ctx context.Context, l models.NoteLink) error {
	return e.push(ctx, "push_link", string(KindLinks), func(ctx context.Context) error {
		doc, err := e.codec.EncodeLink(l)
		if err != nil {
			return err
		}
		return e.remote.Upsert(ctx, remote.CollectionLinks, l.ID, doc, true)
	})
}

// PushDelete removes a document from the remote store. Callers must not
// commit the corresponding local delete until this returns nil: the
// remote ack is the delete's commit point. An already-absent remote
// document counts as acknowledged.
func (e *Engine) PushDelete(ctx context.Context, col remote.Collection, id string) error {
	return e.push(ctx, "push_delete", string(col), func(ctx context.Context) error {
		err := e.remote.Delete(ctx, col, id)
		if errors.Is(err, apperr.ErrDocumentNotFound) {
			return nil
		}
		return err
	})
}

// PushNoteBatch mirrors a set of new notes in one atomic remote commit.
func (e *Engine) PushNoteBatch(ctx context.Context, notes []models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	return e.push(ctx, "push_note_batch", string(KindNotes), func(ctx context.Context) error {
		ops := make([]remote.Operation, 0, len(notes))
		for _, n := range notes {
			doc, err := e.codec.EncodeNote(n, nil)
			if err != nil {
				return err
			}
			op, err := upsertOp(remote.CollectionNotes, n.ID, doc)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return e.remote.BatchCommit(ctx, ops)
	})
}

func (e *Engine) push(ctx context.Context, operation, kinds string, fn func(context.Context) error) error {
	entry := history.Entry{Timestamp: time.Now().UTC(), Operation: operation, Kinds: kinds}

	var err error
	if !e.monitor.Online() {
		e.dirty.Store(true)
		err = apperr.ErrNoNetwork
	} else {
		err = fn(ctx)
	}

	entry.Success = err == nil
	if err != nil {
		entry.Cause = err.Error()
	}
	e.ledger.Record(entry)
	if err != nil {
		return fmt.Errorf("syncengine: %s: %w", operation, err)
	}
	return nil
}
