package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/codec"
	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/remote"
)

// executePass reconciles the requested kinds against the remote store.
// Each stage commits its own local transaction; a stage failure aborts
// the remaining stages but keeps everything already committed.
func (e *Engine) executePass(ctx context.Context, kinds []Kind, progress chan<- float64) error {
	started := time.Now().UTC()
	operation := "incremental_sync"
	full := len(kinds) == len(kindOrder)
	if full {
		operation = "full_sync"
	}

	err := e.runStages(ctx, kinds, full, progress)

	entry := history.Entry{
		Timestamp: started,
		Operation: operation,
		Success:   err == nil,
		Kinds:     kindsLabel(kinds),
	}
	if err != nil {
		entry.Cause = err.Error()
		e.logger.Warn("sync pass failed",
			slog.String("operation", operation),
			slog.String("kinds", entry.Kinds),
			slog.String("error", err.Error()))
	} else {
		e.logger.Info("sync pass completed",
			slog.String("operation", operation),
			slog.String("kinds", entry.Kinds),
			slog.Duration("elapsed", time.Since(started)))
	}
	e.ledger.Record(entry)
	return err
}

func (e *Engine) runStages(ctx context.Context, kinds []Kind, full bool, progress chan<- float64) error {
	if !e.monitor.Online() {
		e.dirty.Store(true)
		return apperr.ErrNoNetwork
	}
	owner, err := e.codec.OwnerID()
	if err != nil {
		return err
	}

	report := func(completed, total int) {
		select {
		case progress <- float64(completed) / float64(total):
		default:
		}
	}

	hasTags := false
	for _, k := range kinds {
		if k == KindTags {
			hasTags = true
		}
	}

	// Attachments discovered during the notes stage reference tags that
	// may not exist locally until the tags stage commits.
	var deferred map[string][]string

	for i, kind := range kinds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch kind {
		case KindNotes:
			deferred, err = e.reconcileNotes(ctx, owner)
			if err == nil && !hasTags {
				err = e.local.AttachTags(deferred)
				deferred = nil
			}
		case KindTags:
			err = e.reconcileTags(ctx, owner)
			if err == nil && deferred != nil {
				err = e.local.AttachTags(deferred)
				deferred = nil
			}
		case KindLinks:
			err = e.reconcileLinks(ctx, owner)
		}
		if err != nil {
			return fmt.Errorf("%s stage: %w", kind, err)
		}
		report(i+1, len(kinds))
	}

	if full {
		if n, err := e.local.DeleteDanglingLinks(); err != nil {
			return fmt.Errorf("link sweep: %w", err)
		} else if n > 0 {
			e.logger.Info("swept dangling links", slog.Int("count", n))
		}
		e.dirty.Store(false)
	}
	return nil
}

// reconcileNotes applies last-writer-wins by modified_at: the newer side
// overwrites the older, a tie keeps the local note. Local-only notes are
// pushed up; remote-only notes are adopted. Returns the note->tag
// attachments carried by adopted remote documents, to be applied once
// the tags exist locally.
func (e *Engine) reconcileNotes(ctx context.Context, owner string) (map[string][]string, error) {
	docs, err := e.remote.List(ctx, remote.CollectionNotes, owner, "modified_at", 0)
	if err != nil {
		return nil, err
	}
	local, err := e.local.AllNotes()
	if err != nil {
		return nil, err
	}

	attachments := map[string][]string{}
	var toLocal []models.Note
	var toRemote []models.Note
	seen := make(map[string]bool, len(docs))

	for _, raw := range docs {
		var existing *models.Note
		if n, ok := local[docID(raw)]; ok {
			existing = &n
		}
		n, tagIDs, err := codec.DecodeNote(raw, existing)
		if err != nil {
			e.logger.Warn("skipping malformed remote note", slog.String("error", err.Error()))
			continue
		}
		seen[n.ID] = true

		if existing == nil {
			toLocal = append(toLocal, n)
			attachments[n.ID] = tagIDs
			continue
		}
		switch {
		case n.ModifiedAt.After(existing.ModifiedAt):
			toLocal = append(toLocal, n)
			attachments[n.ID] = tagIDs
		case existing.ModifiedAt.After(n.ModifiedAt):
			toRemote = append(toRemote, *existing)
		default:
			// Tie: local wins and is re-asserted remotely.
			toRemote = append(toRemote, *existing)
		}
	}
	for id, n := range local {
		if !seen[id] {
			toRemote = append(toRemote, n)
		}
	}

	if err := e.local.UpsertNotes(toLocal); err != nil {
		return nil, err
	}
	if err := e.pushNotesUp(ctx, toRemote); err != nil {
		return nil, err
	}
	return attachments, nil
}

func (e *Engine) pushNotesUp(ctx context.Context, notes []models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	ops := make([]remote.Operation, 0, len(notes))
	for _, n := range notes {
		tagIDs, err := e.local.TagIDsForNote(n.ID)
		if err != nil {
			return err
		}
		doc, err := e.codec.EncodeNote(n, tagIDs)
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
}

// reconcileTags refreshes names from remote for tags present on both
// sides (remote wins), adopts remote-only tags, pushes local-only tags.
func (e *Engine) reconcileTags(ctx context.Context, owner string) error {
	docs, err := e.remote.List(ctx, remote.CollectionTags, owner, "", 0)
	if err != nil {
		return err
	}
	local, err := e.local.AllTags()
	if err != nil {
		return err
	}

	var toLocal []models.Tag
	var ops []remote.Operation
	seen := make(map[string]bool, len(docs))

	for _, raw := range docs {
		var existing *models.Tag
		if t, ok := local[docID(raw)]; ok {
			existing = &t
		}
		t, err := codec.DecodeTag(raw, existing)
		if err != nil {
			e.logger.Warn("skipping malformed remote tag", slog.String("error", err.Error()))
			continue
		}
		seen[t.ID] = true

		if existing == nil || existing.Name != t.Name {
			toLocal = append(toLocal, t)
		}
	}
	for id, t := range local {
		if seen[id] {
			continue
		}
		doc, err := e.codec.EncodeTag(t)
		if err != nil {
			return err
		}
		op, err := upsertOp(remote.CollectionTags, id, doc)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	if err := e.local.UpsertTags(toLocal); err != nil {
		return err
	}
	if len(ops) > 0 {
		return e.remote.BatchCommit(ctx, ops)
	}
	return nil
}

// reconcileLinks is existence-only: links are immutable, so each side
// just adopts the other's missing links. A remote link whose endpoints
// are not both local yet is skipped and retried on the next pass.
func (e *Engine) reconcileLinks(ctx context.Context, owner string) error {
	docs, err := e.remote.List(ctx, remote.CollectionLinks, owner, "", 0)
	if err != nil {
		return err
	}
	local, err := e.local.AllLinks()
	if err != nil {
		return err
	}
	noteIDs, err := e.local.NoteIDs()
	if err != nil {
		return err
	}

	var toLocal []models.NoteLink
	var ops []remote.Operation
	seen := make(map[string]bool, len(docs))

	for _, raw := range docs {
		l, err := codec.DecodeLink(raw)
		if err != nil {
			e.logger.Warn("skipping malformed remote link", slog.String("error", err.Error()))
			continue
		}
		seen[l.ID] = true
		if _, ok := local[l.ID]; ok {
			continue
		}
		if !l.Valid() {
			continue
		}
		if _, ok := noteIDs[l.SourceID]; !ok {
			continue
		}
		if _, ok := noteIDs[l.TargetID]; !ok {
			continue
		}
		toLocal = append(toLocal, l)
	}
	for id, l := range local {
		if seen[id] {
			continue
		}
		doc, err := e.codec.EncodeLink(l)
		if err != nil {
			return err
		}
		op, err := upsertOp(remote.CollectionLinks, id, doc)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	if err := e.local.InsertLinks(toLocal); err != nil {
		return err
	}
	if len(ops) > 0 {
		return e.remote.BatchCommit(ctx, ops)
	}
	return nil
}

// upsertOp builds a merge upsert, matching the per-mutation push path:
// fields the codec doesn't know about survive a pass re-assert.
func upsertOp(col remote.Collection, id string, doc any) (remote.Operation, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.Operation{}, fmt.Errorf("encode %s %s: %w", col, id, err)
	}
	return remote.Operation{Kind: remote.OpUpsert, Collection: col, ID: id, Document: raw, Merge: true}, nil
}

func docID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ID
}
