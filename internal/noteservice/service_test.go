package noteservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/remote"
	"github.com/aldevik/skrift/internal/testutil"
)

// fakeSyncer records pushes and lets tests inject failures.
type fakeSyncer struct {
	mu          sync.Mutex
	pushedNotes []string
	pushedTags  []string
	pushedLinks []string
	deleted     []string

	pushErr   error
	deleteErr error

	// onDelete runs inside PushDelete, before it returns. Tests use it
	// to observe local state at the remote-ack point.
	onDelete func(id string)
}

func (f *fakeSyncer) PushNote(_ context.Context, n models.Note, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushedNotes = append(f.pushedNotes, n.ID)
	return nil
}

func (f *fakeSyncer) PushTag(_ context.Context, t models.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushedTags = append(f.pushedTags, t.ID)
	return nil
}

func (f *fakeSyncer) PushLink(_ context.Context, l models.NoteLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushedLinks = append(f.pushedLinks, l.ID)
	return nil
}

func (f *fakeSyncer) PushDelete(_ context.Context, _ remote.Collection, id string) error {
	f.mu.Lock()
	hook := f.onDelete
	err := f.deleteErr
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSyncer) notePushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushedNotes)
}

func newService(t *testing.T) (*Service, *fakeSyncer) {
	t.Helper()
	syncer := &fakeSyncer{}
	svc := New(testutil.TestDB(t), syncer, testutil.DiscardLogger(), nil)
	return svc, syncer
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCreateNoteCommitsLocallyAndPushes(t *testing.T) {
	svc, syncer := newService(t)

	n, err := svc.CreateNote(context.Background(), "hello", "body")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetNote(context.Background(), n.ID); err != nil {
		t.Fatalf("note not committed locally: %v", err)
	}
	waitFor(t, func() bool { return syncer.notePushCount() == 1 })
}

func TestCreateNoteSurvivesPushFailure(t *testing.T) {
	svc, syncer := newService(t)
	syncer.pushErr = apperr.ErrNoNetwork

	n, err := svc.CreateNote(context.Background(), "offline note", "body")
	if err != nil {
		t.Fatalf("local create must succeed regardless of push: %v", err)
	}
	if _, err := svc.GetNote(context.Background(), n.ID); err != nil {
		t.Fatalf("edit lost on push failure: %v", err)
	}
}

func TestCreateNoteRequiresTitle(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.CreateNote(context.Background(), "   ", "body"); err == nil {
		t.Error("expected error for blank title")
	}
}

func TestUpdateNotePartialFields(t *testing.T) {
	svc, _ := newService(t)
	n, err := svc.CreateNote(context.Background(), "original", "original body")
	if err != nil {
		t.Fatal(err)
	}

	title := "renamed"
	got, err := svc.UpdateNote(context.Background(), n.ID, &title, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Content != "original body" {
		t.Errorf("nil content field must leave content unchanged: %q", got.Content)
	}
	if !got.ModifiedAt.After(n.ModifiedAt) && !got.ModifiedAt.Equal(n.ModifiedAt) {
		t.Errorf("modified_at went backwards: %v < %v", got.ModifiedAt, n.ModifiedAt)
	}
}

func TestDeleteNoteRequiresRemoteAck(t *testing.T) {
	svc, syncer := newService(t)
	n, err := svc.CreateNote(context.Background(), "doomed", "body")
	if err != nil {
		t.Fatal(err)
	}
	syncer.deleteErr = apperr.ErrNoNetwork

	if err := svc.DeleteNote(context.Background(), n.ID); !errors.Is(err, apperr.ErrNoNetwork) {
		t.Fatalf("err = %v, want ErrNoNetwork", err)
	}
	// Without the remote ack the local note must survive.
	if _, err := svc.GetNote(context.Background(), n.ID); err != nil {
		t.Errorf("local delete committed before remote ack: %v", err)
	}
}

func TestDeleteNoteOrderRemoteFirst(t *testing.T) {
	svc, syncer := newService(t)
	n, err := svc.CreateNote(context.Background(), "ordered", "body")
	if err != nil {
		t.Fatal(err)
	}

	var localAtAck error
	syncer.onDelete = func(id string) {
		_, localAtAck = svc.GetNote(context.Background(), id)
	}

	if err := svc.DeleteNote(context.Background(), n.ID); err != nil {
		t.Fatal(err)
	}
	if localAtAck != nil {
		t.Error("local note was already gone when the remote delete ran")
	}
	if _, err := svc.GetNote(context.Background(), n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("note survived acked delete: err = %v", err)
	}
}

func TestGetOrCreateTagDedup(t *testing.T) {
	svc, _ := newService(t)

	t1, err := svc.GetOrCreateTag(context.Background(), "work")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := svc.GetOrCreateTag(context.Background(), "work")
	if err != nil {
		t.Fatal(err)
	}
	if t1.ID != t2.ID {
		t.Errorf("same name produced two tags: %s vs %s", t1.ID, t2.ID)
	}
}

func TestTagNoteAttaches(t *testing.T) {
	svc, _ := newService(t)
	n, err := svc.CreateNote(context.Background(), "tagged", "body")
	if err != nil {
		t.Fatal(err)
	}

	tag, err := svc.TagNote(context.Background(), n.ID, "project")
	if err != nil {
		t.Fatal(err)
	}
	ids, err := svc.TagIDsForNote(context.Background(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != tag.ID {
		t.Errorf("attachments = %v, want [%s]", ids, tag.ID)
	}
}

func TestLinkNotesValidatesEndpoints(t *testing.T) {
	svc, syncer := newService(t)
	a, err := svc.CreateNote(context.Background(), "a", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.CreateNote(context.Background(), "b", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.LinkNotes(context.Background(), a.ID, a.ID, models.LinkRelated); err == nil {
		t.Error("self link accepted")
	}
	if _, err := svc.LinkNotes(context.Background(), a.ID, "ghost", models.LinkRelated); err == nil {
		t.Error("link to missing note accepted")
	}

	l, err := svc.LinkNotes(context.Background(), a.ID, b.ID, models.LinkReference)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return len(syncer.pushedLinks) == 1 && syncer.pushedLinks[0] == l.ID
	})
}
