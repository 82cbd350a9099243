package localstore

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "skrift-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testNote(id, title string) models.Note {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.Note{ID: id, Title: title, Content: "body of " + title, CreatedAt: now, ModifiedAt: now}
}

func TestUpsertGetNote(t *testing.T) {
	db := testDB(t)
	n := testNote("n1", "hello")

	if err := db.UpsertNote(n); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "hello" || got.Content != n.Content {
		t.Errorf("got %+v, want %+v", got, n)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) || !got.ModifiedAt.Equal(n.ModifiedAt) {
		t.Errorf("timestamps changed on roundtrip: %v %v", got.CreatedAt, got.ModifiedAt)
	}
}

func TestGetNoteNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetNote("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertNotePreservesCreatedAt(t *testing.T) {
	db := testDB(t)
	n := testNote("n1", "v1")
	if err := db.UpsertNote(n); err != nil {
		t.Fatal(err)
	}

	updated := n
	updated.Title = "v2"
	updated.CreatedAt = n.CreatedAt.Add(time.Hour) // must be ignored
	updated.ModifiedAt = n.ModifiedAt.Add(time.Hour)
	if err := db.UpsertNote(updated); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "v2" {
		t.Errorf("title = %q, want v2", got.Title)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("created_at changed: %v, want %v", got.CreatedAt, n.CreatedAt)
	}
}

func TestUpsertNoteClampsModifiedAt(t *testing.T) {
	db := testDB(t)
	n := testNote("n1", "clamp")
	n.ModifiedAt = n.CreatedAt.Add(-time.Hour)

	if err := db.UpsertNote(n); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ModifiedAt.Before(got.CreatedAt) {
		t.Errorf("modified_at %v precedes created_at %v", got.ModifiedAt, got.CreatedAt)
	}
}

func TestListNotesOrderAndTotal(t *testing.T) {
	db := testDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"a", "b", "c"} {
		n := testNote(id, id)
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		n.ModifiedAt = n.CreatedAt
		if err := db.UpsertNote(n); err != nil {
			t.Fatal(err)
		}
	}

	notes, total, err := db.ListNotes(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(notes) != 2 || notes[0].ID != "c" || notes[1].ID != "b" {
		t.Errorf("unexpected page order: %+v", notes)
	}
}

func TestDeleteNoteCascadesLinks(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b"} {
		if err := db.UpsertNote(testNote(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	l := models.NoteLink{ID: "l1", SourceID: "a", TargetID: "b", LinkType: models.LinkReference, CreatedAt: time.Now().UTC()}
	if err := db.CreateLink(l); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteNote("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetLink("l1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("link survived note deletion: err = %v", err)
	}
	if err := db.DeleteNote("a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateTagDedup(t *testing.T) {
	db := testDB(t)

	t1, created, err := db.GetOrCreateTag("work")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first call should create")
	}
	t2, created, err := db.GetOrCreateTag("work")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second call should not create")
	}
	if t1.ID != t2.ID {
		t.Errorf("same name produced different ids: %s vs %s", t1.ID, t2.ID)
	}

	tags, err := db.AllTags()
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 {
		t.Errorf("tag count = %d, want 1", len(tags))
	}
}

func TestAttachTagsSkipsUnknownTags(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(testNote("n1", "tagged")); err != nil {
		t.Fatal(err)
	}
	tag, _, err := db.GetOrCreateTag("real")
	if err != nil {
		t.Fatal(err)
	}

	err = db.AttachTags(map[string][]string{
		"n1": {tag.ID, "ghost-tag-id"},
	})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := db.TagIDsForNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != tag.ID {
		t.Errorf("attached = %v, want only %s", ids, tag.ID)
	}
}

func TestDeleteTagDetachesNotes(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(testNote("n1", "x")); err != nil {
		t.Fatal(err)
	}
	tag, _, err := db.GetOrCreateTag("gone")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AttachTag("n1", tag.ID); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteTag(tag.ID); err != nil {
		t.Fatal(err)
	}
	ids, err := db.TagIDsForNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("attachments survived tag deletion: %v", ids)
	}
	if _, err := db.GetNote("n1"); err != nil {
		t.Errorf("note should be untouched: %v", err)
	}
}

func TestCreateLinkValidation(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(testNote("a", "a")); err != nil {
		t.Fatal(err)
	}

	self := models.NoteLink{ID: "l1", SourceID: "a", TargetID: "a", LinkType: models.LinkRelated, CreatedAt: time.Now().UTC()}
	if err := db.CreateLink(self); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("self link err = %v, want ErrConflict", err)
	}

	missing := models.NoteLink{ID: "l2", SourceID: "a", TargetID: "nope", LinkType: models.LinkRelated, CreatedAt: time.Now().UTC()}
	if err := db.CreateLink(missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing endpoint err = %v, want ErrNotFound", err)
	}
}

func TestInsertLinksIgnoresExisting(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b"} {
		if err := db.UpsertNote(testNote(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	l := models.NoteLink{ID: "l1", SourceID: "a", TargetID: "b", LinkType: models.LinkParent, CreatedAt: time.Now().UTC()}
	if err := db.CreateLink(l); err != nil {
		t.Fatal(err)
	}

	// Re-inserting the same id with a different type must not mutate it.
	changed := l
	changed.LinkType = models.LinkChild
	if err := db.InsertLinks([]models.NoteLink{changed}); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetLink("l1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LinkType != models.LinkParent {
		t.Errorf("link type mutated to %s, links are immutable", got.LinkType)
	}
}

func TestDeleteDanglingLinks(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := db.UpsertNote(testNote(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	links := []models.NoteLink{
		{ID: "ok", SourceID: "a", TargetID: "b", LinkType: models.LinkReference, CreatedAt: now},
		{ID: "dangling", SourceID: "b", TargetID: "c", LinkType: models.LinkReference, CreatedAt: now},
	}
	if err := db.InsertLinks(links); err != nil {
		t.Fatal(err)
	}

	// Simulate a remote-side deletion applied without link cleanup.
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE id = 'c'`); err != nil {
		t.Fatal(err)
	}

	n, err := db.DeleteDanglingLinks()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d links, want 1", n)
	}
	if _, err := db.GetLink("ok"); err != nil {
		t.Errorf("valid link swept: %v", err)
	}
	if _, err := db.GetLink("dangling"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("dangling link survived: err = %v", err)
	}
}

func TestUpsertNotesBatch(t *testing.T) {
	db := testDB(t)
	batch := []models.Note{testNote("n1", "one"), testNote("n2", "two")}
	if err := db.UpsertNotes(batch); err != nil {
		t.Fatal(err)
	}
	all, err := db.AllNotes()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("notes = %d, want 2", len(all))
	}
}
