package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aldevik/skrift/internal/apperr"
)

func TestMemoryMergeIsShallow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Upsert(ctx, CollectionNotes, "n1", map[string]any{"id": "n1", "title": "old", "content": "keep"}, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, CollectionNotes, "n1", map[string]any{"id": "n1", "title": "new"}, true); err != nil {
		t.Fatal(err)
	}

	raw, err := m.Get(ctx, CollectionNotes, "n1")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["title"] != "new" {
		t.Errorf("title = %q, want new", doc["title"])
	}
	if doc["content"] != "keep" {
		t.Errorf("merge dropped untouched field: %v", doc)
	}
}

func TestMemoryReplaceWithoutMerge(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.Upsert(ctx, CollectionNotes, "n1", map[string]any{"id": "n1", "content": "gone"}, false)
	_ = m.Upsert(ctx, CollectionNotes, "n1", map[string]any{"id": "n1"}, false)

	raw, _ := m.Get(ctx, CollectionNotes, "n1")
	var doc map[string]string
	_ = json.Unmarshal(raw, &doc)
	if _, ok := doc["content"]; ok {
		t.Error("full upsert should replace the document")
	}
}

func TestMemoryDeleteMissing(t *testing.T) {
	m := NewMemory()
	err := m.Delete(context.Background(), CollectionNotes, "ghost")
	if !errors.Is(err, apperr.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestMemoryListFiltersByOwner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(CollectionNotes, "a", map[string]string{"id": "a", "owner_id": "u1"})
	_ = m.Put(CollectionNotes, "b", map[string]string{"id": "b", "owner_id": "u2"})

	docs, err := m.List(ctx, CollectionNotes, "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("docs = %d, want 1", len(docs))
	}
}

func TestMemoryBatchCommit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(CollectionTags, "t1", map[string]string{"id": "t1", "owner_id": "u"})

	ops := []Operation{
		{Kind: OpUpsert, Collection: CollectionNotes, ID: "n1", Document: json.RawMessage(`{"id":"n1","owner_id":"u"}`)},
		{Kind: OpDelete, Collection: CollectionTags, ID: "t1"},
		{Kind: OpDelete, Collection: CollectionTags, ID: "already-gone"},
	}
	if err := m.BatchCommit(ctx, ops); err != nil {
		t.Fatal(err)
	}
	if m.Len(CollectionNotes) != 1 || m.Len(CollectionTags) != 0 {
		t.Errorf("notes=%d tags=%d", m.Len(CollectionNotes), m.Len(CollectionTags))
	}
}

func TestMemoryBatchRejectsUnknownOp(t *testing.T) {
	m := NewMemory()
	ops := []Operation{
		{Kind: OpUpsert, Collection: CollectionNotes, ID: "n1", Document: json.RawMessage(`{"id":"n1"}`)},
		{Kind: OpKind("truncate"), Collection: CollectionNotes, ID: "n2"},
	}
	if err := m.BatchCommit(context.Background(), ops); err == nil {
		t.Fatal("expected error")
	}
	// Validation happens before any write.
	if m.Len(CollectionNotes) != 0 {
		t.Error("partial batch applied")
	}
}

func TestMemoryErrorInjection(t *testing.T) {
	m := NewMemory()
	m.ListErr = errors.New("boom")
	if _, err := m.List(context.Background(), CollectionNotes, "u", "", 0); err == nil {
		t.Error("injected error not surfaced")
	}
}
