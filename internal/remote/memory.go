package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aldevik/skrift/internal/apperr"
)

// Memory is an in-memory Store for tests and offline development. Merge
// writes use shallow JSON-object merge, mirroring the service's
// merge-write semantics: supplied fields are overwritten, everything
// else is preserved.
type Memory struct {
	mu   sync.Mutex
	docs map[Collection]map[string]json.RawMessage

	// Error injectors; when set, the corresponding operation fails.
	GetErr    error
	ListErr   error
	UpsertErr error
	DeleteErr error
	BatchErr  error

	// ListHook, when set, runs at the start of every List call. Tests
	// use it to observe pass scheduling.
	ListHook func(col Collection)
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: map[Collection]map[string]json.RawMessage{}}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, col Collection, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	doc, ok := m.docs[col][id]
	if !ok {
		return nil, &Error{Op: "get", Status: 404, Err: apperr.ErrDocumentNotFound}
	}
	return doc, nil
}

// List implements Store. Documents are filtered by their owner_id field.
func (m *Memory) List(_ context.Context, col Collection, ownerID, _ string, limit int) ([]json.RawMessage, error) {
	if hook := m.listHook(); hook != nil {
		hook(col)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var out []json.RawMessage
	for _, doc := range m.docs[col] {
		var probe struct {
			OwnerID string `json:"owner_id"`
		}
		if err := json.Unmarshal(doc, &probe); err != nil {
			continue
		}
		if probe.OwnerID != ownerID {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, col Collection, id string, doc any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	return m.upsertLocked(col, id, doc, merge)
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, col Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	return m.deleteLocked(col, id)
}

// BatchCommit implements Store. All operations apply or none do.
func (m *Memory) BatchCommit(_ context.Context, ops []Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatchErr != nil {
		return m.BatchErr
	}

	// Validate first so a bad op leaves the store untouched.
	for _, op := range ops {
		switch op.Kind {
		case OpUpsert, OpDelete:
		default:
			return &Error{Op: "batch", Status: 400, Err: fmt.Errorf("unknown op %q", op.Kind)}
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpUpsert:
			if err := m.upsertLocked(op.Collection, op.ID, op.Document, op.Merge); err != nil {
				return err
			}
		case OpDelete:
			// Batch deletes are idempotent.
			_ = m.deleteLocked(op.Collection, op.ID)
		}
	}
	return nil
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(col Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[col])
}

// Document returns the raw stored document, or nil when absent.
func (m *Memory) Document(col Collection, id string) json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[col][id]
}

// Put stores a document directly, bypassing merge logic. Test seeding.
func (m *Memory) Put(col Collection, id string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(col, id, doc, false)
}

func (m *Memory) upsertLocked(col Collection, id string, doc any, merge bool) error {
	data, err := toRaw(doc)
	if err != nil {
		return &Error{Op: "upsert", Err: err}
	}
	if m.docs[col] == nil {
		m.docs[col] = map[string]json.RawMessage{}
	}
	if merge {
		if existing, ok := m.docs[col][id]; ok {
			merged, err := mergeJSON(existing, data)
			if err != nil {
				return &Error{Op: "upsert", Err: err}
			}
			data = merged
		}
	}
	m.docs[col][id] = data
	return nil
}

func (m *Memory) deleteLocked(col Collection, id string) error {
	if _, ok := m.docs[col][id]; !ok {
		return &Error{Op: "delete", Status: 404, Err: apperr.ErrDocumentNotFound}
	}
	delete(m.docs[col], id)
	return nil
}

func (m *Memory) listHook() func(Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListHook
}

func toRaw(doc any) (json.RawMessage, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(doc)
}

// mergeJSON overlays the fields of patch onto base (shallow).
func mergeJSON(base, patch json.RawMessage) (json.RawMessage, error) {
	var baseMap, patchMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, err
	}
	for k, v := range patchMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}
