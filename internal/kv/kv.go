// Package kv provides a small file-backed key-value store used for
// persisting sync bookkeeping across process restarts.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aldevik/skrift/internal/apperr"
)

// Store is a minimal persistent key-value contract.
type Store interface {
	// Get returns the raw value for key, or apperr.ErrNotFound.
	Get(key string) (json.RawMessage, error)
	// Put persists the value for key durably before returning.
	Put(key string, value any) error
}

// File implements Store as a single JSON file rewritten wholesale on
// every Put. Acceptable for small bounded payloads like the sync ledger.
type File struct {
	path string

	mu      sync.Mutex
	entries map[string]json.RawMessage
	loaded  bool
}

var _ Store = (*File)(nil)

// NewFile creates a file-backed store at path. The file is created lazily
// on the first Put.
func NewFile(path string) *File {
	return &File{path: path}
}

// Get returns the stored value for key.
func (f *File) Get(key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	v, ok := f.entries[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return v, nil
}

// Put marshals value and rewrites the backing file atomically.
func (f *File) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	f.entries[key] = data
	return f.flush()
}

// load reads the backing file once; a missing file is an empty store.
func (f *File) load() error {
	if f.loaded {
		return nil
	}
	f.loaded = true
	f.entries = make(map[string]json.RawMessage)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("kv: read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &f.entries); err != nil {
		return fmt.Errorf("kv: parse %s: %w", f.path, err)
	}
	return nil
}

// flush writes the full map: tmp file -> fsync -> rename.
func (f *File) flush() error {
	data, err := json.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("kv: marshal store: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kv: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".skrift-kv-*")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("kv: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("kv: rename: %w", err)
	}
	success = true
	return nil
}
