// Package remote defines the contract for the per-user remote document
// store and its HTTP implementation. Documents cross this boundary as
// opaque JSON; the codec package is the single translation layer.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Collection names the remote document collections, keyed by entity id.
type Collection string

const (
	CollectionNotes Collection = "notes"
	CollectionTags  Collection = "tags"
	CollectionLinks Collection = "note_links"
)

// OpKind enumerates batched write operations.
type OpKind string

const (
	OpUpsert OpKind = "upsert"
	OpDelete OpKind = "delete"
)

// Operation is one element of an atomic batch commit.
type Operation struct {
	Kind       OpKind          `json:"op"`
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Document   json.RawMessage `json:"document,omitempty"`
	Merge      bool            `json:"merge,omitempty"`
}

// Store is the remote document store contract. Every call carries a
// bounded timeout inside the implementation: a slow remote surfaces as a
// retryable error, never a hang.
type Store interface {
	// Get returns the document with the given id, or nil with
	// apperr.ErrDocumentNotFound wrapped in *Error when absent.
	Get(ctx context.Context, col Collection, id string) (json.RawMessage, error)
	// List returns all documents in col owned by ownerID. The owner
	// filter is the sole isolation mechanism and is always applied.
	List(ctx context.Context, col Collection, ownerID, orderBy string, limit int) ([]json.RawMessage, error)
	// Upsert writes a document. With merge set, only the supplied fields
	// are touched; fields the codec doesn't know about are preserved.
	Upsert(ctx context.Context, col Collection, id string, doc any, merge bool) error
	// Delete removes a document. Deleting an absent document is an error
	// (apperr.ErrDocumentNotFound) so callers can distinguish ack from no-op.
	Delete(ctx context.Context, col Collection, id string) error
	// BatchCommit applies all operations atomically.
	BatchCommit(ctx context.Context, ops []Operation) error
}

// Error wraps a remote transport or server failure.
type Error struct {
	Op      string
	Status  int
	Timeout bool
	Err     error

	// retryAfter carries the server's backoff hint to the retry loop.
	retryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote: %s: status %d", e.Op, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: timeouts, transport
// errors, throttling, and server errors. Permission and not-found errors
// are not retryable.
func (e *Error) Retryable() bool {
	if e.Timeout {
		return true
	}
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
