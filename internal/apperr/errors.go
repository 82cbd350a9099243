// Package apperr defines the error taxonomy shared across the application.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoNetwork is returned by the sync engine's fast offline guard
	// before any remote I/O is attempted. Always retried on the next
	// online transition.
	ErrNoNetwork = errors.New("no network connection")

	// ErrScopeUnavailable means no authenticated principal is present.
	// Writes are blocked; reads fall back to an empty result set.
	ErrScopeUnavailable = errors.New("no authenticated principal")

	// ErrDocumentNotFound is the remote store's missing-document error.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrPermissionDenied is the remote store's authorization error.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflictResolution is reserved for conflict strategies beyond
	// last-writer-wins; unreachable while resolution is deterministic.
	ErrConflictResolution = errors.New("conflict resolution failed")
)
