// Package api implements the Skrift REST API using chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/noteservice"
	"github.com/aldevik/skrift/internal/syncengine"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, engine *syncengine.Engine, ledger *history.Ledger,
	authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	sh := NewSyncHandler(engine, ledger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Tags.
	r.Get("/tags", h.ListTags)
	r.Post("/notes/{id}/tags", h.TagNote)
	r.Delete("/notes/{id}/tags/{tagID}", h.UntagNote)

	// Links.
	r.Get("/notes/{id}/links", h.NoteLinks)
	r.Post("/links", h.CreateLink)
	r.Delete("/links/{id}", h.DeleteLink)

	// Sync control and observability.
	r.Post("/sync/full", sh.SyncFull)
	r.Post("/sync/incremental", sh.SyncIncremental)
	r.Get("/sync/status", sh.Status)
	r.Get("/sync/history", sh.History)
	r.Get("/sync/stats", sh.Stats)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
