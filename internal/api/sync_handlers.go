package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/syncengine"
)

// SyncHandler exposes the sync engine over HTTP. Triggers block until
// the pass settles so the response carries the actual outcome.
type SyncHandler struct {
	engine *syncengine.Engine
	ledger *history.Ledger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine *syncengine.Engine, ledger *history.Ledger) *SyncHandler {
	return &SyncHandler{engine: engine, ledger: ledger}
}

// SyncFull handles POST /api/sync/full.
func (h *SyncHandler) SyncFull(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SyncFull(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// SyncIncremental handles POST /api/sync/incremental. The body selects
// entity kinds; an empty body or kind list means all kinds.
func (h *SyncHandler) SyncIncremental(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	kinds := make([]syncengine.Kind, len(req.Kinds))
	for i, k := range req.Kinds {
		kinds[i] = syncengine.Kind(k)
	}
	if err := h.engine.SyncKinds(r.Context(), kinds...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// History handles GET /api/sync/history.
func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	entries := h.ledger.Entries()
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Stats handles GET /api/sync/stats.
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Stats())
}
