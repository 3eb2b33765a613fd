package server

import (
	"net/http"

	"StepFM/core/live"

	"github.com/gorilla/mux"
)

// DebugHandler exposes live-session introspection. These endpoints are for
// operators; they answer from the actors' own mailboxes, so what they report
// is exactly what connected clients see.
type DebugHandler struct {
	live *live.LiveManager
}

// NewDebugHandler creates the handler.
func NewDebugHandler(liveManager *live.LiveManager) *DebugHandler {
	return &DebugHandler{live: liveManager}
}

// ListLiveSessionsHandler handles GET /api/debug/live.
func (h *DebugHandler) ListLiveSessionsHandler(w http.ResponseWriter, r *http.Request) {
	infos := h.live.Introspect(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(infos),
		"sessions": infos,
	})
}

// GetLiveSessionHandler handles GET /api/debug/live/{id}.
func (h *DebugHandler) GetLiveSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, err := h.live.InspectSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RegisterDebugRoutes registers the debug namespace.
func RegisterDebugRoutes(router *mux.Router, handler *DebugHandler) {
	router.HandleFunc("/api/debug/live", handler.ListLiveSessionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/debug/live/{id}", handler.GetLiveSessionHandler).Methods(http.MethodGet)
}
