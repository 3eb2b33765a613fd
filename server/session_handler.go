package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"StepFM/core/live"
	"StepFM/logger"
	"StepFM/model"
	"StepFM/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// SessionHandler serves session CRUD and the WebSocket upgrade into the live
// protocol.
type SessionHandler struct {
	repo     repository.SessionRepository
	live     *live.LiveManager
	upgrader websocket.Upgrader
}

// NewSessionHandler creates the handler.
func NewSessionHandler(repo repository.SessionRepository, liveManager *live.LiveManager) *SessionHandler {
	return &SessionHandler{
		repo: repo,
		live: liveManager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// SessionResponse decorates a session record with its mirrored online player
// count, answered from Redis without going through the session's actor.
type SessionResponse struct {
	*model.Session
	ActivePlayers int64 `json:"activePlayers"`
}

func (h *SessionHandler) sessionResponse(r *http.Request, session *model.Session) *SessionResponse {
	return &SessionResponse{
		Session:       session,
		ActivePlayers: h.live.MirroredPlayerCount(r.Context(), session.ID),
	}
}

// CreateSessionRequest creates a session.
type CreateSessionRequest struct {
	Name       string              `json:"name"`
	AuthorName string              `json:"authorName"`
	State      *model.SessionState `json:"state,omitempty"`
}

// CreateSessionHandler handles POST /api/sessions.
func (h *SessionHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = "Untitled session"
	}

	session := &model.Session{
		Name:       req.Name,
		AuthorName: req.AuthorName,
		State:      model.NewDefaultState(),
	}
	if req.State != nil {
		session.State = req.State.Clone()
		session.State.Version = 0
	}

	if err := h.repo.Create(r.Context(), session); err != nil {
		logger.Error("failed to create session", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	logger.Info("session created",
		logger.String("session", session.ID),
		logger.String("name", session.Name))
	writeJSON(w, http.StatusCreated, session)
}

// ListSessionsHandler handles GET /api/sessions (published sessions only).
func (h *SessionHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	sessions, err := h.repo.ListPublished(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	responses := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, h.sessionResponse(r, session))
	}
	writeJSON(w, http.StatusOK, responses)
}

// GetSessionHandler handles GET /api/sessions/{id}.
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse(r, session))
}

// UpdateSessionRequest updates session metadata.
type UpdateSessionRequest struct {
	Name       *string `json:"name,omitempty"`
	AuthorName *string `json:"authorName,omitempty"`
}

// UpdateSessionHandler handles PUT /api/sessions/{id}. Musical content is
// owned by the live actor and only changes through the WebSocket protocol.
func (h *SessionHandler) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		session.Name = *req.Name
	}
	if req.AuthorName != nil {
		session.AuthorName = *req.AuthorName
	}

	if err := h.repo.Update(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// DeleteSessionHandler handles DELETE /api/sessions/{id}.
func (h *SessionHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.live.IsLive(id) {
		writeError(w, http.StatusConflict, "session has connected players")
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemixSessionRequest forks a session.
type RemixSessionRequest struct {
	Name       string `json:"name"`
	AuthorName string `json:"authorName"`
}

// RemixSessionHandler handles POST /api/sessions/{id}/remix.
func (h *SessionHandler) RemixSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req RemixSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	fork, err := h.repo.Remix(r.Context(), id, req.Name, req.AuthorName)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	logger.Info("session remixed",
		logger.String("origin", id),
		logger.String("fork", fork.ID))
	writeJSON(w, http.StatusCreated, fork)
}

// PublishSessionHandler handles POST /api/sessions/{id}/publish.
func (h *SessionHandler) PublishSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	exists, err := h.repo.ExistsByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.repo.Publish(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

// WebSocketHandler handles GET /api/sessions/{id}/ws: it upgrades the
// connection and hands it to the live manager. Player identity comes from the
// playerId query param; a missing id is issued server-side and returned in
// the initial snapshot.
func (h *SessionHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := h.repo.GetByID(r.Context(), id)
	if err != nil || session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	playerID := r.URL.Query().Get("playerId")
	name := r.URL.Query().Get("name")
	color := r.URL.Query().Get("color")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed",
			logger.ErrorField(err),
			logger.String("session", id))
		return
	}

	if err := h.live.Connect(r.Context(), id, conn, playerID, name, color); err != nil {
		logger.Error("failed to attach connection",
			logger.ErrorField(err),
			logger.String("session", id))
		conn.Close()
	}
}

// RegisterSessionRoutes registers session CRUD and WebSocket routes.
func RegisterSessionRoutes(router *mux.Router, handler *SessionHandler) {
	router.HandleFunc("/api/sessions", handler.CreateSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions", handler.ListSessionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", handler.GetSessionHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", handler.UpdateSessionHandler).Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/api/sessions/{id}", handler.DeleteSessionHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/sessions/{id}/remix", handler.RemixSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}/publish", handler.PublishSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}/ws", handler.WebSocketHandler)
}
