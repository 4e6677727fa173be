// Package history exposes chat transcript and analytics queries.
package history

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skorbantu/advisor/backend/internal/service/transcript"
	"github.com/skorbantu/advisor/backend/pkg/utils"
)

// Handler serves a user's sessions, messages and aggregate stats from
// the transcript store. With logging disabled every listing is empty,
// never an error.
type Handler struct {
	logger *transcript.Logger
}

// New creates the history handler.
func New(logger *transcript.Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterRoutes mounts the history endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/sessions", h.handleUserSessions)
	r.Get("/chat/sessions/{sessionID}/messages", h.handleSessionMessages)
	r.Get("/chat/stats", h.handleUserStats)
}

// userID pulls the authenticated identity the fronting auth layer
// attaches to the request.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if id == "" {
		utils.RespondError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	sessions, err := h.logger.GetUserSessions(r.Context(), id, intQuery(r, "limit", 10))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to fetch chat sessions")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	messages, err := h.logger.GetSessionMessages(r.Context(), sessionID, intQuery(r, "limit", 100))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to fetch session messages")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if id == "" {
		utils.RespondError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	stats, err := h.logger.GetUserStats(r.Context(), id, intQuery(r, "days", 7))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to fetch chat statistics")
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}
