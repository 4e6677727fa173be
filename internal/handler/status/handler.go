// Package status exposes operational state: integration configuration,
// live session counts, knowledge-base management.
package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skorbantu/advisor/backend/internal/service/knowledge"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
	"github.com/skorbantu/advisor/backend/pkg/utils"
)

// WebhookStatus reports the WhatsApp webhook configuration.
type WebhookStatus interface {
	ConfigStatus() map[string]bool
}

// AIStatus reports the orchestrator configuration.
type AIStatus interface {
	ConfigStatus() map[string]bool
}

// Handler serves status and maintenance endpoints.
type Handler struct {
	webhook   WebhookStatus
	aiService AIStatus
	registry  *sessionservice.Registry
	knowledge *knowledge.Base
}

// New creates the status handler.
func New(webhook WebhookStatus, aiService AIStatus, registry *sessionservice.Registry, kb *knowledge.Base) *Handler {
	return &Handler{webhook: webhook, aiService: aiService, registry: registry, knowledge: kb}
}

// RegisterRoutes mounts the status endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/whatsapp/status", h.handleStatus)
	r.Post("/whatsapp/refresh-kb", h.handleRefreshKB)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	webhookStatus := h.webhook.ConfigStatus()
	aiStatus := h.aiService.ConfigStatus()

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"webhook":             webhookStatus,
		"ai":                  aiStatus,
		"sessions":            h.registry.Stats(),
		"knowledgeBaseLoaded": h.knowledge.Loaded(),
		"isFullyConfigured":   webhookStatus["isConfigured"] && aiStatus["isConfigured"],
	})
}

func (h *Handler) handleRefreshKB(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.Refresh(); err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Knowledge base refreshed",
	})
}
