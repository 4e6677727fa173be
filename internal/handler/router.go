package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skorbantu/advisor/backend/internal/handler/history"
	"github.com/skorbantu/advisor/backend/internal/handler/status"
	"github.com/skorbantu/advisor/backend/internal/handler/whatsapp"
	"github.com/skorbantu/advisor/backend/internal/handler/ws"
	middlewarePkg "github.com/skorbantu/advisor/backend/internal/middleware"
	"github.com/skorbantu/advisor/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(wsHandler *ws.Handler, webhookHandler *whatsapp.Handler, historyHandler *history.Handler, statusHandler *status.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Meta calls the webhook at the root path it was registered with.
	webhookHandler.RegisterRoutes(r)

	// Web chat channel.
	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		historyHandler.RegisterRoutes(api)
		statusHandler.RegisterRoutes(api)
	})

	return r
}
