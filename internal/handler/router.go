package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/handler/embed"
	middlewarePkg "github.com/zhouzirui/embedchat/internal/middleware"
	"github.com/zhouzirui/embedchat/internal/service/ai"
	chatService "github.com/zhouzirui/embedchat/internal/service/chat"
	"github.com/zhouzirui/embedchat/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, responder ai.Responder, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	embedHandler := embed.New(chatSvc, responder, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		embedHandler.RegisterRoutes(api)
	})

	return r
}
