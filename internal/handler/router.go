package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/imgchat/backend/internal/handler/assistant"
	"github.com/zhouzirui/imgchat/backend/internal/handler/chat"
	"github.com/zhouzirui/imgchat/backend/internal/handler/stream"
	"github.com/zhouzirui/imgchat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/imgchat/backend/internal/middleware"
	assistantModel "github.com/zhouzirui/imgchat/backend/internal/model/assistant"
	chatService "github.com/zhouzirui/imgchat/backend/internal/service/chat"
	"github.com/zhouzirui/imgchat/backend/internal/service/reply"
	"github.com/zhouzirui/imgchat/backend/pkg/utils"
)

// Dependencies groups what the HTTP layer needs.
type Dependencies struct {
	Assistants    assistantModel.Store
	Chat          *chatService.Service
	Replies       *reply.Coordinator
	MaxImageBytes int
	Logger        *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"streaming": deps.Replies.StreamingEnabled(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		assistant.New(deps.Assistants).RegisterRoutes(api)
		chat.New(deps.Chat).RegisterRoutes(api)
		stream.New(deps.Chat, deps.Replies, deps.MaxImageBytes, deps.Logger).RegisterRoutes(api)
		ws.New(deps.Chat, deps.Replies, deps.MaxImageBytes, deps.Logger).RegisterRoutes(api)
	})

	return r
}
