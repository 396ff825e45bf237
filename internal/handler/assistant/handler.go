package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/imgchat/backend/internal/model/assistant"
	"github.com/zhouzirui/imgchat/backend/pkg/utils"
)

// Handler serves assistant profiles.
type Handler struct {
	assistants assistant.Store
}

// New creates the assistant handler.
func New(assistants assistant.Store) *Handler {
	return &Handler{assistants: assistants}
}

// RegisterRoutes registers the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistants", h.handleListAssistants)
}

func (h *Handler) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.assistants.List())
}
