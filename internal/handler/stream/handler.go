package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/imgchat/backend/internal/handler/httperr"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
	"github.com/zhouzirui/imgchat/backend/internal/observability"
	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	chatService "github.com/zhouzirui/imgchat/backend/internal/service/chat"
	"github.com/zhouzirui/imgchat/backend/internal/service/reply"
	"github.com/zhouzirui/imgchat/backend/pkg/utils"
)

// SSE event names, in the order a successful turn emits them.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventMessage  = "message"
	EventError    = "error"
	EventEnd      = "end"
)

// Handler answers a user turn with Server-Sent Events.
type Handler struct {
	chatSvc       *chatService.Service
	replies       *reply.Coordinator
	maxImageBytes int
	logger        *slog.Logger
}

// New creates a new stream handler.
func New(chatSvc *chatService.Service, replies *reply.Coordinator, maxImageBytes int, logger *slog.Logger) *Handler {
	return &Handler{
		chatSvc:       chatSvc,
		replies:       replies,
		maxImageBytes: maxImageBytes,
		logger:        observability.Component(logger, "stream"),
	}
}

// RegisterRoutes registers the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/stream/{sessionID}", h.handleStream)
}

// Request is the body of a streamed turn.
type Request struct {
	Text  string      `json:"text"`
	Image *chat.Image `json:"image,omitempty"`
}

// Event is the data of every SSE event.
type Event struct {
	SessionID string        `json:"sessionId"`
	Message   *chat.Message `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	conv, err := h.chatSvc.Conversation(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, httperr.Status(err), err.Error())
		return
	}

	var payload Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Image != nil {
		if err := attachment.Validate(payload.Image, h.maxImageBytes); err != nil {
			utils.RespondError(w, httperr.Status(err), err.Error())
			return
		}
	}

	userMsg, err := conv.Submit(chat.Message{Role: chat.RoleUser, Text: payload.Text, Image: payload.Image})
	if err != nil {
		utils.RespondError(w, httperr.Status(err), err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(event string, data Event) {
		data.SessionID = sessionID
		if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
			h.logger.Debug("sse write failed", "session", sessionID, "event", event, "error", err)
		}
	}

	send(EventStart, Event{Message: &userMsg})

	final, err := h.replies.Answer(ctx, conv, func(msg chat.Message) {
		send(EventProgress, Event{Message: &msg})
	})
	if err != nil {
		h.logger.Warn("reply failed", "session", sessionID, "error", err)
		event := Event{Error: err.Error()}
		if final.ID != "" {
			event.Message = &final
		}
		send(EventError, event)
		send(EventEnd, Event{})
		return
	}

	send(EventMessage, Event{Message: &final})
	send(EventEnd, Event{})

	h.logger.Info("reply completed", "session", sessionID, "message", final.ID, "chars", len(final.Text))
}
