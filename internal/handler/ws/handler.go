package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/imgchat/backend/internal/handler/httperr"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
	"github.com/zhouzirui/imgchat/backend/internal/observability"
	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	chatService "github.com/zhouzirui/imgchat/backend/internal/service/chat"
	"github.com/zhouzirui/imgchat/backend/internal/service/reply"
	"github.com/zhouzirui/imgchat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound message types.
const (
	TypeText    = "text"
	TypeAttach  = "attach"
	TypeConfirm = "confirm"
	TypeCancel  = "cancel"
)

// Outbound message types.
const (
	TypeConnected  = "connected"
	TypeAccepted   = "accepted"
	TypeProgress   = "progress"
	TypeResult     = "result"
	TypeAttachment = "attachment"
	TypeError      = "error"
)

// Handler runs one conversation over a websocket, including the image
// attachment dialog.
type Handler struct {
	chatSvc       *chatService.Service
	replies       *reply.Coordinator
	maxImageBytes int
	logger        *slog.Logger
	upgrader      websocket.Upgrader
}

// New creates the websocket handler.
func New(chatSvc *chatService.Service, replies *reply.Coordinator, maxImageBytes int, logger *slog.Logger) *Handler {
	if maxImageBytes <= 0 {
		maxImageBytes = attachment.DefaultMaxBytes
	}
	return &Handler{
		chatSvc:       chatSvc,
		replies:       replies,
		maxImageBytes: maxImageBytes,
		logger:        observability.Component(logger, "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// Inbound is a client frame.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextData carries a user turn.
type TextData struct {
	Text string `json:"text"`
}

// AttachData carries a picked image and the text typed so far.
type AttachData struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
	Text     string `json:"text"`
}

// AttachmentState reports the attachment dialog after a transition.
type AttachmentState struct {
	State    attachment.State `json:"state"`
	Filename string           `json:"filename,omitempty"`
	Text     string           `json:"text,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connection struct {
	conn      *websocket.Conn
	sessionID string
	conv      *chatService.Conversation
	flow      *attachment.Flow

	// writeMu serialises data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	turns   sync.WaitGroup
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conv, err := h.chatSvc.Conversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, httperr.Status(err), err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("connection opened", "session", sessionID)
	defer h.logger.Info("connection closed", "session", sessionID)

	// A hijacked request's context is not cancelled when the peer goes away,
	// so the connection owns its own and cancels it once reading stops.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	c := &connection{
		conn:      conn,
		sessionID: sessionID,
		conv:      conv,
		flow:      attachment.NewFlow(),
	}
	defer func() {
		cancel()
		c.turns.Wait()
	}()

	conn.SetReadLimit(int64(h.maxImageBytes)*2 + 64<<10)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.send(c, TypeConnected, map[string]any{"history": conv.History()})

	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "session", sessionID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg Inbound) {
	switch msg.Type {
	case TypeText:
		h.handleText(ctx, c, msg.Data)
	case TypeAttach:
		h.handleAttach(c, msg.Data)
	case TypeConfirm:
		if err := c.flow.Confirm(); err != nil {
			h.sendError(c, err, nil)
			return
		}
		h.sendAttachment(c, "")
	case TypeCancel:
		text, err := c.flow.Cancel()
		if err != nil {
			h.sendError(c, err, nil)
			return
		}
		h.sendAttachment(c, text)
	default:
		h.send(c, TypeError, nil, "unsupported message type: "+msg.Type)
	}
}

// handleText stores the user turn on the read goroutine and answers it on
// another one, so reads keep running while the reply streams. A text frame
// arriving before the reply settles is refused with ErrStreamInFlight.
func (h *Handler) handleText(ctx context.Context, c *connection, raw json.RawMessage) {
	var data TextData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.send(c, TypeError, nil, "invalid text payload")
		return
	}

	var accepted chat.Message
	// The pending image stays with the flow until the turn is accepted.
	if c.flow.State() == attachment.StateAttached {
		stored, err := c.conv.Submit(chat.Message{Role: chat.RoleUser, Text: data.Text, Image: c.flow.Pending()})
		if err != nil {
			h.sendError(c, err, nil)
			return
		}
		if _, err := c.flow.Compose(data.Text); err != nil {
			h.logger.Warn("attachment out of sync", "session", c.sessionID, "error", err)
		}
		accepted = stored
	} else {
		msg, err := c.flow.Compose(data.Text)
		if err != nil {
			h.sendError(c, err, nil)
			return
		}
		stored, err := c.conv.Submit(msg)
		if err != nil {
			h.sendError(c, err, nil)
			return
		}
		accepted = stored
	}

	h.send(c, TypeAccepted, accepted)

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		h.answer(ctx, c)
	}()
}

func (h *Handler) answer(ctx context.Context, c *connection) {
	final, err := h.replies.Answer(ctx, c.conv, func(msg chat.Message) {
		h.send(c, TypeProgress, msg)
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("reply abandoned", "session", c.sessionID, "message", final.ID)
			return
		}
		h.logger.Warn("reply failed", "session", c.sessionID, "error", err)
		var partial any
		if final.ID != "" {
			partial = final
		}
		h.sendError(c, err, partial)
		return
	}
	h.send(c, TypeResult, final)
}

func (h *Handler) handleAttach(c *connection, raw json.RawMessage) {
	var data AttachData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.send(c, TypeError, nil, "invalid attach payload")
		return
	}

	img := &chat.Image{Filename: data.Filename, MIMEType: data.MIMEType, Data: data.Data}
	if err := attachment.Validate(img, h.maxImageBytes); err != nil {
		h.sendError(c, err, nil)
		return
	}
	if err := c.flow.Request(img, data.Text); err != nil {
		h.sendError(c, err, nil)
		return
	}
	h.sendAttachment(c, "")
}

func (h *Handler) sendAttachment(c *connection, preserved string) {
	state := AttachmentState{State: c.flow.State(), Text: preserved}
	if img := c.flow.Pending(); img != nil {
		state.Filename = img.Filename
	}
	h.send(c, TypeAttachment, state)
}

func (h *Handler) sendError(c *connection, err error, data any) {
	h.send(c, TypeError, data, err.Error())
}

func (h *Handler) send(c *connection, kind string, data any, errMsg ...string) {
	out := Outbound{
		Type:      kind,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	if len(errMsg) > 0 {
		out.Error = errMsg[0]
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(out); err != nil {
		h.logger.Debug("write failed", "session", c.sessionID, "type", kind, "error", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
