package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

// Conversation holds the ordered history of one session. It grows by append
// only, and at most one turn is in flight at a time: from Submit until the
// assistant placeholder is finalized, failed or the reservation is released.
type Conversation struct {
	mu           sync.RWMutex
	sessionID    string
	systemPrompt string
	messages     []*chat.Message
	streaming    *chat.Message
	// pending is set by Submit and cleared once the placeholder exists.
	pending bool
}

// Placeholder is the handle to an in-flight assistant message. Its text can only
// be changed through AppendChunk, FinalizeAssistant and Fail.
type Placeholder struct {
	conv     *Conversation
	msg      *chat.Message
	received bool
}

// NewConversation creates an empty conversation. A non-empty greeting is stored
// as a seeded assistant message that is never sent to the provider.
func NewConversation(sessionID, systemPrompt, greeting string) *Conversation {
	c := &Conversation{
		sessionID:    sessionID,
		systemPrompt: systemPrompt,
		messages:     make([]*chat.Message, 0, 16),
	}
	if greeting != "" {
		c.messages = append(c.messages, &chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      chat.RoleAssistant,
			Text:      greeting,
			Seeded:    true,
			CreatedAt: time.Now().UTC(),
		})
	}
	return c
}

// SessionID returns the owning session.
func (c *Conversation) SessionID() string {
	return c.sessionID
}

// SystemPrompt returns the instruction placed ahead of the history, empty for the default.
func (c *Conversation) SystemPrompt() string {
	return c.systemPrompt
}

// Append adds a completed message to the tail of the history. The message must
// carry text or an image.
func (c *Conversation) Append(msg chat.Message) (chat.Message, error) {
	return c.add(msg, false)
}

// Submit appends a user turn and reserves the conversation for its reply.
// Until BeginAssistantPlaceholder or Release runs, further Append and Submit
// calls fail with ErrStreamInFlight.
func (c *Conversation) Submit(msg chat.Message) (chat.Message, error) {
	return c.add(msg, true)
}

// Release drops a reservation taken by Submit whose reply never started.
// It does nothing when no reservation is held.
func (c *Conversation) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
}

// InFlight reports whether a turn is reserved or its placeholder is streaming.
func (c *Conversation) InFlight() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending || c.streaming != nil
}

func (c *Conversation) add(msg chat.Message, reserve bool) (chat.Message, error) {
	if strings.TrimSpace(msg.Text) == "" && (msg.Image == nil || len(msg.Image.Data) == 0) {
		return chat.Message{}, fmt.Errorf("%w: message needs text or an image", ErrInvalidState)
	}
	if msg.Role == "" {
		msg.Role = chat.RoleUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending || c.streaming != nil {
		return chat.Message{}, ErrStreamInFlight
	}

	stored := cloneMessage(&msg)
	stored.ID = uuid.NewString()
	stored.SessionID = c.sessionID
	stored.Streaming = false
	stored.Failed = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	c.messages = append(c.messages, &stored)
	c.pending = reserve
	return cloneMessage(&stored), nil
}

// History returns a copy of the ordered message sequence.
func (c *Conversation) History() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Message, len(c.messages))
	for i, msg := range c.messages {
		copied[i] = cloneMessage(msg)
	}
	return copied
}

// Len reports how many messages the conversation holds.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Streaming reports whether an assistant placeholder is currently being filled.
func (c *Conversation) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streaming != nil
}

// BeginAssistantPlaceholder appends a streaming assistant message holding
// PendingText and returns its handle.
func (c *Conversation) BeginAssistantPlaceholder() (*Placeholder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming != nil {
		return nil, ErrStreamInFlight
	}
	c.pending = false

	msg := &chat.Message{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		Role:      chat.RoleAssistant,
		Text:      chat.PendingText,
		Streaming: true,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	c.streaming = msg

	return &Placeholder{conv: c, msg: msg}, nil
}

// AppendChunk merges one fragment into the placeholder. The first fragment
// replaces PendingText, later ones are concatenated.
func (c *Conversation) AppendChunk(h *Placeholder, fragment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHandle(h); err != nil {
		return err
	}

	if !h.received {
		h.msg.Text = fragment
		h.received = true
		return nil
	}
	h.msg.Text += fragment
	return nil
}

// FinalizeAssistant ends streaming for the placeholder. Its text is frozen afterwards.
func (c *Conversation) FinalizeAssistant(h *Placeholder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHandle(h); err != nil {
		return err
	}

	h.msg.Streaming = false
	c.streaming = nil
	return nil
}

// Fail ends streaming for a placeholder whose provider call did not complete.
// The partial text is kept and the message is flagged as failed.
func (c *Conversation) Fail(h *Placeholder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHandle(h); err != nil {
		return err
	}

	h.msg.Streaming = false
	h.msg.Failed = true
	c.streaming = nil
	return nil
}

func (c *Conversation) checkHandle(h *Placeholder) error {
	if h == nil || h.conv != c {
		return fmt.Errorf("%w: placeholder does not belong to this conversation", ErrInvalidState)
	}
	if !h.msg.Streaming {
		return fmt.Errorf("%w: placeholder %s already finalized", ErrInvalidState, h.msg.ID)
	}
	return nil
}

// ID returns the identifier of the placeholder message.
func (h *Placeholder) ID() string {
	return h.msg.ID
}

// Snapshot returns a copy of the placeholder message as it is now.
func (h *Placeholder) Snapshot() chat.Message {
	h.conv.mu.RLock()
	defer h.conv.mu.RUnlock()
	return cloneMessage(h.msg)
}

// cloneMessage copies msg including its image bytes, so callers never share
// memory with the stored history.
func cloneMessage(msg *chat.Message) chat.Message {
	out := *msg
	if msg.Image != nil {
		img := *msg.Image
		img.Data = append([]byte(nil), msg.Image.Data...)
		out.Image = &img
	}
	return out
}
