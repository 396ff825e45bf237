package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/imgchat/backend/internal/model/assistant"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

// Service owns the sessions of this process and their conversations.
type Service struct {
	mu            sync.RWMutex
	assistants    assistant.Store
	sessions      map[string]chat.Session
	conversations map[string]*Conversation
}

// NewService bootstraps the in-memory chat service.
func NewService(assistants assistant.Store) *Service {
	return &Service{
		assistants:    assistants,
		sessions:      make(map[string]chat.Session),
		conversations: make(map[string]*Conversation),
	}
}

// CreateSession provisions an anonymous session bound to an assistant profile.
// An empty assistantID selects the default profile.
func (s *Service) CreateSession(_ context.Context, assistantID string) (chat.Session, error) {
	if assistantID == "" {
		assistantID = assistant.DefaultID
	}

	profile, ok := s.assistants.FindByID(assistantID)
	if !ok {
		return chat.Session{}, ErrAssistantNotFound
	}

	session := chat.Session{
		ID:          uuid.NewString(),
		AssistantID: profile.ID,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.conversations[session.ID] = NewConversation(session.ID, profile.SystemPrompt, profile.Greeting)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Conversation returns the live conversation of a session.
func (s *Service) Conversation(_ context.Context, sessionID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return conv, nil
}

// LoadTranscript returns the messages of the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return conv.History(), nil
}

// DeleteSession drops a session together with its conversation.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.conversations, sessionID)
	return nil
}
