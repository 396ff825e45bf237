package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID          string    `json:"id"`
	AssistantID string    `json:"assistantId"`
	CreatedAt   time.Time `json:"createdAt"`
}
