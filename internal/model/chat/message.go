package chat

import "time"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PendingText is shown in an assistant placeholder until its first fragment arrives.
const PendingText = "..."

// Image is the single attachment a message may carry.
type Image struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Message is one conversational turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Image     *Image    `json:"image,omitempty"`
	Streaming bool      `json:"streaming"`
	Seeded    bool      `json:"seeded,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsAssistant reports whether the assistant authored the message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}
