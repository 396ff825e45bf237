package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

// DefaultSystemPrompt is placed ahead of every request unless the conversation overrides it.
const DefaultSystemPrompt = "You are a helpful assistant."

var requestTemplate = prompt.FromMessages(
	schema.FString,
	schema.SystemMessage("{system}"),
	schema.MessagesPlaceholder("history", false),
)

// BuildTurns converts a conversation history into the request sent to a
// provider: one system instruction followed by every non-seeded message in order.
func BuildTurns(ctx context.Context, systemPrompt string, history []chat.Message) ([]*schema.Message, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}

	turns := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg.Seeded {
			continue
		}
		turns = append(turns, ToTurn(msg))
	}

	return requestTemplate.Format(ctx, map[string]any{
		"system":  systemPrompt,
		"history": turns,
	})
}

// ToTurn maps one message to a provider-neutral turn. A message with an image
// becomes a single turn with two parts, text first.
func ToTurn(msg chat.Message) *schema.Message {
	role := schema.User
	if msg.IsAssistant() {
		role = schema.Assistant
	}

	if msg.Image == nil {
		return &schema.Message{Role: role, Content: msg.Text}
	}

	return &schema.Message{
		Role: role,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeText,
				Text: msg.Text,
			},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      DataURI(msg.Image),
					MIMEType: msg.Image.MIMEType,
					Detail:   schema.ImageURLDetailAuto,
				},
			},
		},
	}
}

// DataURI encodes an image as a base64 data URI.
func DataURI(img *chat.Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
}

// ParseDataURI extracts the MIME type and raw bytes from a base64 data URI.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data uri")
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("data uri is not base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return mimeType, data, nil
}

// TextOf returns the textual content of a turn, joining text parts when the
// turn is multimodal.
func TextOf(msg *schema.Message) string {
	if len(msg.MultiContent) == 0 {
		return msg.Content
	}

	var builder strings.Builder
	for _, part := range msg.MultiContent {
		if part.Type != schema.ChatMessagePartTypeText {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}
