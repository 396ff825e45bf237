package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EchoModel is a deterministic chat model for local development. It answers
// by quoting the last user turn and streams the answer word by word.
type EchoModel struct{}

var _ model.BaseChatModel = (*EchoModel)(nil)

// NewEchoModel returns the mock backend.
func NewEchoModel() *EchoModel {
	return &EchoModel{}
}

// Generate implements model.BaseChatModel.
func (m *EchoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.reply(input), nil), nil
}

// Stream implements model.BaseChatModel.
func (m *EchoModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	words := strings.SplitAfter(m.reply(input), " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, word := range words {
		chunks = append(chunks, schema.AssistantMessage(word, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *EchoModel) reply(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		msg := input[i]
		if msg.Role != schema.User {
			continue
		}

		text := strings.TrimSpace(TextOf(msg))
		images := 0
		for _, part := range msg.MultiContent {
			if part.Type == schema.ChatMessagePartTypeImageURL {
				images++
			}
		}

		switch {
		case images > 0 && text != "":
			return fmt.Sprintf("I received your image. You said %q.", text)
		case images > 0:
			return "I received your image."
		default:
			return fmt.Sprintf("You said %q.", text)
		}
	}
	return "How may I assist you?"
}
