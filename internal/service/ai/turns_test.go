package ai

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

func TestBuildTurnsPrependsSystemPrompt(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleAssistant, Text: "Hi, how may I help?", Seeded: true},
		{Role: chat.RoleUser, Text: "hi"},
		{Role: chat.RoleAssistant, Text: "Hello!"},
		{Role: chat.RoleUser, Text: "tell me {more}"},
	}

	turns, err := BuildTurns(context.Background(), "", history)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, schema.System, turns[0].Role)
	assert.Equal(t, DefaultSystemPrompt, turns[0].Content)
	assert.Equal(t, schema.User, turns[1].Role)
	assert.Equal(t, "hi", turns[1].Content)
	assert.Equal(t, schema.Assistant, turns[2].Role)
	assert.Equal(t, "Hello!", turns[2].Content)
	assert.Equal(t, "tell me {more}", turns[3].Content)
}

func TestBuildTurnsUsesConversationPrompt(t *testing.T) {
	turns, err := BuildTurns(context.Background(), "Describe images.", []chat.Message{{Role: chat.RoleUser, Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Describe images.", turns[0].Content)
}

func TestBuildTurnsImageBecomesTwoParts(t *testing.T) {
	img := &chat.Image{Filename: "cat.png", MIMEType: "image/png", Data: []byte("png-bytes")}
	history := []chat.Message{{Role: chat.RoleUser, Text: "what is this?", Image: img}}

	turns, err := BuildTurns(context.Background(), "", history)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	userTurns := 0
	for _, turn := range turns {
		if turn.Role == schema.User {
			userTurns++
		}
	}
	assert.Equal(t, 1, userTurns)

	parts := turns[1].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, "what is this?", parts[0].Text)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "image/png", parts[1].ImageURL.MIMEType)

	mimeType, data, err := ParseDataURI(parts[1].ImageURL.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, img.Data, data)
}

func TestParseDataURIRejectsGarbage(t *testing.T) {
	for _, uri := range []string{"http://x/y.png", "data:image/png,abc", "data:image/png;base64"} {
		_, _, err := ParseDataURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestTextOfJoinsTextParts(t *testing.T) {
	msg := &schema.Message{MultiContent: []schema.ChatMessagePart{
		{Type: schema.ChatMessagePartTypeText, Text: "a"},
		{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/png;base64,"}},
		{Type: schema.ChatMessagePartTypeText, Text: "b"},
	}}
	assert.Equal(t, "a\nb", TextOf(msg))
	assert.Equal(t, "plain", TextOf(&schema.Message{Content: "plain"}))
}
