package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/imgchat/backend/internal/model/chat"
	chat "github.com/zhouzirui/imgchat/backend/internal/service/chat"
)

func userText(text string) model.Message {
	return model.Message{Role: model.RoleUser, Text: text}
}

func countStreaming(history []model.Message) int {
	n := 0
	for _, msg := range history {
		if msg.Streaming {
			n++
		}
	}
	return n
}

func TestConversationHistoryKeepsAppendOrder(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")

	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		stored, err := conv.Append(userText(text))
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, "s1", stored.SessionID)
		assert.Equal(t, i+1, conv.Len())
	}

	history := conv.History()
	require.Len(t, history, len(texts))
	for i, text := range texts {
		assert.Equal(t, text, history[i].Text)
	}
}

func TestConversationSeedsGreeting(t *testing.T) {
	conv := chat.NewConversation("s1", "", "Hi there")

	history := conv.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Seeded)
	assert.True(t, history[0].IsAssistant())
	assert.Equal(t, "Hi there", history[0].Text)
}

func TestConversationAppendRejectsEmptyMessage(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")

	_, err := conv.Append(userText(""))
	require.ErrorIs(t, err, chat.ErrInvalidState)

	_, err = conv.Append(userText("   "))
	require.ErrorIs(t, err, chat.ErrInvalidState)

	_, err = conv.Append(model.Message{Image: &model.Image{Filename: "empty.png", MIMEType: "image/png"}})
	require.ErrorIs(t, err, chat.ErrInvalidState)

	assert.Equal(t, 0, conv.Len())
}

func TestConversationAppendAcceptsImageOnly(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")

	data := []byte{0x89, 'P', 'N', 'G'}
	stored, err := conv.Append(model.Message{Image: &model.Image{Filename: "a.png", MIMEType: "image/png", Data: data}})
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, stored.Role)

	data[0] = 0
	assert.Equal(t, byte(0x89), conv.History()[0].Image.Data[0], "stored image must not alias caller bytes")
}

func TestConversationHistoryIsCopy(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	_, err := conv.Append(userText("hi"))
	require.NoError(t, err)

	history := conv.History()
	history[0].Text = "mutated"

	assert.Equal(t, "hi", conv.History()[0].Text)
}

func TestConversationHistoryCopiesImageBytes(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	_, err := conv.Append(model.Message{Text: "look", Image: &model.Image{Filename: "a.png", MIMEType: "image/png", Data: []byte{1, 2, 3}}})
	require.NoError(t, err)

	history := conv.History()
	history[0].Image.Data[0] = 9
	history[0].Image.Filename = "b.png"

	stored := conv.History()[0].Image
	assert.Equal(t, []byte{1, 2, 3}, stored.Data)
	assert.Equal(t, "a.png", stored.Filename)
}

func TestSubmitReservesUntilPlaceholder(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")

	_, err := conv.Submit(userText("first"))
	require.NoError(t, err)
	assert.True(t, conv.InFlight())
	assert.False(t, conv.Streaming())

	_, err = conv.Submit(userText("second"))
	require.ErrorIs(t, err, chat.ErrStreamInFlight)
	_, err = conv.Append(userText("second"))
	require.ErrorIs(t, err, chat.ErrStreamInFlight)
	assert.Equal(t, 1, conv.Len())

	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)
	assert.True(t, conv.InFlight())

	_, err = conv.Submit(userText("second"))
	require.ErrorIs(t, err, chat.ErrStreamInFlight)

	require.NoError(t, conv.FinalizeAssistant(h))
	assert.False(t, conv.InFlight())

	_, err = conv.Submit(userText("second"))
	require.NoError(t, err)
}

func TestReleaseDropsReservation(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	conv.Release()

	_, err := conv.Submit(userText("first"))
	require.NoError(t, err)

	conv.Release()
	assert.False(t, conv.InFlight())

	_, err = conv.Submit(userText("second"))
	require.NoError(t, err)
	assert.Equal(t, 2, conv.Len())
}

func TestPlaceholderChunksConcatenate(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	_, err := conv.Append(userText("hi"))
	require.NoError(t, err)

	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)
	assert.Equal(t, model.PendingText, h.Snapshot().Text)
	assert.True(t, h.Snapshot().Streaming)

	for _, fragment := range []string{"Hel", "", "lo", "!"} {
		require.NoError(t, conv.AppendChunk(h, fragment))
	}
	require.NoError(t, conv.FinalizeAssistant(h))

	final := h.Snapshot()
	assert.Equal(t, "Hello!", final.Text)
	assert.False(t, final.Streaming)
	assert.NotContains(t, final.Text, model.PendingText)
}

func TestPlaceholderFirstEmptyFragmentReplacesSentinel(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)

	require.NoError(t, conv.AppendChunk(h, ""))
	assert.Equal(t, "", h.Snapshot().Text)
}

func TestPlaceholderLiteralEllipsisIsKept(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)

	require.NoError(t, conv.AppendChunk(h, "..."))
	require.NoError(t, conv.AppendChunk(h, " well"))
	assert.Equal(t, "... well", h.Snapshot().Text)
}

func TestFinalizeTwiceFails(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)

	require.NoError(t, conv.FinalizeAssistant(h))
	require.ErrorIs(t, conv.FinalizeAssistant(h), chat.ErrInvalidState)
	require.ErrorIs(t, conv.AppendChunk(h, "late"), chat.ErrInvalidState)
	assert.Equal(t, model.PendingText, h.Snapshot().Text)
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	conv := chat.NewConversation("s1", "", "hello")
	_, err := conv.Append(userText("hi"))
	require.NoError(t, err)

	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)
	assert.True(t, conv.Streaming())
	assert.Equal(t, 1, countStreaming(conv.History()))

	_, err = conv.BeginAssistantPlaceholder()
	require.ErrorIs(t, err, chat.ErrStreamInFlight)

	_, err = conv.Append(userText("again"))
	require.ErrorIs(t, err, chat.ErrStreamInFlight)
	assert.Equal(t, 1, countStreaming(conv.History()))

	require.NoError(t, conv.FinalizeAssistant(h))
	assert.False(t, conv.Streaming())
	assert.Equal(t, 0, countStreaming(conv.History()))

	_, err = conv.Append(userText("again"))
	require.NoError(t, err)
}

func TestFailKeepsPartialText(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)
	require.NoError(t, conv.AppendChunk(h, "Hel"))

	require.NoError(t, conv.Fail(h))

	msg := h.Snapshot()
	assert.Equal(t, "Hel", msg.Text)
	assert.False(t, msg.Streaming)
	assert.True(t, msg.Failed)
	require.ErrorIs(t, conv.Fail(h), chat.ErrInvalidState)
}

func TestSnapshotDoesNotShareImage(t *testing.T) {
	conv := chat.NewConversation("s1", "", "")
	h, err := conv.BeginAssistantPlaceholder()
	require.NoError(t, err)

	snap := h.Snapshot()
	snap.Text = "mutated"
	assert.Equal(t, model.PendingText, h.Snapshot().Text)
	assert.Nil(t, h.Snapshot().Image)
}

func TestForeignHandleRejected(t *testing.T) {
	a := chat.NewConversation("a", "", "")
	b := chat.NewConversation("b", "", "")

	h, err := a.BeginAssistantPlaceholder()
	require.NoError(t, err)

	require.ErrorIs(t, b.AppendChunk(h, "x"), chat.ErrInvalidState)
	require.ErrorIs(t, b.AppendChunk(nil, "x"), chat.ErrInvalidState)
}
