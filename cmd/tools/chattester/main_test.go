package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

func TestDeltaPrinterSkipsPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	p := &deltaPrinter{out: &buf}

	for _, text := range []string{chat.PendingText, "Hel", "Hello", "Hello!", "Hello!"} {
		p.progress(chat.Message{Text: text})
	}
	assert.Equal(t, "Hello!", buf.String())
}

func TestOneShotAgainstMockProvider(t *testing.T) {
	t.Setenv("CHAT_CONFIG_FILE", t.TempDir()+"/none.toml")
	t.Setenv("AI_HOST", "mock")
	t.Setenv("CHAT_STREAM", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CHAT_GREETING", "")
	t.Setenv("CHAT_SYSTEM_PROMPT", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--message", "ping"})
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `You said "ping".`)
	assert.Contains(t, out.String(), "how may I assist you?")
}
