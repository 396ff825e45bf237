package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/imgchat/backend/internal/service/ai"
	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	"github.com/zhouzirui/imgchat/backend/internal/service/ollama"
)

var configKeys = []string{
	"PORT", "AI_HOST",
	"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_MODEL", "ARK_BASE_URL", "ARK_REGION",
	"ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS",
	"LOCAL_ENDPOINT", "LOCAL_MODEL_NAME", "LOCAL_TIMEOUT_SECONDS",
	"REMOTE_MODEL_OR_DEPLOYMENT_ID", "OPENAI_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"AZURE_OPENAI_KEY", "AZURE_OPENAI_API_VERSION", "REMOTE_ENDPOINT", "GITHUB_TOKEN", "AZURE_INFERENCE_KEY",
	"CHAT_STREAM", "CHAT_SYSTEM_PROMPT", "CHAT_GREETING",
	"UPLOAD_MAX_IMAGE_BYTES", "LOG_LEVEL", "LOG_FORMAT",
}

// isolate clears every key Load reads and points the overlay at path.
func isolate(t *testing.T, path string) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
	if path == "" {
		path = filepath.Join(t.TempDir(), "missing.toml")
	}
	t.Setenv("CHAT_CONFIG_FILE", path)
}

func writeOverlay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appsettings.local.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, HostLocal, cfg.AI.Host)
	assert.Equal(t, 120*time.Second, cfg.AI.Local.Timeout)
	assert.True(t, cfg.Chat.Stream)
	assert.Equal(t, attachment.DefaultMaxBytes, cfg.Upload.MaxImageBytes)
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, cfg.Log)
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t, "")
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AI_HOST", "ARK")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao-vision")
	t.Setenv("ARK_TEMPERATURE", "0.3")
	t.Setenv("ARK_MAX_TOKENS", "512")
	t.Setenv("CHAT_STREAM", "false")
	t.Setenv("UPLOAD_MAX_IMAGE_BYTES", "2048")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, HostArk, cfg.AI.Host)
	assert.True(t, cfg.AI.Ark.Enabled())
	require.NotNil(t, cfg.AI.Ark.Temperature)
	assert.InDelta(t, 0.3, *cfg.AI.Ark.Temperature, 1e-9)
	require.NotNil(t, cfg.AI.Ark.MaxTokens)
	assert.Equal(t, 512, *cfg.AI.Ark.MaxTokens)
	assert.False(t, cfg.Chat.Stream)
	assert.Equal(t, 2048, cfg.Upload.MaxImageBytes)
}

func TestOverlayFileAndEnvironmentPrecedence(t *testing.T) {
	path := writeOverlay(t, `
ai_host = "local"

[local]
endpoint = "http://ollama:11434"
model_name = "llava"
timeout_seconds = 30

[chat]
stream = false
greeting = "Hello from the file"

[log]
level = "debug"
`)
	isolate(t, path)
	t.Setenv("LOCAL_MODEL_NAME", "phi3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://ollama:11434", cfg.AI.Local.Endpoint)
	assert.Equal(t, "phi3", cfg.AI.Local.ModelName)
	assert.Equal(t, 30*time.Second, cfg.AI.Local.Timeout)
	assert.False(t, cfg.Chat.Stream)
	assert.Equal(t, "Hello from the file", cfg.Chat.Greeting)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestOverlayRejectsUnknownKeys(t *testing.T) {
	isolate(t, writeOverlay(t, "[local]\nendpont = \"typo\"\n"))

	_, err := Load()
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"AI_HOST":                "bedrock",
		"PORT":                   "80 80",
		"CHAT_STREAM":            "sometimes",
		"ARK_TOP_P":              "high",
		"UPLOAD_MAX_IMAGE_BYTES": "-1",
		"LOG_FORMAT":             "xml",
		"LOG_LEVEL":              "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t, "")
			t.Setenv(key, value)

			_, err := Load()
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestNewChatModelPerHost(t *testing.T) {
	ctx := context.Background()

	mock, err := AIConfig{Host: HostMock}.NewChatModel(ctx)
	require.NoError(t, err)
	assert.IsType(t, &ai.EchoModel{}, mock)

	local, err := AIConfig{Host: HostLocal, Local: LocalConfig{Endpoint: "http://localhost:11434", ModelName: "llava"}}.NewChatModel(ctx)
	require.NoError(t, err)
	assert.IsType(t, &ollama.ChatModel{}, local)

	_, err = AIConfig{Host: HostLocal, Local: LocalConfig{ModelName: "llava"}}.NewChatModel(ctx)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = AIConfig{Host: HostLocal, Local: LocalConfig{Endpoint: "http://localhost:11434"}}.NewChatModel(ctx)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = AIConfig{Host: HostArk}.NewChatModel(ctx)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNewChatModelRemoteHosts(t *testing.T) {
	ctx := context.Background()
	full := RemoteConfig{
		ModelID:           "gpt-4o-mini",
		OpenAIKey:         "sk-test",
		AzureEndpoint:     "https://example.openai.azure.com",
		AzureDeployment:   "vision",
		AzureKey:          "azure-key",
		AzureAPIVersion:   DefaultAzureAPIVersion,
		Endpoint:          "https://models.inference.ai.azure.com",
		GitHubToken:       "ghp-test",
		AzureInferenceKey: "inference-key",
	}

	for _, host := range []string{HostOpenAI, HostAzureOpenAI, HostGitHub, HostAzureInference} {
		t.Run(host, func(t *testing.T) {
			m, err := AIConfig{Host: host, Remote: full}.NewChatModel(ctx)
			require.NoError(t, err)
			assert.IsType(t, &openai.ChatModel{}, m)
		})
	}

	missing := []struct {
		name   string
		host   string
		mutate func(*RemoteConfig)
		key    string
	}{
		{"model id", HostOpenAI, func(c *RemoteConfig) { c.ModelID = "" }, "REMOTE_MODEL_OR_DEPLOYMENT_ID"},
		{"openai key", HostOpenAI, func(c *RemoteConfig) { c.OpenAIKey = "" }, "OPENAI_KEY"},
		{"azure endpoint", HostAzureOpenAI, func(c *RemoteConfig) { c.AzureEndpoint = "" }, "AZURE_OPENAI_ENDPOINT"},
		{"azure deployment", HostAzureOpenAI, func(c *RemoteConfig) { c.AzureDeployment = "" }, "AZURE_OPENAI_DEPLOYMENT"},
		{"azure key", HostAzureOpenAI, func(c *RemoteConfig) { c.AzureKey = "" }, "AZURE_OPENAI_KEY"},
		{"remote endpoint", HostGitHub, func(c *RemoteConfig) { c.Endpoint = "" }, "REMOTE_ENDPOINT"},
		{"github token", HostGitHub, func(c *RemoteConfig) { c.GitHubToken = "" }, "GITHUB_TOKEN"},
		{"inference key", HostAzureInference, func(c *RemoteConfig) { c.AzureInferenceKey = "" }, "AZURE_INFERENCE_KEY"},
	}
	for _, tc := range missing {
		t.Run("missing "+tc.name, func(t *testing.T) {
			remote := full
			tc.mutate(&remote)

			_, err := AIConfig{Host: tc.host, Remote: remote}.NewChatModel(ctx)
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestLoadRemoteHostFromOverlay(t *testing.T) {
	path := writeOverlay(t, `
ai_host = "github"

[remote]
model_or_deployment_id = "gpt-4o-mini"
endpoint = "https://models.inference.ai.azure.com"
`)
	isolate(t, path)
	t.Setenv("GITHUB_TOKEN", "ghp-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, HostGitHub, cfg.AI.Host)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Remote.ModelID)
	assert.Equal(t, "ghp-env", cfg.AI.Remote.GitHubToken)
	assert.Equal(t, DefaultAzureAPIVersion, cfg.AI.Remote.AzureAPIVersion)

	provider, err := cfg.AI.NewProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HostGitHub, provider.Name())
}

func TestNewProviderUsesHostName(t *testing.T) {
	provider, err := AIConfig{Host: HostMock}.NewProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HostMock, provider.Name())
}
