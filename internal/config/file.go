package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/BurntSushi/toml"
)

// fileConfig is the layout of the optional TOML overlay, e.g.
//
//	ai_host = "local"
//
//	[local]
//	endpoint = "http://localhost:11434"
//	model_name = "llava"
type fileConfig struct {
	AIHost string `toml:"ai_host"`

	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`

	Ark struct {
		APIKey      string   `toml:"api_key"`
		AccessKey   string   `toml:"access_key"`
		SecretKey   string   `toml:"secret_key"`
		Model       string   `toml:"model"`
		BaseURL     string   `toml:"base_url"`
		Region      string   `toml:"region"`
		Temperature *float64 `toml:"temperature"`
		TopP        *float64 `toml:"top_p"`
		MaxTokens   *int     `toml:"max_tokens"`
	} `toml:"ark"`

	Local struct {
		Endpoint       string `toml:"endpoint"`
		ModelName      string `toml:"model_name"`
		TimeoutSeconds *int   `toml:"timeout_seconds"`
	} `toml:"local"`

	Remote struct {
		ModelID           string `toml:"model_or_deployment_id"`
		OpenAIKey         string `toml:"openai_key"`
		AzureEndpoint     string `toml:"azure_openai_endpoint"`
		AzureDeployment   string `toml:"azure_openai_deployment"`
		AzureKey          string `toml:"azure_openai_key"`
		AzureAPIVersion   string `toml:"azure_openai_api_version"`
		Endpoint          string `toml:"endpoint"`
		GitHubToken       string `toml:"github_token"`
		AzureInferenceKey string `toml:"azure_inference_key"`
	} `toml:"remote"`

	Chat struct {
		Stream       *bool  `toml:"stream"`
		SystemPrompt string `toml:"system_prompt"`
		Greeting     string `toml:"greeting"`
	} `toml:"chat"`

	Upload struct {
		MaxImageBytes *int `toml:"max_image_bytes"`
	} `toml:"upload"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// readFile decodes the overlay at path into environment-style keys. A missing
// file yields no values.
func readFile(path string) (map[string]string, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrConfiguration, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys in %s: %v", ErrConfiguration, path, undecoded)
	}
	return fc.values(), nil
}

func (fc fileConfig) values() map[string]string {
	values := map[string]string{
		"AI_HOST":            fc.AIHost,
		"PORT":               fc.Server.Port,
		"ARK_API_KEY":        fc.Ark.APIKey,
		"ARK_ACCESS_KEY":     fc.Ark.AccessKey,
		"ARK_SECRET_KEY":     fc.Ark.SecretKey,
		"ARK_MODEL":          fc.Ark.Model,
		"ARK_BASE_URL":       fc.Ark.BaseURL,
		"ARK_REGION":         fc.Ark.Region,
		"LOCAL_ENDPOINT":     fc.Local.Endpoint,
		"LOCAL_MODEL_NAME":   fc.Local.ModelName,

		"REMOTE_MODEL_OR_DEPLOYMENT_ID": fc.Remote.ModelID,
		"OPENAI_KEY":                    fc.Remote.OpenAIKey,
		"AZURE_OPENAI_ENDPOINT":         fc.Remote.AzureEndpoint,
		"AZURE_OPENAI_DEPLOYMENT":       fc.Remote.AzureDeployment,
		"AZURE_OPENAI_KEY":              fc.Remote.AzureKey,
		"AZURE_OPENAI_API_VERSION":      fc.Remote.AzureAPIVersion,
		"REMOTE_ENDPOINT":               fc.Remote.Endpoint,
		"GITHUB_TOKEN":                  fc.Remote.GitHubToken,
		"AZURE_INFERENCE_KEY":           fc.Remote.AzureInferenceKey,

		"CHAT_SYSTEM_PROMPT": fc.Chat.SystemPrompt,
		"CHAT_GREETING":      fc.Chat.Greeting,
		"LOG_LEVEL":          fc.Log.Level,
		"LOG_FORMAT":         fc.Log.Format,
	}

	if fc.Ark.Temperature != nil {
		values["ARK_TEMPERATURE"] = strconv.FormatFloat(*fc.Ark.Temperature, 'f', -1, 64)
	}
	if fc.Ark.TopP != nil {
		values["ARK_TOP_P"] = strconv.FormatFloat(*fc.Ark.TopP, 'f', -1, 64)
	}
	if fc.Ark.MaxTokens != nil {
		values["ARK_MAX_TOKENS"] = strconv.Itoa(*fc.Ark.MaxTokens)
	}
	if fc.Local.TimeoutSeconds != nil {
		values["LOCAL_TIMEOUT_SECONDS"] = strconv.Itoa(*fc.Local.TimeoutSeconds)
	}
	if fc.Chat.Stream != nil {
		values["CHAT_STREAM"] = strconv.FormatBool(*fc.Chat.Stream)
	}
	if fc.Upload.MaxImageBytes != nil {
		values["UPLOAD_MAX_IMAGE_BYTES"] = strconv.Itoa(*fc.Upload.MaxImageBytes)
	}

	return values
}

// LogFields summarises the loaded configuration without secrets.
func (c *Config) LogFields() []any {
	fields := []any{
		"addr", c.Server.Addr,
		"ai_host", c.AI.Host,
		"stream", c.Chat.Stream,
		"max_image_bytes", c.Upload.MaxImageBytes,
	}
	switch c.AI.Host {
	case HostArk:
		fields = append(fields, "model", c.AI.Ark.Model, "region", c.AI.Ark.Region, "api_key_set", c.AI.Ark.APIKey != "")
	case HostLocal:
		fields = append(fields, "model", c.AI.Local.ModelName, "endpoint", c.AI.Local.Endpoint)
	case HostAzureOpenAI:
		fields = append(fields, "deployment", c.AI.Remote.AzureDeployment, "endpoint", c.AI.Remote.AzureEndpoint)
	case HostOpenAI, HostGitHub, HostAzureInference:
		fields = append(fields, "model", c.AI.Remote.ModelID, "endpoint", c.AI.Remote.Endpoint)
	}
	return fields
}
