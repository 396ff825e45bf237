package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/zhouzirui/imgchat/backend/internal/service/ai"
	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	"github.com/zhouzirui/imgchat/backend/internal/service/ollama"
)

// DefaultConfigFile 是未设置 CHAT_CONFIG_FILE 时读取的本地覆盖文件。
const DefaultConfigFile = "appsettings.local.toml"

// AI_HOST 支持的取值。
const (
	HostArk            = "ark"
	HostLocal          = "local"
	HostMock           = "mock"
	HostOpenAI         = "openai"
	HostAzureOpenAI    = "azureopenai"
	HostGitHub         = "github"
	HostAzureInference = "azureinference"
)

// DefaultAzureAPIVersion 是 Azure OpenAI 未配置版本时使用的 API 版本。
const DefaultAzureAPIVersion = "2024-06-01"

// ErrConfiguration 标记启动时发现的缺失或非法配置。
var ErrConfiguration = errors.New("configuration error")

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
	Upload UploadConfig
	Log    LogConfig
}

// Load 先读取 CHAT_CONFIG_FILE 指向的覆盖文件（若存在），再读取环境变量，
// 环境变量优先于文件。
func Load() (*Config, error) {
	path := getEnvOrDefault("CHAT_CONFIG_FILE", DefaultConfigFile)
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return load(settings{file: file})
}

func load(s settings) (*Config, error) {
	server, err := loadServerConfig(s)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(s)
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(s)
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig(s)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(s)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat, Upload: upload, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

func loadServerConfig(s settings) (ServerConfig, error) {
	port := s.getOrDefault("PORT", "8080")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("%w: invalid PORT value: %q", ErrConfiguration, port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 选择并配置补全后端。
type AIConfig struct {
	Host   string
	Ark    ArkConfig
	Local  LocalConfig
	Remote RemoteConfig
}

// ArkConfig 描述方舟大模型相关配置。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// LocalConfig 指向兼容 Ollama 的本地端点。
type LocalConfig struct {
	Endpoint  string
	ModelName string
	Timeout   time.Duration
}

// RemoteConfig 描述 OpenAI 兼容的托管端点：OpenAI、Azure OpenAI、
// GitHub Models 与 Azure AI Inference。
type RemoteConfig struct {
	ModelID           string
	OpenAIKey         string
	AzureEndpoint     string
	AzureDeployment   string
	AzureKey          string
	AzureAPIVersion   string
	Endpoint          string
	GitHubToken       string
	AzureInferenceKey string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 按 AI_HOST 构建对应的 eino 聊天模型。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	switch c.Host {
	case HostArk:
		return c.Ark.newChatModel(ctx)
	case HostLocal:
		if c.Local.Endpoint == "" {
			return nil, fmt.Errorf("%w: missing LOCAL_ENDPOINT", ErrConfiguration)
		}
		if c.Local.ModelName == "" {
			return nil, fmt.Errorf("%w: missing LOCAL_MODEL_NAME", ErrConfiguration)
		}
		return ollama.NewChatModel(ollama.Config{
			BaseURL: c.Local.Endpoint,
			Model:   c.Local.ModelName,
			Timeout: c.Local.Timeout,
		})
	case HostOpenAI, HostAzureOpenAI, HostGitHub, HostAzureInference:
		return c.Remote.newChatModel(ctx, c.Host)
	case HostMock:
		return ai.NewEchoModel(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported AI_HOST %q", ErrConfiguration, c.Host)
	}
}

// NewProvider 将配置的聊天模型包装为 ai.Provider。
func (c AIConfig) NewProvider(ctx context.Context) (*ai.ModelProvider, error) {
	chatModel, err := c.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	return ai.NewModelProvider(ctx, c.Host, chatModel)
}

func (c ArkConfig) newChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: missing Ark credentials or model, set ARK_MODEL with ARK_API_KEY or ARK_ACCESS_KEY + ARK_SECRET_KEY", ErrConfiguration)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// newChatModel 为托管端点构建 OpenAI 协议的聊天模型，缺失的配置项返回 ErrConfiguration。
func (c RemoteConfig) newChatModel(ctx context.Context, host string) (model.BaseChatModel, error) {
	if c.ModelID == "" {
		return nil, fmt.Errorf("%w: missing REMOTE_MODEL_OR_DEPLOYMENT_ID", ErrConfiguration)
	}

	cfg := &openai.ChatModelConfig{Model: c.ModelID}
	switch host {
	case HostOpenAI:
		if c.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: missing OPENAI_KEY", ErrConfiguration)
		}
		cfg.APIKey = c.OpenAIKey
	case HostAzureOpenAI:
		if c.AzureEndpoint == "" {
			return nil, fmt.Errorf("%w: missing AZURE_OPENAI_ENDPOINT", ErrConfiguration)
		}
		if c.AzureDeployment == "" {
			return nil, fmt.Errorf("%w: missing AZURE_OPENAI_DEPLOYMENT", ErrConfiguration)
		}
		if c.AzureKey == "" {
			return nil, fmt.Errorf("%w: missing AZURE_OPENAI_KEY", ErrConfiguration)
		}
		cfg.ByAzure = true
		cfg.BaseURL = c.AzureEndpoint
		cfg.APIVersion = c.AzureAPIVersion
		cfg.APIKey = c.AzureKey
		// Azure 按部署名路由请求。
		cfg.Model = c.AzureDeployment
	default:
		keyName, key := "AZURE_INFERENCE_KEY", c.AzureInferenceKey
		if host == HostGitHub {
			keyName, key = "GITHUB_TOKEN", c.GitHubToken
		}
		if c.Endpoint == "" {
			return nil, fmt.Errorf("%w: missing REMOTE_ENDPOINT", ErrConfiguration)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: missing %s for AI_HOST %s", ErrConfiguration, keyName, host)
		}
		cfg.BaseURL = c.Endpoint
		cfg.APIKey = key
	}

	return openai.NewChatModel(ctx, cfg)
}

func loadAIConfig(s settings) (AIConfig, error) {
	host := strings.ToLower(s.getOrDefault("AI_HOST", HostLocal))
	switch host {
	case HostArk, HostLocal, HostMock, HostOpenAI, HostAzureOpenAI, HostGitHub, HostAzureInference:
	default:
		return AIConfig{}, fmt.Errorf("%w: unsupported AI_HOST %q", ErrConfiguration, host)
	}

	temperature, err := s.parseOptionalFloat("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := s.parseOptionalFloat("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := s.parseOptionalInt("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout := 120
	if override, err := s.parseOptionalInt("LOCAL_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		timeout = *override
	}

	return AIConfig{
		Host: host,
		Ark: ArkConfig{
			APIKey:      s.get("ARK_API_KEY"),
			AccessKey:   s.get("ARK_ACCESS_KEY"),
			SecretKey:   s.get("ARK_SECRET_KEY"),
			Model:       s.get("ARK_MODEL"),
			BaseURL:     s.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      s.getOrDefault("ARK_REGION", "cn-beijing"),
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		},
		Local: LocalConfig{
			Endpoint:  s.get("LOCAL_ENDPOINT"),
			ModelName: s.get("LOCAL_MODEL_NAME"),
			Timeout:   time.Duration(timeout) * time.Second,
		},
		Remote: RemoteConfig{
			ModelID:           s.get("REMOTE_MODEL_OR_DEPLOYMENT_ID"),
			OpenAIKey:         s.get("OPENAI_KEY"),
			AzureEndpoint:     s.get("AZURE_OPENAI_ENDPOINT"),
			AzureDeployment:   s.get("AZURE_OPENAI_DEPLOYMENT"),
			AzureKey:          s.get("AZURE_OPENAI_KEY"),
			AzureAPIVersion:   s.getOrDefault("AZURE_OPENAI_API_VERSION", DefaultAzureAPIVersion),
			Endpoint:          s.get("REMOTE_ENDPOINT"),
			GitHubToken:       s.get("GITHUB_TOKEN"),
			AzureInferenceKey: s.get("AZURE_INFERENCE_KEY"),
		},
	}, nil
}

// ChatConfig 控制回复的生成方式。
type ChatConfig struct {
	Stream       bool
	SystemPrompt string
	Greeting     string
}

func loadChatConfig(s settings) (ChatConfig, error) {
	stream, err := s.parseBool("CHAT_STREAM", true)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		Stream:       stream,
		SystemPrompt: s.get("CHAT_SYSTEM_PROMPT"),
		Greeting:     s.get("CHAT_GREETING"),
	}, nil
}

// UploadConfig 限制附加图片的大小。
type UploadConfig struct {
	MaxImageBytes int
}

func loadUploadConfig(s settings) (UploadConfig, error) {
	maxBytes := attachment.DefaultMaxBytes
	if override, err := s.parseOptionalInt("UPLOAD_MAX_IMAGE_BYTES"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return UploadConfig{}, fmt.Errorf("%w: UPLOAD_MAX_IMAGE_BYTES must be positive", ErrConfiguration)
		}
		maxBytes = *override
	}
	return UploadConfig{MaxImageBytes: maxBytes}, nil
}

// LogConfig 指定日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig(s settings) (LogConfig, error) {
	format := strings.ToLower(s.getOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("%w: invalid LOG_FORMAT value %q", ErrConfiguration, format)
	}

	level := strings.ToLower(s.getOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("%w: invalid LOG_LEVEL value %q", ErrConfiguration, level)
	}

	return LogConfig{Level: level, Format: format}, nil
}

// settings 先从环境变量、再从覆盖文件解析配置键。
type settings struct {
	file map[string]string
}

func (s settings) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(s.file[key])
}

func (s settings) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s settings) parseBool(key string, defaultValue bool) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s value %q: %v", ErrConfiguration, key, raw, err)
	}
	return val, nil
}

func (s settings) parseOptionalFloat(key string) (*float64, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s value %q: %v", ErrConfiguration, key, value, err)
	}
	return &val, nil
}

func (s settings) parseOptionalInt(key string) (*int, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s value %q: %v", ErrConfiguration, key, value, err)
	}
	return &val, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
