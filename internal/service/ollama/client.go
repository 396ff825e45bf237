// Package ollama adapts the Ollama chat API to an eino chat model, carrying
// inline images as raw bytes the way Ollama expects them.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/ollama/ollama/api"

	"github.com/zhouzirui/imgchat/backend/internal/service/ai"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://127.0.0.1:11434"

var errReaderClosed = errors.New("stream reader closed")

// Config describes how to reach the local model.
type Config struct {
	BaseURL string
	Model   string
	// Timeout bounds non-streaming calls; streams are bounded by the context.
	Timeout time.Duration
	// Options is passed through as Ollama's model options, e.g. "temperature".
	Options    map[string]any
	HTTPClient *http.Client
}

// ChatModel talks to Ollama's /api/chat endpoint.
type ChatModel struct {
	cfg    Config
	client *api.Client
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel validates cfg and returns a model ready to use.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ollama model name is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &ChatModel{
		cfg:    cfg,
		client: api.NewClient(base, httpClient),
	}, nil
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	req, err := m.request(input, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var content strings.Builder
	err = m.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return schema.AssistantMessage(content.String(), nil), nil
}

// Stream implements model.BaseChatModel. Each response line becomes one
// chunk. It returns once the first line arrives, so a rejected request is
// reported here rather than on the reader.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.request(input, true)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	ready := make(chan error, 1)

	go func() {
		defer sw.Close()

		started := false
		err := m.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				ready <- nil
			}
			if closed := sw.Send(schema.AssistantMessage(resp.Message.Content, nil), nil); closed {
				return errReaderClosed
			}
			return nil
		})
		if !started {
			ready <- err
			return
		}
		if err != nil && !errors.Is(err, errReaderClosed) {
			sw.Send(nil, fmt.Errorf("ollama stream: %w", err))
		}
	}()

	if err := <-ready; err != nil {
		sr.Close()
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	return sr, nil
}

func (m *ChatModel) request(input []*schema.Message, stream bool) (*api.ChatRequest, error) {
	messages, err := toMessages(input)
	if err != nil {
		return nil, err
	}
	return &api.ChatRequest{
		Model:    m.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  m.cfg.Options,
	}, nil
}

func toMessages(input []*schema.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(input))
	for _, msg := range input {
		converted := api.Message{
			Role:    string(msg.Role),
			Content: ai.TextOf(msg),
		}
		for _, part := range msg.MultiContent {
			if part.Type != schema.ChatMessagePartTypeImageURL || part.ImageURL == nil {
				continue
			}
			_, data, err := ai.ParseDataURI(part.ImageURL.URL)
			if err != nil {
				return nil, fmt.Errorf("ollama only accepts inline images: %w", err)
			}
			converted.Images = append(converted.Images, api.ImageData(data))
		}
		out = append(out, converted)
	}
	return out, nil
}
