package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Provider is the completion capability the chat core depends on. Turns are
// provider-neutral eino messages as produced by BuildTurns.
type Provider interface {
	Complete(ctx context.Context, turns []*schema.Message) (string, error)
	CompleteStreaming(ctx context.Context, turns []*schema.Message) (*schema.StreamReader[string], error)
}

// ProviderError reports a failed provider call or an abnormally terminated stream.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ModelProvider adapts any eino chat model to Provider.
type ModelProvider struct {
	name  string
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewModelProvider compiles chatModel into a single-node chain.
func NewModelProvider(ctx context.Context, name string, chatModel model.BaseChatModel) (*ModelProvider, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ModelProvider{name: name, chain: runnable}, nil
}

// Name returns the backend the provider was built for.
func (p *ModelProvider) Name() string {
	return p.name
}

// Complete runs a single non-streaming completion.
func (p *ModelProvider) Complete(ctx context.Context, turns []*schema.Message) (string, error) {
	msg, err := p.chain.Invoke(ctx, turns)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Op: "complete", Err: err}
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

// CompleteStreaming opens a streaming completion and yields text fragments in
// arrival order. Empty deltas are passed through.
func (p *ModelProvider) CompleteStreaming(ctx context.Context, turns []*schema.Message) (*schema.StreamReader[string], error) {
	stream, err := p.chain.Stream(ctx, turns)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Op: "stream", Err: err}
	}
	return p.fragments(stream), nil
}

func (p *ModelProvider) fragments(src *schema.StreamReader[*schema.Message]) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](1)

	go func() {
		defer src.Close()
		defer sw.Close()

		for {
			chunk, err := src.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send("", &ProviderError{Provider: p.name, Op: "recv", Err: err})
				return
			}
			if chunk == nil {
				continue
			}
			if closed := sw.Send(chunk.Content, nil); closed {
				return
			}
		}
	}()

	return sr
}
