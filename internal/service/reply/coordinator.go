// Package reply turns one user turn into one completed assistant turn.
package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
	"github.com/zhouzirui/imgchat/backend/internal/observability"
	"github.com/zhouzirui/imgchat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/imgchat/backend/internal/service/chat"
)

// ProgressFunc receives the assistant placeholder after every change.
type ProgressFunc func(msg chat.Message)

// Coordinator drives a provider call and merges its output into a conversation.
type Coordinator struct {
	provider  ai.Provider
	streaming bool
	logger    *slog.Logger
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithStreaming selects whether Respond streams. Streaming is the default.
func WithStreaming(enabled bool) Option {
	return func(c *Coordinator) {
		c.streaming = enabled
	}
}

// WithLogger sets the logger used for per-turn diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New binds a coordinator to provider.
func New(provider ai.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:  provider,
		streaming: true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.Component(c.logger, "reply")
	return c
}

// StreamingEnabled reports which path Respond takes.
func (c *Coordinator) StreamingEnabled() bool {
	return c.streaming
}

// Respond answers the last user turn using the configured path.
func (c *Coordinator) Respond(ctx context.Context, conv *chatservice.Conversation, onProgress ProgressFunc) (*chatservice.Placeholder, error) {
	if c.streaming {
		return c.Run(ctx, conv, onProgress)
	}
	return c.Complete(ctx, conv, onProgress)
}

// Answer runs Respond and settles the outcome. A placeholder left streaming by
// a failure is marked failed so the conversation accepts the next turn. The
// returned message is the final placeholder, zero when none was created.
func (c *Coordinator) Answer(ctx context.Context, conv *chatservice.Conversation, onProgress ProgressFunc) (chat.Message, error) {
	h, err := c.Respond(ctx, conv, onProgress)
	if h == nil {
		return chat.Message{}, err
	}
	if err != nil && h.Snapshot().Streaming {
		if failErr := conv.Fail(h); failErr != nil {
			c.logger.Warn("failed to settle placeholder", "session", conv.SessionID(), "message", h.ID(), "error", failErr)
		}
	}
	return h.Snapshot(), err
}

// Run streams the provider's answer into a new assistant placeholder.
//
// A mid-stream provider error is returned unchanged together with the
// placeholder, which is left streaming with whatever text arrived. Cancelling
// ctx stops consumption the same way and returns ctx.Err(). The returned
// placeholder is nil when the failure happened before it was created.
func (c *Coordinator) Run(ctx context.Context, conv *chatservice.Conversation, onProgress ProgressFunc) (*chatservice.Placeholder, error) {
	notify := progressOrNop(onProgress)

	turns, err := c.prepare(ctx, conv)
	if err != nil {
		return nil, release(conv, err)
	}

	stream, err := c.provider.CompleteStreaming(ctx, turns)
	if err != nil {
		return nil, release(conv, err)
	}
	defer stream.Close()

	h, err := conv.BeginAssistantPlaceholder()
	if err != nil {
		return nil, release(conv, err)
	}
	notify(h.Snapshot())

	fragments := 0
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("stream cancelled", "session", conv.SessionID(), "message", h.ID(), "fragments", fragments)
			return h, err
		}

		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return h, ctxErr
			}
			c.logger.Warn("stream failed", "session", conv.SessionID(), "message", h.ID(), "fragments", fragments, "error", recvErr)
			return h, recvErr
		}

		if err := conv.AppendChunk(h, fragment); err != nil {
			return h, err
		}
		fragments++
		notify(h.Snapshot())
	}

	if err := conv.FinalizeAssistant(h); err != nil {
		return h, err
	}
	notify(h.Snapshot())

	c.logger.Debug("stream completed", "session", conv.SessionID(), "message", h.ID(), "fragments", fragments)
	return h, nil
}

// Complete answers with a single non-streaming provider call. The placeholder
// is shown while the call is pending.
func (c *Coordinator) Complete(ctx context.Context, conv *chatservice.Conversation, onProgress ProgressFunc) (*chatservice.Placeholder, error) {
	notify := progressOrNop(onProgress)

	turns, err := c.prepare(ctx, conv)
	if err != nil {
		return nil, release(conv, err)
	}

	h, err := conv.BeginAssistantPlaceholder()
	if err != nil {
		return nil, release(conv, err)
	}
	notify(h.Snapshot())

	text, err := c.provider.Complete(ctx, turns)
	if err != nil {
		c.logger.Warn("completion failed", "session", conv.SessionID(), "message", h.ID(), "error", err)
		return h, err
	}

	if err := conv.AppendChunk(h, text); err != nil {
		return h, err
	}
	notify(h.Snapshot())

	if err := conv.FinalizeAssistant(h); err != nil {
		return h, err
	}
	notify(h.Snapshot())

	return h, nil
}

func (c *Coordinator) prepare(ctx context.Context, conv *chatservice.Conversation) ([]*schema.Message, error) {
	history := conv.History()
	if err := checkReady(history); err != nil {
		return nil, err
	}

	turns, err := ai.BuildTurns(ctx, conv.SystemPrompt(), history)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return turns, nil
}

// checkReady requires a non-empty history ending in a completed user turn, or
// one made only of seeded entries.
func checkReady(history []chat.Message) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: conversation is empty", chatservice.ErrInvalidState)
	}

	last := history[len(history)-1]
	if last.Streaming {
		return chatservice.ErrStreamInFlight
	}
	if !last.IsAssistant() {
		return nil
	}

	for _, msg := range history {
		if !msg.Seeded {
			return fmt.Errorf("%w: last message is not a user turn", chatservice.ErrInvalidState)
		}
	}
	return nil
}

// release frees a turn reserved by Submit when no placeholder was created.
// ErrStreamInFlight means another reply owns the conversation, so it is left alone.
func release(conv *chatservice.Conversation, err error) error {
	if !errors.Is(err, chatservice.ErrStreamInFlight) {
		conv.Release()
	}
	return err
}

func progressOrNop(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(chat.Message) {}
	}
	return fn
}
