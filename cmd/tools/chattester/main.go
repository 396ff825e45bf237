package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/imgchat/backend/internal/config"
	"github.com/zhouzirui/imgchat/backend/internal/model/assistant"
	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
	"github.com/zhouzirui/imgchat/backend/internal/observability"
	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	chatservice "github.com/zhouzirui/imgchat/backend/internal/service/chat"
	"github.com/zhouzirui/imgchat/backend/internal/service/reply"
)

type options struct {
	assistantID string
	imagePath   string
	message     string
	timeout     time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "chattester",
		Short: "chat with the configured model from the terminal",
		Long: `Drive a conversation against the provider selected by AI_HOST without
starting the HTTP server. Replies are printed as they stream in.`,
		Example: `  # interactive session against a local Ollama model
  $ AI_HOST=local LOCAL_ENDPOINT=http://localhost:11434 LOCAL_MODEL_NAME=llava chattester

  # one-shot question about an image
  $ chattester --image cat.png --message "what is this?"`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.assistantID, "assistant", assistant.DefaultID, "assistant profile id")
	cmd.Flags().StringVar(&opts.imagePath, "image", "", "image file attached to the first message")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "send a single message and exit")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-reply timeout")

	return cmd
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.Setup(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}

	profiles := assistant.Seed(cfg.Chat.SystemPrompt, cfg.Chat.Greeting)
	profile, ok := assistant.NewMemoryStore(profiles).FindByID(opts.assistantID)
	if !ok {
		return fmt.Errorf("%w: %s", chatservice.ErrAssistantNotFound, opts.assistantID)
	}

	provider, err := cfg.AI.NewProvider(ctx)
	if err != nil {
		return err
	}
	replies := reply.New(provider, reply.WithStreaming(cfg.Chat.Stream), reply.WithLogger(logger))

	flow := attachment.NewFlow()
	if opts.imagePath != "" {
		img, err := loadImage(opts.imagePath, cfg.Upload.MaxImageBytes)
		if err != nil {
			return err
		}
		if err := flow.Request(img, ""); err != nil {
			return err
		}
		if err := flow.Confirm(); err != nil {
			return err
		}
	}

	conv := chatservice.NewConversation(uuid.NewString(), profile.SystemPrompt, profile.Greeting)
	fmt.Fprintf(out, "[%s via %s] %s\n", profile.Name, provider.Name(), profile.Greeting)

	if opts.message != "" {
		return turn(ctx, opts, conv, flow, replies, opts.message, out)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}
		if err := turn(ctx, opts, conv, flow, replies, text, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func turn(ctx context.Context, opts *options, conv *chatservice.Conversation, flow *attachment.Flow, replies *reply.Coordinator, text string, out io.Writer) error {
	msg, err := flow.Compose(text)
	if err != nil {
		return err
	}
	if _, err := conv.Submit(msg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	printer := &deltaPrinter{out: out}
	_, err = replies.Answer(ctx, conv, printer.progress)
	fmt.Fprintln(out)
	return err
}

// deltaPrinter writes only the part of each snapshot not printed yet.
type deltaPrinter struct {
	out     io.Writer
	started bool
	printed string
}

func (p *deltaPrinter) progress(msg chat.Message) {
	if !p.started {
		p.started = true
		return
	}
	if strings.HasPrefix(msg.Text, p.printed) {
		fmt.Fprint(p.out, msg.Text[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+msg.Text)
	}
	p.printed = msg.Text
}

func loadImage(path string, maxBytes int) (*chat.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img := &chat.Image{Filename: filepath.Base(path), Data: data}
	if err := attachment.Validate(img, maxBytes); err != nil {
		return nil, err
	}
	slog.Debug("image attached", "file", img.Filename, "bytes", len(data), "mime", img.MIMEType)
	return img, nil
}
