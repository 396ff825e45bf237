package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/imgchat/backend/internal/config"
	"github.com/zhouzirui/imgchat/backend/internal/handler"
	"github.com/zhouzirui/imgchat/backend/internal/model/assistant"
	"github.com/zhouzirui/imgchat/backend/internal/observability"
	"github.com/zhouzirui/imgchat/backend/internal/service/chat"
	"github.com/zhouzirui/imgchat/backend/internal/service/reply"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := observability.Setup(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", "error", envErr)
	}
	logger.Info("configuration loaded", cfg.LogFields()...)

	assistants := assistant.NewMemoryStore(assistant.Seed(cfg.Chat.SystemPrompt, cfg.Chat.Greeting))
	chatService := chat.NewService(assistants)

	provider, err := cfg.AI.NewProvider(ctx)
	if err != nil {
		logger.Error("failed to initialize AI provider", "host", cfg.AI.Host, "error", err)
		os.Exit(1)
	}
	logger.Info("AI provider initialized", "host", provider.Name())

	replies := reply.New(provider,
		reply.WithStreaming(cfg.Chat.Stream),
		reply.WithLogger(logger),
	)

	router := handler.NewRouter(handler.Dependencies{
		Assistants:    assistants,
		Chat:          chatService,
		Replies:       replies,
		MaxImageBytes: cfg.Upload.MaxImageBytes,
		Logger:        logger,
	})

	if err := startServer(ctx, logger, cfg.Server, router); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func startServer(ctx context.Context, logger *slog.Logger, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("imgchat backend listening", "addr", serverCfg.Addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
