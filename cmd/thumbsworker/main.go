package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Version is the running build's version string.
const Version = "0.2.0"

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/thumbsworker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/thumbsworker: connect to database: %w", err)
	}
	defer pool.Close()

	listener, err := repository.NewPostgresListener(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("cmd/thumbsworker: open listener connection: %w", err)
	}

	llm, err := llmprovider.New(cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMOAuth())
	if err != nil {
		return fmt.Errorf("cmd/thumbsworker: %w", err)
	}

	analyser := service.NewThumbsDownAnalyserService(
		listener,
		repository.NewRatingRepository(pool),
		repository.NewMessageRepository(pool),
		repository.NewValidationRepository(pool),
		repository.NewChunkRepo(pool),
		repository.NewNotificationRepository(pool),
		llm,
		cfg.ThumbsDownConfidenceThreshold,
		true,
		0,
	)

	slog.Info("thumbs-down analyser starting", "version", Version)
	if err := analyser.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("cmd/thumbsworker: %w", err)
	}

	slog.Info("thumbs-down analyser stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
