package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/router"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Version is the running build's version string, surfaced on /api/health.
const Version = "0.2.0"

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/server: connect to database: %w", err)
	}
	defer pool.Close()

	conversations := repository.NewConversationRepository(pool)
	messages := repository.NewMessageRepository(pool)
	ratings := repository.NewRatingRepository(pool)
	documents := repository.NewDocumentRepository(pool)
	chunks := repository.NewChunkRepo(pool)
	bm25 := repository.NewBM25Repository(pool)
	quality := repository.NewQualityRepository(pool)
	universes := repository.NewUniverseRepository(pool)
	users := repository.NewUserRepo(pool)
	auditLogs := repository.NewAuditRepo(pool)
	analytics := repository.NewAnalyticsRepository(pool)

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("cmd/server: create storage client: %w", err)
	}
	defer storageAdapter.Close()

	llm, err := llmprovider.New(cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMOAuth())
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}

	embedder := service.NewEmbedderService(gcpclient.NewEmbeddingHTTPClient(cfg.EmbeddingServiceURL), cfg.EmbeddingBatchSize)
	embeddingCache := cache.NewEmbeddingCache(cache.DefaultEmbeddingTTL())
	defer embeddingCache.Stop()
	embedder.SetCache(embeddingCache)

	var reranker service.Reranker
	if cfg.RerankerEnabled {
		reranker = service.NewRerankerService(cfg.RerankerServiceURL, "")
	}

	retriever := service.NewRetrieverService(embedder, chunks, bm25, chunks, reranker)
	if cfg.RedisURL != "" {
		queryCache, err := cache.NewRedisQueryCache(cfg.RedisURL, 15*time.Minute)
		if err != nil {
			slog.Warn("cmd/server: redis query cache unavailable, falling back to in-process cache", "error", err)
			inMemCache := cache.NewInMemoryQueryCache(15 * time.Minute)
			defer inMemCache.Stop()
			retriever.SetCache(inMemCache)
		} else {
			defer queryCache.Close()
			retriever.SetCache(queryCache)
		}
	} else {
		inMemCache := cache.NewInMemoryQueryCache(15 * time.Minute)
		defer inMemCache.Stop()
		retriever.SetCache(inMemCache)
	}
	contextBuilder := service.NewContextBuilderService(conversations, conversations, llm)

	var selfRAG *service.SelfRAGService
	if cfg.SelfRAGEnabled {
		selfRAG = service.NewSelfRAGService(
			service.NewLLMGenerator(llm, "Tu es un assistant qui répond en français à partir des extraits fournis, en citant ses sources.", cfg.LLMModel),
			cfg.SelfRAGMaxIterations,
			cfg.SelfRAGConfidenceThreshold,
		)
	}

	orchestrator := service.NewOrchestratorService(
		messages,
		conversations,
		quality,
		contextBuilder,
		retriever,
		llm,
		cfg.RerankerEnabled,
		cfg.ReturnK(),
		cfg.HybridSearchAlphaAuto,
		cfg.HybridSearchAlpha,
		cfg.UseHierarchicalChunks,
		selfRAG,
	)

	documentService := service.NewDocumentService(storageAdapter, documents, documents, cfg.SharedStorageBucket, 15*time.Minute)
	universeService := service.NewUniverseService(universes)

	firebaseApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
	if err != nil {
		return fmt.Errorf("cmd/server: init firebase app: %w", err)
	}
	firebaseAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return fmt.Errorf("cmd/server: init firebase auth client: %w", err)
	}
	authService := service.NewAuthService(firebaseAuth)

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: 120,
		Window:      time.Minute,
	})
	chatLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: 20,
		Window:      time.Minute,
	})

	deps := &router.Dependencies{
		DB:                 pool,
		AuthService:        authService,
		FrontendURL:        cfg.FrontendURL,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         metricsReg,
		InternalAuthSecret: cfg.InternalAuthSecret,
		Conversations:      conversations,
		Messages:           conversations,
		Orchestrator:       orchestrator,
		Ratings:            ratings,
		Documents:          documentService,
		Universes:          universeService,
		Users:              users,
		AuditLogs:          auditLogs,
		Analytics:          analytics,
		GeneralRateLimiter: generalLimiter,
		ChatRateLimiter:    chatLimiter,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragbox-backend starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("cmd/server: server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cmd/server: graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
