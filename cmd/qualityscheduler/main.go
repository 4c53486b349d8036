package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

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
		return fmt.Errorf("cmd/qualityscheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/qualityscheduler: connect to database: %w", err)
	}
	defer pool.Close()

	llm, err := llmprovider.New(cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMOAuth())
	if err != nil {
		return fmt.Errorf("cmd/qualityscheduler: %w", err)
	}

	var fireHour, fireMinute int
	if _, err := fmt.Sscanf(cfg.QualityAnalysisSchedule, "%d:%d", &fireHour, &fireMinute); err != nil {
		return fmt.Errorf("cmd/qualityscheduler: invalid QUALITY_ANALYSIS_SCHEDULE %q: %w", cfg.QualityAnalysisSchedule, err)
	}

	chunks := repository.NewChunkRepo(pool)
	quality := repository.NewQualityRepository(pool)

	scheduler := service.NewQualitySchedulerService(
		repository.NewAdvisoryLeaderLock(pool),
		quality,
		quality,
		quality,
		quality,
		chunks,
		llm,
		service.QualitySchedulerConfig{
			FireHour:               fireHour,
			FireMinute:              fireMinute,
			MinMissingSourcesFlags: cfg.ReingestionMissingSourcesN,
		},
	)

	analytics := repository.NewAnalyticsRepository(pool)
	go runAnalyticsRefreshLoop(ctx, analytics)

	slog.Info("quality scheduler starting", "version", Version, "fire_at", cfg.QualityAnalysisSchedule)
	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("cmd/qualityscheduler: %w", err)
	}

	slog.Info("quality scheduler stopped")
	return nil
}

// runAnalyticsRefreshLoop recomputes the conversation_stats materialised
// view on a fixed interval so the admin stats endpoint doesn't drift far
// behind live conversation activity. Runs alongside the daily quality job
// in the same process rather than as a separate binary, since both are
// low-frequency maintenance work with no user-facing latency requirement.
func runAnalyticsRefreshLoop(ctx context.Context, analytics *repository.AnalyticsRepository) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := analytics.Refresh(ctx); err != nil {
				slog.Warn("cmd/qualityscheduler: analytics refresh failed", "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
