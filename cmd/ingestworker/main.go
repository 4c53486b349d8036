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
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Version is the running build's version string.
const Version = "0.2.0"

// pollInterval is how long the worker sleeps after finding the queue empty.
const pollInterval = 3 * time.Second

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/ingestworker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/ingestworker: connect to database: %w", err)
	}
	defer pool.Close()

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("cmd/ingestworker: create storage client: %w", err)
	}
	defer storageAdapter.Close()

	docAI, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.GCPRegion)
	if err != nil {
		return fmt.Errorf("cmd/ingestworker: create document ai client: %w", err)
	}
	defer docAI.Close()

	parser := service.NewParserService(docAI, cfg.DocAIProcessorID, storageAdapter, cfg.SharedStorageBucket)
	reader := service.NewDocumentReaderAdapter(parser, cfg.SharedStorageBucket)
	chunker := service.NewChunkerService(cfg.ChunkOverlap, cfg.UseHierarchicalChunks)
	embedder := service.NewEmbedderService(gcpclient.NewEmbeddingHTTPClient(cfg.EmbeddingServiceURL), cfg.EmbeddingBatchSize)

	auditRepo := repository.NewAuditRepo(pool)
	audit, err := service.NewAuditService(auditRepo, nil)
	if err != nil {
		return fmt.Errorf("cmd/ingestworker: create audit service: %w", err)
	}

	jobs := repository.NewIngestionJobRepo(pool)
	redactor := service.NewRedactorService(gcpclient.NewStubDLPAdapter(), cfg.GCPProject)

	pipeline := service.NewPipelineService(jobs, jobs, reader, chunker, embedder, audit, redactor)

	slog.Info("ingest worker starting", "version", Version, "bucket", cfg.SharedStorageBucket)

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest worker stopped")
			return nil
		default:
		}

		processed, err := pipeline.ProcessNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("ingest worker stopped")
				return nil
			}
			slog.Error("ingest worker: poll failed, backing off", "error", err)
			processed = false
		}

		if !processed {
			select {
			case <-ctx.Done():
				slog.Info("ingest worker stopped")
				return nil
			case <-time.After(pollInterval):
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
