package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// blacklistMaxScore and blacklistMinRating are §4.10 step 2's fixed
// thresholds: a chunk needs both a poor satisfaction score and enough
// ratings to trust it before it becomes a blacklist candidate.
const (
	blacklistMaxScore  = -0.5
	blacklistMinRating = 3
)

// LeaderLock is a single advisory lock held for the duration of one
// scheduler run, keyed by a constant so only one process in the fleet ever
// runs the daily job concurrently (§4.10, §5). Backed by
// pg_try_advisory_lock/pg_advisory_unlock.
type LeaderLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// CitationStatsRepo aggregates per-chunk citation ratings over the scoring
// window and persists the resulting satisfaction scores.
type CitationStatsRepo interface {
	ScoreChunks(ctx context.Context) ([]model.ChunkQualityScore, error)
}

// ChunkBlacklistRepo persists and queries chunk exclusions (§4.10 step 2).
type ChunkBlacklistRepo interface {
	IsBlacklisted(ctx context.Context, chunkID string) (bool, error)
	Blacklist(ctx context.Context, entry model.ChunkBlacklist) error
}

// ReingestionRepo counts missing-sources validations per document and marks
// documents needing re-ingestion (§4.10 step 3).
type ReingestionRepo interface {
	DocumentsExceedingMissingSourcesThreshold(ctx context.Context, minValidations int) ([]string, error)
	MarkNeedsReingestion(ctx context.Context, documentID string) error
}

// QualityAuditRepo appends an immutable decision record (§4.10, §3).
type QualityAuditRepo interface {
	Append(ctx context.Context, entry model.QualityAuditEntry) error
}

// ChunkContentRepo fetches the text a blacklist-candidate validation call
// needs to judge.
type ChunkContentRepo interface {
	Content(ctx context.Context, chunkID string) (string, error)
}

// QualitySchedulerConfig controls the scheduler's daily fire time and the
// re-ingestion recommendation threshold, both spec.md §4.10 configurables.
type QualitySchedulerConfig struct {
	FireHour               int // 0-23, or -1 to mean "unset" (defaults to 3, "03:00"); 0 is a valid midnight fire hour
	FireMinute             int // 0-59, or -1 to mean "unset" (defaults to 0)
	MinMissingSourcesFlags int // N in "documents whose chunks appear in >= N missing-sources validations"
}

// QualitySchedulerService runs the daily chunk-scoring, blacklisting, and
// re-ingestion-recommendation job (§4.10). New component: the teacher has
// no equivalent daily maintenance job, so its shape is grounded in the
// cache package's ticker-driven cleanup loop, generalised from a fixed
// interval to a self-recomputing next-fire duration, plus the teacher's
// audit.go append-only logging idiom.
type QualitySchedulerService struct {
	lock        LeaderLock
	stats       CitationStatsRepo
	blacklist   ChunkBlacklistRepo
	reingestion ReingestionRepo
	audit       QualityAuditRepo
	content     ChunkContentRepo
	llm         llmprovider.ChatClient
	cfg         QualitySchedulerConfig
}

// NewQualitySchedulerService creates a QualitySchedulerService.
func NewQualitySchedulerService(lock LeaderLock, stats CitationStatsRepo, blacklist ChunkBlacklistRepo, reingestion ReingestionRepo, audit QualityAuditRepo, content ChunkContentRepo, llm llmprovider.ChatClient, cfg QualitySchedulerConfig) *QualitySchedulerService {
	if cfg.FireHour < 0 {
		cfg.FireHour = 3
	}
	if cfg.FireMinute < 0 {
		cfg.FireMinute = 0
	}
	if cfg.MinMissingSourcesFlags <= 0 {
		cfg.MinMissingSourcesFlags = 3
	}
	return &QualitySchedulerService{
		lock:        lock,
		stats:       stats,
		blacklist:   blacklist,
		reingestion: reingestion,
		audit:       audit,
		content:     content,
		llm:         llm,
		cfg:         cfg,
	}
}

// Run blocks, firing RunOnce once per day at the configured wall-clock time
// until ctx is cancelled. The wait duration is recomputed every iteration
// rather than driven by a fixed-interval ticker, so a process restart never
// drifts the fire time and a daylight-saving shift is absorbed naturally.
func (s *QualitySchedulerService) Run(ctx context.Context) error {
	for {
		wait := s.durationUntilNextFire(time.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil {
				slog.Error("quality scheduler run failed", "error", err)
			}
		}
	}
}

func (s *QualitySchedulerService) durationUntilNextFire(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.FireHour, s.cfg.FireMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// RunOnce performs one full scoring/blacklist/re-ingestion pass, guarded by
// the advisory lock so only the elected leader in a multi-instance
// deployment executes it. A process that fails to acquire the lock returns
// nil, not an error: losing the race is the expected, common case.
func (s *QualitySchedulerService) RunOnce(ctx context.Context) error {
	acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("service.RunOnce: acquire leader lock: %w", err)
	}
	if !acquired {
		slog.Info("quality scheduler: another instance is leader, skipping run")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			slog.Warn("quality scheduler: release leader lock failed", "error", err)
		}
	}()

	slog.Info("quality scheduler: run started")

	scores, err := s.scoreChunks(ctx)
	if err != nil {
		return err
	}
	if err := s.blacklistLowScoringChunks(ctx, scores); err != nil {
		return err
	}
	if err := s.recommendReingestion(ctx); err != nil {
		return err
	}

	slog.Info("quality scheduler: run completed", "chunks_scored", len(scores))
	return nil
}

// scoreChunks implements §4.10 step 1.
func (s *QualitySchedulerService) scoreChunks(ctx context.Context) ([]model.ChunkQualityScore, error) {
	scores, err := s.stats.ScoreChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.scoreChunks: %w", err)
	}
	for _, sc := range scores {
		if err := s.audit.Append(ctx, model.QualityAuditEntry{
			ID:         uuid.New().String(),
			Actor:      "ai",
			Action:     model.QualityActionScoreChunk,
			TargetType: "chunk",
			TargetID:   sc.ChunkID,
			Reason:     fmt.Sprintf("score=%.3f positive=%d negative=%d", sc.SatisfactionScore, sc.PositiveCount, sc.NegativeCount),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			slog.Warn("quality scheduler: audit append failed", "chunk_id", sc.ChunkID, "error", err)
		}
	}
	return scores, nil
}

// blacklistLowScoringChunks implements §4.10 step 2: a chunk with score
// <= -0.5 and >= 3 ratings is only blacklisted after an LLM validation call
// confirms it is truly off-topic or misleading, so a chunk that is merely
// terse or blunt but accurate is never silently hidden.
func (s *QualitySchedulerService) blacklistLowScoringChunks(ctx context.Context, scores []model.ChunkQualityScore) error {
	for _, sc := range scores {
		total := sc.PositiveCount + sc.NegativeCount
		if sc.SatisfactionScore > blacklistMaxScore || total < blacklistMinRating {
			continue
		}

		already, err := s.blacklist.IsBlacklisted(ctx, sc.ChunkID)
		if err != nil {
			slog.Warn("quality scheduler: blacklist check failed", "chunk_id", sc.ChunkID, "error", err)
			continue
		}
		if already {
			continue
		}

		confirmed, reason, err := s.confirmOffTopic(ctx, sc.ChunkID)
		if err != nil {
			slog.Warn("quality scheduler: off-topic confirmation failed", "chunk_id", sc.ChunkID, "error", err)
			continue
		}
		if !confirmed {
			continue
		}

		entry := model.ChunkBlacklist{
			ChunkID:   sc.ChunkID,
			Reason:    reason,
			Source:    model.BlacklistSourceAI,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.blacklist.Blacklist(ctx, entry); err != nil {
			slog.Error("quality scheduler: blacklist write failed", "chunk_id", sc.ChunkID, "error", err)
			continue
		}
		if err := s.audit.Append(ctx, model.QualityAuditEntry{
			ID:         uuid.New().String(),
			Actor:      "ai",
			Action:     model.QualityActionBlacklist,
			TargetType: "chunk",
			TargetID:   sc.ChunkID,
			Reason:     reason,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			slog.Warn("quality scheduler: audit append failed", "chunk_id", sc.ChunkID, "error", err)
		}
		slog.Info("quality scheduler: chunk blacklisted", "chunk_id", sc.ChunkID, "score", sc.SatisfactionScore)
	}
	return nil
}

type offTopicJSON struct {
	OffTopic bool   `json:"off_topic"`
	Reason   string `json:"reason"`
}

// confirmOffTopic asks the LLM whether a poorly-rated chunk is genuinely
// off-topic or misleading, rather than trusting the satisfaction score
// alone.
func (s *QualitySchedulerService) confirmOffTopic(ctx context.Context, chunkID string) (bool, string, error) {
	content, err := s.content.Content(ctx, chunkID)
	if err != nil {
		return false, "", fmt.Errorf("service.confirmOffTopic: %w", err)
	}

	prompt := fmt.Sprintf(`Ce passage documentaire a reçu des retours négatifs répétés d'utilisateurs. Détermine s'il est réellement hors sujet ou trompeur dans un contexte de documentation administrative française, ou si les retours négatifs sont probablement injustifiés.

Passage :
%s

Réponds uniquement avec le JSON : {"off_topic": true/false, "reason": "..."}`, content)

	result, err := s.llm.ChatComplete(ctx, []llmprovider.Message{
		{Role: "system", Content: "Tu évalues la pertinence de passages documentaires français. Réponds uniquement en JSON."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return false, "", fmt.Errorf("service.confirmOffTopic: llm: %w", err)
	}

	parsed := parseOffTopicResponse(result.Content)
	return parsed.OffTopic, parsed.Reason, nil
}

func parseOffTopicResponse(raw string) offTopicJSON {
	cleaned := stripMarkdownFences(raw)
	var parsed offTopicJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return offTopicJSON{OffTopic: false, Reason: "réponse du modèle non structurée"}
	}
	return parsed
}

// recommendReingestion implements §4.10 step 3.
func (s *QualitySchedulerService) recommendReingestion(ctx context.Context) error {
	docIDs, err := s.reingestion.DocumentsExceedingMissingSourcesThreshold(ctx, s.cfg.MinMissingSourcesFlags)
	if err != nil {
		return fmt.Errorf("service.recommendReingestion: %w", err)
	}
	for _, docID := range docIDs {
		if err := s.reingestion.MarkNeedsReingestion(ctx, docID); err != nil {
			slog.Error("quality scheduler: mark needs_reingestion failed", "document_id", docID, "error", err)
			continue
		}
		if err := s.audit.Append(ctx, model.QualityAuditEntry{
			ID:         uuid.New().String(),
			Actor:      "ai",
			Action:     model.QualityActionFlagReingestion,
			TargetType: "document",
			TargetID:   docID,
			Reason:     fmt.Sprintf("cited in >= %d missing-sources validations", s.cfg.MinMissingSourcesFlags),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			slog.Warn("quality scheduler: audit append failed", "document_id", docID, "error", err)
		}
		slog.Info("quality scheduler: document flagged for re-ingestion", "document_id", docID)
	}
	return nil
}
