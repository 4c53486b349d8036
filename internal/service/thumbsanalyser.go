package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// defaultSweepInterval matches the cadence of the teacher's cache.EmbeddingCache
// cleanup goroutine, scaled up since this sweep hits the database rather
// than an in-memory map.
const defaultSweepInterval = 5 * time.Minute

// NotificationListener abstracts a single dedicated Postgres LISTEN/NOTIFY
// connection, grounded in jackc/pgx's *pgx.Conn.WaitForNotification idiom
// (§4.9) rather than polling.
type NotificationListener interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (payload string, err error)
	Close(ctx context.Context) error
}

// RatingRepo loads a submitted rating by id.
type RatingRepo interface {
	GetByID(ctx context.Context, ratingID string) (*model.MessageRating, error)
}

// MessageLookupRepo resolves a message and the user turn that preceded it,
// the inputs the classifier prompt needs.
type MessageLookupRepo interface {
	GetByID(ctx context.Context, messageID string) (*model.Message, error)
	PrecedingUserMessage(ctx context.Context, messageID string) (*model.Message, error)
}

// ValidationRepo persists classifications, idempotently keyed by RatingID,
// and supports the periodic sweep for ratings a crashed worker never
// classified.
type ValidationRepo interface {
	Upsert(ctx context.Context, v *model.ThumbsDownValidation) error
	RatingIDsMissingValidation(ctx context.Context, limit int) ([]string, error)
}

// QualityFlagRepo flags documents for re-ingestion given the chunk ids a
// missing-sources answer cited; it resolves chunk → document internally.
type QualityFlagRepo interface {
	FlagNeedsReingestion(ctx context.Context, chunkIDs []string) error
}

// NotificationRepo enqueues user-facing notifications triggered by
// classification side effects.
type NotificationRepo interface {
	EnqueuePedagogical(ctx context.Context, userID, messageID string) error
}

// ThumbsDownAnalyserService is the single-instance background worker of
// §4.9: it LISTENs on thumbs_down_created, classifies each negative
// rating with the LLM, and applies the classification's side effects.
// Grounded in the teacher's long-lived worker shape (PipelineService's
// single responsibility per call) and cache.EmbeddingCache's ticker-driven
// cleanup goroutine for the periodic sweep.
type ThumbsDownAnalyserService struct {
	listener      NotificationListener
	ratings       RatingRepo
	messages      MessageLookupRepo
	validations   ValidationRepo
	quality       QualityFlagRepo
	notifications NotificationRepo
	llm           llmprovider.ChatClient

	confidenceThreshold float64
	autoNotifyEnabled   bool
	sweepInterval       time.Duration
}

// NewThumbsDownAnalyserService creates a ThumbsDownAnalyserService.
// sweepInterval <= 0 falls back to defaultSweepInterval.
func NewThumbsDownAnalyserService(
	listener NotificationListener,
	ratings RatingRepo,
	messages MessageLookupRepo,
	validations ValidationRepo,
	quality QualityFlagRepo,
	notifications NotificationRepo,
	llm llmprovider.ChatClient,
	confidenceThreshold float64,
	autoNotifyEnabled bool,
	sweepInterval time.Duration,
) *ThumbsDownAnalyserService {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &ThumbsDownAnalyserService{
		listener:            listener,
		ratings:              ratings,
		messages:             messages,
		validations:          validations,
		quality:              quality,
		notifications:        notifications,
		llm:                  llm,
		confidenceThreshold:  confidenceThreshold,
		autoNotifyEnabled:    autoNotifyEnabled,
		sweepInterval:        sweepInterval,
	}
}

const thumbsDownChannel = "thumbs_down_created"

// Run opens the LISTEN connection and processes notifications serially
// until ctx is cancelled. It never returns on a transient WaitForNotification
// error — it logs and keeps listening, matching §7's propagation policy for
// background workers.
func (s *ThumbsDownAnalyserService) Run(ctx context.Context) error {
	if err := s.listener.Listen(ctx, thumbsDownChannel); err != nil {
		return fmt.Errorf("service.ThumbsDownAnalyserService.Run: listen: %w", err)
	}
	defer s.listener.Close(context.Background())

	go s.sweepLoop(ctx)

	for {
		payload, err := s.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("thumbs-down analyser: wait for notification failed", "error", err)
			continue
		}

		if err := s.processRating(ctx, payload); err != nil {
			slog.Error("thumbs-down analyser: classification failed", "rating_id", payload, "error", err)
		}
	}
}

// sweepLoop retries ratings left without a validation row, e.g. because the
// worker crashed mid-classification (§4.9's at-least-once guarantee).
func (s *ThumbsDownAnalyserService) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepMissingValidations(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *ThumbsDownAnalyserService) sweepMissingValidations(ctx context.Context) {
	ids, err := s.validations.RatingIDsMissingValidation(ctx, 50)
	if err != nil {
		slog.Error("thumbs-down analyser: sweep query failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.processRating(ctx, id); err != nil {
			slog.Warn("thumbs-down analyser: sweep retry failed", "rating_id", id, "error", err)
		}
	}
}

// processRating loads the full context for one negative rating, classifies
// it, writes the validation idempotently, and applies side effects.
func (s *ThumbsDownAnalyserService) processRating(ctx context.Context, ratingID string) error {
	rating, err := s.ratings.GetByID(ctx, ratingID)
	if err != nil {
		return fmt.Errorf("service.processRating: load rating: %w", err)
	}
	if rating == nil || rating.Rating >= 0 {
		return nil
	}

	message, err := s.messages.GetByID(ctx, rating.MessageID)
	if err != nil {
		return fmt.Errorf("service.processRating: load message: %w", err)
	}
	if message == nil {
		return fmt.Errorf("service.processRating: message %s not found", rating.MessageID)
	}

	question, err := s.messages.PrecedingUserMessage(ctx, message.ID)
	if err != nil {
		return fmt.Errorf("service.processRating: load preceding question: %w", err)
	}
	questionContent := ""
	if question != nil {
		questionContent = question.Content
	}

	result, err := s.classify(ctx, classifyInput{
		Question: questionContent,
		Answer:   message.Content,
		Feedback: rating.Feedback,
		Sources:  message.Sources,
		Provider: message.Provider,
		Model:    message.Model,
	})
	if err != nil {
		return fmt.Errorf("service.processRating: classify: %w", err)
	}

	validation := &model.ThumbsDownValidation{
		ID:               uuid.New().String(),
		RatingID:         ratingID,
		AIClassification: result.Classification,
		Confidence:       result.Confidence,
		Rationale:        result.Rationale,
		NeedsAdminReview: result.Confidence < s.confidenceThreshold,
	}
	if err := s.validations.Upsert(ctx, validation); err != nil {
		return fmt.Errorf("service.processRating: upsert validation: %w", err)
	}

	s.applySideEffects(ctx, rating, message, result)
	return nil
}

func (s *ThumbsDownAnalyserService) applySideEffects(ctx context.Context, rating *model.MessageRating, message *model.Message, result classifyResult) {
	switch {
	case result.Classification == model.ClassificationBadQuestion && s.autoNotifyEnabled:
		if err := s.notifications.EnqueuePedagogical(ctx, rating.UserID, message.ID); err != nil {
			slog.Warn("thumbs-down analyser: pedagogical notification failed", "message_id", message.ID, "error", err)
		}
	case result.Classification == model.ClassificationMissingSources && result.Confidence >= s.confidenceThreshold:
		chunkIDs := make([]string, len(message.Sources))
		for i, src := range message.Sources {
			chunkIDs[i] = src.ChunkID
		}
		if len(chunkIDs) == 0 {
			return
		}
		if err := s.quality.FlagNeedsReingestion(ctx, chunkIDs); err != nil {
			slog.Warn("thumbs-down analyser: flag re-ingestion failed", "message_id", message.ID, "error", err)
		}
	}
}

// classifyInput is the prompt context for one classification call.
type classifyInput struct {
	Question string
	Answer   string
	Feedback string
	Sources  []model.Source
	Provider string
	Model    string
}

// classifyResult is the parsed structured output of a classification call.
type classifyResult struct {
	Classification model.ThumbsDownClassification
	Confidence     float64
	Rationale      string
}

// classificationJSON is the expected raw JSON shape from the model.
type classificationJSON struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
}

// classify asks the LLM to categorise a negative rating into one of four
// buckets (§4.9 step 2). LLM failures here never block rating creation —
// the caller logs and relies on the periodic sweep to retry.
func (s *ThumbsDownAnalyserService) classify(ctx context.Context, in classifyInput) (classifyResult, error) {
	prompt := buildClassificationPrompt(in)

	result, err := s.llm.ChatComplete(ctx, []llmprovider.Message{
		{Role: "system", Content: "Tu classes les retours négatifs d'utilisateurs sur un assistant documentaire français. Réponds uniquement en JSON."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return classifyResult{}, fmt.Errorf("service.classify: %w", err)
	}

	return parseClassificationResponse(result.Content), nil
}

func buildClassificationPrompt(in classifyInput) string {
	var sb strings.Builder
	sb.WriteString("Question de l'utilisateur :\n")
	sb.WriteString(in.Question)
	sb.WriteString("\n\nRéponse de l'assistant (")
	sb.WriteString(in.Provider)
	sb.WriteString("/")
	sb.WriteString(in.Model)
	sb.WriteString(") :\n")
	sb.WriteString(in.Answer)
	sb.WriteString("\n\nRetour négatif de l'utilisateur : ")
	if in.Feedback != "" {
		sb.WriteString(in.Feedback)
	} else {
		sb.WriteString("(aucun commentaire fourni)")
	}
	sb.WriteString("\n\nSources citées :\n")
	for _, src := range in.Sources {
		sb.WriteString(fmt.Sprintf("- %s (similarité %.2f) : %s\n", src.DocumentTitle, src.Similarity, src.ContentPreview))
	}
	sb.WriteString("\nClasse ce retour négatif dans exactement une des catégories suivantes : " +
		"\"bad_answer\" (la réponse est incorrecte malgré de bonnes sources), " +
		"\"bad_question\" (la question était mal formulée ou hors sujet), " +
		"\"missing_sources\" (les documents pertinents n'ont pas été retrouvés ou n'existent pas dans la base), " +
		"\"ambiguous\" (impossible de trancher avec les informations disponibles).\n")
	sb.WriteString("Réponds avec le JSON : {\"classification\": \"...\", \"confidence\": 0.0-1.0, \"rationale\": \"...\"}")
	return sb.String()
}

// parseClassificationResponse extracts the structured classification from
// the model's raw response, tolerating markdown code fences. An
// unparseable response degrades to "ambiguous" with zero confidence rather
// than failing the call — a low-confidence row still routes to admin
// review (NeedsAdminReview = confidence < threshold).
func parseClassificationResponse(raw string) classifyResult {
	cleaned := stripMarkdownFences(raw)

	var parsed classificationJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return classifyResult{Classification: model.ClassificationAmbiguous, Confidence: 0, Rationale: "réponse du modèle non structurée"}
	}

	classification := model.ThumbsDownClassification(parsed.Classification)
	switch classification {
	case model.ClassificationBadAnswer, model.ClassificationBadQuestion, model.ClassificationMissingSources, model.ClassificationAmbiguous:
	default:
		classification = model.ClassificationAmbiguous
	}

	return classifyResult{
		Classification: classification,
		Confidence:     parsed.Confidence,
		Rationale:      parsed.Rationale,
	}
}

// stripMarkdownFences removes a wrapping ``` or ```json code fence from a
// raw LLM response, tolerating models that ignore the "respond with raw
// JSON only" instruction. Shared by every LLM-response JSON parser in this
// package (grounded in the teacher's generator.go parseGenerationResponse).
func stripMarkdownFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) >= 3 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	return strings.TrimSpace(cleaned)
}
