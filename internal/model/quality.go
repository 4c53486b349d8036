package model

import "time"

// ThumbsDownClassification is the analyser worker's AI-assigned category for
// a negative rating (§4.9).
type ThumbsDownClassification string

const (
	ClassificationBadAnswer      ThumbsDownClassification = "bad_answer"
	ClassificationBadQuestion    ThumbsDownClassification = "bad_question"
	ClassificationMissingSources ThumbsDownClassification = "missing_sources"
	ClassificationAmbiguous      ThumbsDownClassification = "ambiguous"
)

// ThumbsDownValidation is the analyser's classification of one negative
// MessageRating. One row per negative rating, keyed (idempotently) by
// RatingID.
type ThumbsDownValidation struct {
	ID               string                    `json:"id"`
	RatingID         string                    `json:"ratingId"`
	AIClassification ThumbsDownClassification  `json:"aiClassification"`
	Confidence       float64                   `json:"confidence"`
	Rationale        string                    `json:"rationale"`
	NeedsAdminReview bool                      `json:"needsAdminReview"`
	AdminDecision    string                    `json:"adminDecision,omitempty"`
	AdminReason      string                    `json:"adminReason,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
}

// DocumentQualityScore is a per-document aggregate maintained by the quality
// scheduler and the thumbs-down analyser (§3, §4.10).
type DocumentQualityScore struct {
	DocumentID      string    `json:"documentId"`
	NeedsReingestion bool     `json:"needsReingestion"`
	AnalysisNotes   string    `json:"analysisNotes,omitempty"`
	LastAnalysedAt  time.Time `json:"lastAnalysedAt"`
}

// ChunkQualityScore is a per-chunk satisfaction aggregate, recomputed daily
// from citation ratings (§4.10 step 1).
type ChunkQualityScore struct {
	ChunkID            string    `json:"chunkId"`
	SatisfactionScore  float64   `json:"satisfactionScore"` // (pos - neg) / total
	PositiveCount      int       `json:"positiveCount"`
	NegativeCount      int       `json:"negativeCount"`
	LastScoredAt       time.Time `json:"lastScoredAt"`
}

// BlacklistSource records who flagged a chunk exclusion.
type BlacklistSource string

const (
	BlacklistSourceAI    BlacklistSource = "ai"
	BlacklistSourceAdmin BlacklistSource = "admin"
)

// ChunkBlacklist is a persisted exclusion of a chunk from future retrieval
// (§3, §4.10 step 2). Resolves spec.md §9's open question: blacklisting
// affects retrieval only, never past Sources already persisted on messages.
type ChunkBlacklist struct {
	ChunkID     string          `json:"chunkId"`
	Reason      string          `json:"reason"`
	Source      BlacklistSource `json:"source"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// QualityAuditEntry is an immutable record of an automated or admin quality
// decision (blacklist, unblacklist, re-ingestion flag, override). Adapted
// from the teacher's AuditLog: the action vocabulary is specific to the
// quality-maintenance domain rather than document/vault lifecycle events.
type QualityAuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"` // "ai" | "admin"
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"` // "chunk" | "document"
	TargetID   string    `json:"targetId"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Quality audit action constants.
const (
	QualityActionBlacklist        = "BLACKLIST"
	QualityActionUnblacklist      = "UNBLACKLIST"
	QualityActionWhitelist        = "WHITELIST"
	QualityActionFlagReingestion  = "FLAG_REINGESTION"
	QualityActionIgnoreReingestion = "IGNORE_REINGESTION_RECOMMENDATION"
	QualityActionScoreChunk       = "SCORE_CHUNK"
)

// NotificationKind distinguishes the source of a UserNotification. Only
// "pedagogical" is produced today, by the thumbs-down analyser's
// bad_question classification (§4.9).
type NotificationKind string

const (
	NotificationKindPedagogical NotificationKind = "pedagogical"
)

// UserNotification is a lightweight, asynchronously-surfaced nudge to a
// user, enqueued as a side effect of quality-maintenance workers rather
// than pushed live.
type UserNotification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	MessageID *string          `json:"messageId,omitempty"`
	Kind      NotificationKind `json:"kind"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
