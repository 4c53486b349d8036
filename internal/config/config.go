package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisURL string

	// EmbeddingServiceURL and RerankerServiceURL are the black-box HTTP
	// services described in spec.md §6.
	EmbeddingServiceURL string
	EmbeddingDimension  int
	EmbeddingBatchSize  int
	RerankerServiceURL  string

	// LLMProvider selects the sealed chat-completion variant ("mistral" or
	// "chocolatine") wired in internal/llmprovider.
	LLMProvider string
	LLMModel    string
	LLMBaseURL  string
	LLMAPIKey   string

	// LLMOAuthTokenURL, when set, switches the LLM client from static
	// API-key auth to an OAuth2 client-credentials flow against this
	// token endpoint. Empty disables OAuth (the default).
	LLMOAuthTokenURL     string
	LLMOAuthClientID     string
	LLMOAuthClientSecret string

	SharedStorageBucket string

	FirebaseProjectID  string
	InternalAuthSecret string

	GCPProject       string
	GCPRegion        string
	DocAIProcessorID string

	UseHierarchicalChunks bool
	UseAdjacentChunks     bool
	ChunkOverlap          int

	HybridSearchEnabled bool
	// HybridSearchAlpha is the parsed value, meaningful only when
	// HybridSearchAlphaAuto is false.
	HybridSearchAlpha     float64
	HybridSearchAlphaAuto bool

	RerankerEnabled bool
	RerankerTopK    int
	RerankerReturnK int

	ThumbsDownConfidenceThreshold float64
	QualityAnalysisSchedule       string // "HH:MM"
	ReingestionMissingSourcesN    int

	SelfRAGEnabled             bool
	SelfRAGMaxIterations       int
	SelfRAGConfidenceThreshold float64

	FrontendURL string
}

// Load reads configuration from environment variables, seeding them from a
// .env file first when one is present (absence is not an error).
// DATABASE_URL is the only required variable; everything else defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	alpha, alphaAuto := envAlpha("HYBRID_SEARCH_ALPHA", "auto")

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisURL: envStr("REDIS_URL", ""),

		EmbeddingServiceURL: envStr("EMBEDDING_SERVICE_URL", "http://embedding-service:8081"),
		EmbeddingDimension:  envInt("EMBEDDING_DIMENSION", 1024),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", 96),
		RerankerServiceURL:  envStr("RERANKER_SERVICE_URL", "http://reranker-service:8082"),

		LLMProvider: envStr("LLM_PROVIDER", "mistral"),
		LLMModel:    envStr("LLM_MODEL", "mistral-large-latest"),
		LLMBaseURL:  envStr("LLM_BASE_URL", ""),
		LLMAPIKey:   envStr("LLM_API_KEY", ""),

		LLMOAuthTokenURL:     envStr("LLM_OAUTH_TOKEN_URL", ""),
		LLMOAuthClientID:     envStr("LLM_OAUTH_CLIENT_ID", ""),
		LLMOAuthClientSecret: envStr("LLM_OAUTH_CLIENT_SECRET", ""),

		SharedStorageBucket: envStr("SHARED_STORAGE_BUCKET", "ragbox-uploads"),

		FirebaseProjectID:  envStr("FIREBASE_PROJECT_ID", ""),
		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),

		GCPProject:       envStr("GOOGLE_CLOUD_PROJECT", ""),
		GCPRegion:        envStr("GCP_REGION", "us-east4"),
		DocAIProcessorID: envStr("DOCUMENT_AI_PROCESSOR_ID", ""),

		UseHierarchicalChunks: envBool("USE_HIERARCHICAL_CHUNKS", false),
		UseAdjacentChunks:     envBool("USE_ADJACENT_CHUNKS", true),
		ChunkOverlap:          envInt("CHUNK_OVERLAP", 400),

		HybridSearchEnabled:   envBool("HYBRID_SEARCH_ENABLED", true),
		HybridSearchAlpha:     alpha,
		HybridSearchAlphaAuto: alphaAuto,

		RerankerEnabled: envBool("RERANKER_ENABLED", false),
		RerankerTopK:    envInt("RERANKER_TOP_K", 20),
		RerankerReturnK: envInt("RERANKER_RETURN_K", 5),

		ThumbsDownConfidenceThreshold: envFloat("THUMBS_DOWN_CONFIDENCE_THRESHOLD", 0.6),
		QualityAnalysisSchedule:       envStr("QUALITY_ANALYSIS_SCHEDULE", "03:00"),
		ReingestionMissingSourcesN:    envInt("REINGESTION_MISSING_SOURCES_N", 3),

		SelfRAGEnabled:             envBool("SELF_RAG_ENABLED", false),
		SelfRAGMaxIterations:       envInt("SELF_RAG_MAX_ITERATIONS", 2),
		SelfRAGConfidenceThreshold: envFloat("SELF_RAG_CONFIDENCE_THRESHOLD", 0.6),

		FrontendURL: envStr("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg, nil
}

// ReturnK is the number of results the retrieval engine exposes after
// fusion and, if enabled, reranking (§4.5).
func (c *Config) ReturnK() int {
	if c.RerankerEnabled {
		return c.RerankerReturnK
	}
	return 5
}

// LLMOAuth builds the llmprovider OAuth2 config from LLMOAuthTokenURL and
// friends, or nil when OAuth is not configured (the default), in which
// case llmprovider falls back to static API-key auth.
func (c *Config) LLMOAuth() *llmprovider.OAuthConfig {
	if c.LLMOAuthTokenURL == "" {
		return nil
	}
	return &llmprovider.OAuthConfig{
		TokenURL:     c.LLMOAuthTokenURL,
		ClientID:     c.LLMOAuthClientID,
		ClientSecret: c.LLMOAuthClientSecret,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envAlpha parses HYBRID_SEARCH_ALPHA, which is either a float in [0,1] or
// the literal "auto" (adaptive alpha per query, §4.5). Any unset or
// unparseable value falls back to "auto" rather than a fixed guess.
func envAlpha(key, fallback string) (value float64, auto bool) {
	raw := envStr(key, fallback)
	if strings.EqualFold(raw, "auto") {
		return 0, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true
	}
	return f, false
}
