// Package config provides the configuration schema, env-driven loader, and
// validation for ragcore.
package config

import "time"

// Config is the root configuration record. It is loaded once at startup
// by [Load] and passed explicitly to the orchestrator and its
// collaborators — there are no hidden singletons.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	LLM      LLMConfig
	Embedder EmbedderConfig
	Pipeline PipelineConfig
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string
}

// PostgresConfig holds the store's database connection settings.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string for the pgvector-backed store.
	DSN string

	// RequestTimeout bounds a single Store call.
	RequestTimeout time.Duration
}

// LLMConfig selects and configures the chat/completion backend.
type LLMConfig struct {
	// Backend selects which pkg/provider/llm implementation to construct:
	// "openai" for the direct OpenAI SDK client, or any of the
	// pkg/provider/llm/anyllm provider names for the universal router.
	Backend string

	// APIKey authenticates against the selected backend.
	APIKey string

	// BaseURL overrides the backend's default API endpoint, when non-empty.
	BaseURL string

	// Model is the chat/completion model name (GENERATION_MODEL).
	Model string

	// RequestTimeout bounds a single LLM call made through the OpenAI
	// backend, as its HTTP client timeout; anyllm backends do not use it.
	RequestTimeout time.Duration

	// MaxInflight is the global concurrent-call ceiling (LLM_MAX_INFLIGHT).
	MaxInflight int

	// FallbackBackend optionally names a second pkg/provider/llm backend
	// (same naming as Backend) to fail over to once Backend's circuit
	// breaker opens (LLM_FALLBACK_BACKEND). Empty disables failover —
	// Backend still runs behind a circuit breaker, it just has no
	// fallback to hand off to.
	FallbackBackend string

	// FallbackModel is the model name used with FallbackBackend
	// (LLM_FALLBACK_MODEL). Defaults to Model when empty.
	FallbackModel string
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	// APIKey authenticates against the embedding backend.
	APIKey string

	// BaseURL overrides the backend's default API endpoint, when non-empty.
	BaseURL string

	// Model is the embedding model name (EMBEDDING_MODEL).
	Model string

	// Dimensions is the embedding model's output dimension, derived from
	// Model; also the pgvector column width the store migrates against.
	Dimensions int

	// RequestTimeout bounds a single embed call.
	RequestTimeout time.Duration
}

// PipelineConfig holds the QA orchestrator's feature flags and thresholds
// (spec §6's environment configuration surface).
type PipelineConfig struct {
	// EnableMemory toggles the memory-cache short-circuit (§4.6).
	EnableMemory bool

	// MemorySimilarityThreshold is SIM_THRESHOLD for semantic memory hits.
	MemorySimilarityThreshold float64

	// EnableChunkClassification toggles LLM-based chunk relevance
	// classification (§4.7); when false, all retrieved chunks are selected.
	EnableChunkClassification bool

	// EnableSubquestionAmplification toggles decomposition + fan-out
	// sub-answering (§4.8/§4.9).
	EnableSubquestionAmplification bool

	// EnableAnswerVerification toggles the grounding-score verifier (§4.10).
	EnableAnswerVerification bool

	// ChunkRelevanceThreshold is reserved for a future scored classifier
	// variant; unused by the binary Yes/No classifier (spec §6).
	ChunkRelevanceThreshold float64

	// VerificationThreshold marks an answer low-confidence below this score.
	VerificationThreshold float64

	// MaxSubquestions bounds subquestion decomposition (§4.8).
	MaxSubquestions int

	// AmplificationMinContextLength is the selected-chunk character count
	// above which amplification is attempted (§4.9).
	AmplificationMinContextLength int

	// ClassifyConcurrency bounds parallel classifier calls (§4.7/§5).
	ClassifyConcurrency int

	// SubquestionConcurrency bounds parallel sub-answer calls (§4.9/§5).
	SubquestionConcurrency int

	// EnableDialogRetrieval is the default for a thread append's
	// enhance_with_retrieval flag (§4.12).
	EnableDialogRetrieval bool

	// MinKeepChunks is MIN_KEEP, the classifier-fallback floor (§4.7).
	MinKeepChunks int

	// Deadline is the overall per-query pipeline timeout; on expiry
	// in-flight work is cancelled (§5).
	Deadline time.Duration
}
