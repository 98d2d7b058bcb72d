package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// embeddingDimensionsByModel maps known embedding model names to their
// output dimension, mirroring the substring-matching the embedder
// provider itself uses to size its vectors.
var embeddingDimensionsByModel = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// Load reads ragcore's configuration from the process environment and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromEnviron] using [os.LookupEnv].
func Load() (*Config, error) {
	return LoadFromEnviron(os.LookupEnv)
}

// LoadFromEnviron builds a [Config] using lookup in place of os.LookupEnv,
// so tests can construct configs from an in-memory map rather than the
// real process environment.
func LoadFromEnviron(lookup func(string) (string, bool)) (*Config, error) {
	getStr := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}
	getBool := func(key string, def bool) bool {
		v, ok := lookup(key)
		if !ok || v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", def)
			return def
		}
		return b
	}
	getFloat := func(key string, def float64) float64 {
		v, ok := lookup(key)
		if !ok || v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid numeric env var, using default", "key", key, "value", v, "default", def)
			return def
		}
		return f
	}
	getInt := func(key string, def int) int {
		v, ok := lookup(key)
		if !ok || v == "" {
			return def
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", def)
			return def
		}
		return i
	}

	embeddingModel := getStr("EMBEDDING_MODEL", "text-embedding-3-small")

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getStr("LISTEN_ADDR", ":8080"),
			LogLevel:   getStr("LOG_LEVEL", "info"),
		},
		Postgres: PostgresConfig{
			DSN:            getStr("POSTGRES_DSN", ""),
			RequestTimeout: time.Duration(getInt("DB_REQUEST_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		LLM: LLMConfig{
			Backend:         getStr("LLM_BACKEND", "openai"),
			APIKey:          getStr("OPENAI_API_KEY", ""),
			BaseURL:         getStr("LLM_BASE_URL", ""),
			Model:           getStr("GENERATION_MODEL", "gpt-4o-mini"),
			RequestTimeout:  time.Duration(getInt("LLM_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxInflight:     getInt("LLM_MAX_INFLIGHT", 16),
			FallbackBackend: getStr("LLM_FALLBACK_BACKEND", ""),
			FallbackModel:   getStr("LLM_FALLBACK_MODEL", ""),
		},
		Embedder: EmbedderConfig{
			APIKey:         getStr("OPENAI_API_KEY", ""),
			BaseURL:        getStr("EMBEDDER_BASE_URL", ""),
			Model:          embeddingModel,
			Dimensions:     dimensionsForModel(embeddingModel),
			RequestTimeout: time.Duration(getInt("EMBED_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Pipeline: PipelineConfig{
			EnableMemory:                   getBool("ENABLE_MEMORY", true),
			MemorySimilarityThreshold:      getFloat("MEMORY_SIMILARITY_THRESHOLD", 0.95),
			EnableChunkClassification:      getBool("ENABLE_CHUNK_CLASSIFICATION", true),
			EnableSubquestionAmplification: getBool("ENABLE_SUBQUESTION_AMPLIFICATION", true),
			EnableAnswerVerification:       getBool("ENABLE_ANSWER_VERIFICATION", true),
			ChunkRelevanceThreshold:        getFloat("CHUNK_RELEVANCE_THRESHOLD", 0.5),
			VerificationThreshold:          getFloat("VERIFICATION_THRESHOLD", 0.7),
			MaxSubquestions:                getInt("MAX_SUBQUESTIONS", 4),
			AmplificationMinContextLength:  getInt("AMPLIFICATION_MIN_CONTEXT_LENGTH", 500),
			ClassifyConcurrency:            getInt("CLASSIFY_CONCURRENCY", 8),
			SubquestionConcurrency:         getInt("SUBQ_CONCURRENCY", 4),
			EnableDialogRetrieval:          getBool("ENABLE_DIALOG_RETRIEVAL", true),
			MinKeepChunks:                  getInt("MIN_KEEP", 2),
			Deadline:                       time.Duration(getInt("PIPELINE_DEADLINE_SECONDS", 60)) * time.Second,
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dimensionsForModel returns the known output dimension for model, or
// 1536 (the most common default) if unrecognized.
func dimensionsForModel(model string) int {
	for name, dim := range embeddingDimensionsByModel {
		if strings.Contains(model, name) {
			return dim
		}
	}
	return 1536
}

// Validate checks that cfg contains a coherent, runnable set of values.
// It returns a joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if cfg.Embedder.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedder dimensions must be positive, got %d", cfg.Embedder.Dimensions))
	}
	if cfg.Pipeline.MemorySimilarityThreshold < 0 || cfg.Pipeline.MemorySimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("MEMORY_SIMILARITY_THRESHOLD %.2f out of range [0,1]", cfg.Pipeline.MemorySimilarityThreshold))
	}
	if cfg.Pipeline.VerificationThreshold < 0 || cfg.Pipeline.VerificationThreshold > 1 {
		errs = append(errs, fmt.Errorf("VERIFICATION_THRESHOLD %.2f out of range [0,1]", cfg.Pipeline.VerificationThreshold))
	}
	if cfg.Pipeline.MaxSubquestions < 1 {
		errs = append(errs, fmt.Errorf("MAX_SUBQUESTIONS must be >= 1, got %d", cfg.Pipeline.MaxSubquestions))
	}
	if cfg.Pipeline.MinKeepChunks < 1 {
		errs = append(errs, fmt.Errorf("MIN_KEEP must be >= 1, got %d", cfg.Pipeline.MinKeepChunks))
	}
	if cfg.LLM.MaxInflight < 1 {
		errs = append(errs, fmt.Errorf("LLM_MAX_INFLIGHT must be >= 1, got %d", cfg.LLM.MaxInflight))
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}
