// Package config reads the pipeline configuration from the environment.
// Every setting has a working default; a .env file is loaded by the CLI
// entrypoint before this package reads anything.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knowledgehub/rag-core/internal/cache"
	"github.com/knowledgehub/rag-core/internal/chunker"
)

// Config holds every tunable of the pipeline.
type Config struct {
	// Vector store.
	QdrantHost string
	QdrantPort int

	// Semantic cache. An empty RedisAddr selects the in-process cache.
	RedisAddr                string
	CacheTTL                 time.Duration
	CacheSimilarityThreshold float64
	CacheMaxEntries          int

	// Embeddings.
	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingDimension int

	// Generation.
	GenerationBaseURL string
	GenerationModel   string

	// Reranker. Empty URL disables reranking.
	RerankerURL string

	// Chunking.
	ChunkMaxTokens     int
	ChunkOverlapTokens int

	// Retrieval.
	TopK        int
	SearchDepth int
	FusionAlpha float64
}

// Load reads the configuration from the environment, falling back to the
// defaults for anything unset.
func Load() *Config {
	return &Config{
		QdrantHost: getEnv("QDRANT_HOST", "localhost"),
		QdrantPort: getEnvInt("QDRANT_PORT", 6334),

		RedisAddr:                getEnv("REDIS_ADDR", ""),
		CacheTTL:                 getEnvDuration("CACHE_TTL", cache.DefaultTTL),
		CacheSimilarityThreshold: getEnvFloat("CACHE_SIMILARITY_THRESHOLD", cache.DefaultSimilarityThreshold),
		CacheMaxEntries:          getEnvInt("CACHE_MAX_ENTRIES", cache.DefaultMaxEntries),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),

		GenerationBaseURL: getEnv("GENERATION_BASE_URL", ""),
		GenerationModel:   getEnv("GENERATION_MODEL", "llama3"),

		RerankerURL: getEnv("RERANKER_URL", ""),

		ChunkMaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", chunker.DefaultMaxTokens),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", chunker.DefaultOverlapTokens),

		TopK:        getEnvInt("TOP_K", 5),
		SearchDepth: getEnvInt("SEARCH_DEPTH", 20),
		FusionAlpha: getEnvFloat("FUSION_ALPHA", 0.7),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
