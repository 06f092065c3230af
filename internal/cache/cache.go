// Package cache implements the semantic response cache: prior
// question-answer results served back when a new question is textually
// identical or embedding-similar enough.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/knowledgehub/rag-core/internal/search"
)

// ErrCacheStore reports a cache store failure. The cache is best-effort:
// callers treat a store error as a miss and carry on.
var ErrCacheStore = errors.New("cache store error")

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// semantic hit.
	DefaultSimilarityThreshold = 0.92

	// DefaultTTL is how long an entry is served after being written.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries caps the cache; exceeding it prunes the oldest
	// ~10% of entries by insertion order.
	DefaultMaxEntries = 10000

	// pruneFraction is the share of entries removed when over the cap.
	pruneFraction = 0.1
)

// HitKind tags how a lookup matched.
type HitKind string

const (
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
)

// Entry is a cached question-answer result.
type Entry struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Sources   []search.Citation `json:"sources"`
	Embedding []float32         `json:"embedding,omitempty"`
	CachedAt  time.Time         `json:"cached_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Hit is a successful lookup with its match kind. Similarity is set for
// semantic hits only.
type Hit struct {
	Entry      Entry
	Kind       HitKind
	Similarity float64
}

// Stats summarizes the cache configuration and occupancy.
type Stats struct {
	Entries             int
	SimilarityThreshold float64
	TTL                 time.Duration
	MaxEntries          int
}

// Cache is the semantic cache contract. Get tries an exact normalized-text
// match first, then a cosine scan over cached embeddings when an embedding
// is supplied; a nil Hit is a miss. Entries expire after the TTL, enforced
// at read time.
type Cache interface {
	Get(ctx context.Context, question string, embedding []float32) (*Hit, error)
	Set(ctx context.Context, entry Entry) error
	Invalidate(ctx context.Context, question string) (bool, error)
	InvalidateAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Key derives the exact-match cache key from the normalized (lower-cased,
// trimmed) question text.
func Key(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// CosineSimilarity computes the cosine similarity of two vectors, 0 when
// either has no magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
