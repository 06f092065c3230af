// Package answer orchestrates the question pipeline: cache lookup, hybrid
// search, fusion, reranking, context assembly, generation, and the handoff
// of the finished record to the persistence collaborator.
package answer

import (
	"context"
	"time"

	"github.com/knowledgehub/rag-core/internal/generation"
	"github.com/knowledgehub/rag-core/internal/search"
)

// Request is one question scoped to an owner's visible documents.
type Request struct {
	Question  string
	Owner     string
	SessionID string // generated when empty
}

// Answer is the completed response for a request.
type Answer struct {
	QAID       string
	SessionID  string
	Question   string
	Text       string
	Citations  []search.Citation
	ModelName  string
	LatencyMS  int64
	Cached     bool
	CacheKind  string  // "exact" or "semantic" when Cached
	Similarity float64 // set for semantic cache hits
}

// QARecord is the value handed to the external persistence collaborator,
// one per completed question. The collaborator owns storage, pagination
// and feedback attachment.
type QARecord struct {
	ID              string
	SessionID       string
	Owner           string
	Question        string
	Answer          string
	Citations       []search.Citation
	ContextChunkIDs []string
	ModelName       string
	LatencyMS       int64
	CreatedAt       time.Time
}

// Embedder converts a question into its dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DenseIndex is the dense retrieval dependency (the vector store).
type DenseIndex interface {
	Query(ctx context.Context, vector []float32, topK int, owner string) ([]search.Result, error)
}

// ChunkSource reads the owner-visible chunk set from the external
// document/chunk store; the sparse index is rebuilt from it per query.
type ChunkSource interface {
	VisibleChunks(ctx context.Context, owner string) ([]search.Chunk, error)
}

// Generator produces the final answer text from the assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, out chan<- generation.Fragment) (string, error)
	Model() string
}

// RecordSink receives finished QA records. Storage is the collaborator's
// concern; a sink failure forfeits history, not the answer.
type RecordSink interface {
	Save(ctx context.Context, record *QARecord) error
}
