// Package vectorstore provides the dense index adapter: nearest-neighbor
// retrieval over chunk embeddings, scoped to an owner visibility filter.
package vectorstore

import (
	"context"

	"github.com/knowledgehub/rag-core/internal/search"
)

// Point is one chunk embedding with its retrieval payload.
type Point struct {
	ID           string
	Vector       []float32
	Text         string
	DocumentID   string
	DocumentName string
	Owner        string // visibility tag, used as an equality filter
	ChunkIndex   int
	Page         *int
	Paragraph    *int
}

// Store is the dense index contract. Query returns results ordered by
// similarity descending. Deleting ids that do not exist is a no-op.
type Store interface {
	Upsert(ctx context.Context, points []Point) error
	Query(ctx context.Context, vector []float32, topK int, owner string) ([]search.Result, error)
	Delete(ctx context.Context, ids []string) error
}
