package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/knowledgehub/rag-core/internal/search"
)

// Memory is an in-process Store for tests and single-node runs. It keeps
// points in a slice and scans with cosine similarity.
type Memory struct {
	mu     sync.RWMutex
	points []Point
	index  map[string]int // id -> position in points
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if pos, ok := m.index[p.ID]; ok {
			m.points[pos] = p
			continue
		}
		m.index[p.ID] = len(m.points)
		m.points = append(m.points, p)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int, owner string) ([]search.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []search.Result
	for _, p := range m.points {
		if owner != "" && p.Owner != owner {
			continue
		}
		results = append(results, search.Result{
			ChunkID:      p.ID,
			DocumentID:   p.DocumentID,
			DocumentName: p.DocumentName,
			Text:         p.Text,
			Page:         p.Page,
			Paragraph:    p.Paragraph,
			Score:        cosineSimilarity(vector, p.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// VisibleChunks returns every stored chunk visible to the owner, in
// insertion order.
func (m *Memory) VisibleChunks(_ context.Context, owner string) ([]search.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []search.Chunk
	for _, p := range m.points {
		if owner != "" && p.Owner != owner {
			continue
		}
		chunks = append(chunks, search.Chunk{
			ChunkID:      p.ID,
			DocumentID:   p.DocumentID,
			DocumentName: p.DocumentName,
			Text:         p.Text,
			Page:         p.Page,
			Paragraph:    p.Paragraph,
		})
	}
	return chunks, nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := m.points[:0]
	for _, p := range m.points {
		if _, ok := drop[p.ID]; !ok {
			kept = append(kept, p)
		}
	}
	m.points = kept

	m.index = make(map[string]int, len(m.points))
	for i, p := range m.points {
		m.index[p.ID] = i
	}
	return nil
}

// Len reports the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosineSimilarity(a, b []float32) float64 {
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
