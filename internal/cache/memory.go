package cache

import (
	"context"
	"math"
	"sync"
	"time"
)

// Memory is an in-process Cache for tests and single-node runs. Insertion
// order is tracked explicitly so the write-side prune can evict the oldest
// entries first.
type Memory struct {
	threshold  float64
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]Entry // key -> entry
	order   []string         // keys in insertion order
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for TTL tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithLimits overrides the TTL and the maximum entry count.
func WithLimits(ttl time.Duration, maxEntries int) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
		m.maxEntries = maxEntries
	}
}

// WithThreshold overrides the semantic similarity threshold.
func WithThreshold(threshold float64) MemoryOption {
	return func(m *Memory) { m.threshold = threshold }
}

// NewMemory creates an in-memory semantic cache with the default
// threshold, TTL and size limit.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		threshold:  DefaultSimilarityThreshold,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		entries:    make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, question string, embedding []float32) (*Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Exact match on the normalized-text hash first.
	if entry, ok := m.entries[Key(question)]; ok {
		if m.fresh(entry) {
			return &Hit{Entry: entry, Kind: HitExact}, nil
		}
	}

	if embedding == nil {
		return nil, nil
	}

	// Semantic scan: best similarity above threshold wins; the first seen
	// entry keeps a tie.
	var best *Entry
	bestSimilarity := 0.0
	for _, key := range m.order {
		entry, ok := m.entries[key]
		if !ok || len(entry.Embedding) == 0 || !m.fresh(entry) {
			continue
		}
		similarity := CosineSimilarity(embedding, entry.Embedding)
		if similarity >= m.threshold && similarity > bestSimilarity {
			bestSimilarity = similarity
			e := entry
			best = &e
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Hit{Entry: *best, Kind: HitSemantic, Similarity: bestSimilarity}, nil
}

func (m *Memory) Set(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.CachedAt.IsZero() {
		entry.CachedAt = m.now()
	}

	key := Key(entry.Question)
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = entry

	m.pruneLocked()
	return nil
}

// pruneLocked removes the oldest ~10% of entries, by insertion order, when
// the cache is over its limit. Not LRU: access does not refresh position.
func (m *Memory) pruneLocked() {
	if len(m.entries) <= m.maxEntries {
		return
	}
	toRemove := int(math.Ceil(float64(len(m.entries)) * pruneFraction))
	for i := 0; i < toRemove && len(m.order) > 0; i++ {
		key := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, key)
	}
}

func (m *Memory) Invalidate(_ context.Context, question string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(question)
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) InvalidateAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.entries)
	m.entries = make(map[string]Entry)
	m.order = nil
	return count, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Entries:             len(m.entries),
		SimilarityThreshold: m.threshold,
		TTL:                 m.ttl,
		MaxEntries:          m.maxEntries,
	}, nil
}

func (m *Memory) fresh(entry Entry) bool {
	return m.now().Sub(entry.CachedAt) < m.ttl
}
