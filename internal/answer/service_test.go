package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgehub/rag-core/internal/cache"
	"github.com/knowledgehub/rag-core/internal/generation"
	"github.com/knowledgehub/rag-core/internal/search"
	"github.com/knowledgehub/rag-core/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeChunkSource struct {
	chunks []search.Chunk
	err    error
}

func (f *fakeChunkSource) VisibleChunks(_ context.Context, _ string) ([]search.Chunk, error) {
	return f.chunks, f.err
}

type fakeGenerator struct {
	answer string
	err    error

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, out chan<- generation.Fragment) (string, error) {
	defer close(out)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for _, word := range strings.SplitAfter(f.answer, " ") {
		out <- generation.Fragment{Text: word}
	}
	out <- generation.Fragment{Done: true}
	return f.answer, nil
}

func (f *fakeGenerator) Model() string { return "test-model" }

func (f *fakeGenerator) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeSink struct {
	mu      sync.Mutex
	records []*QARecord
	err     error
}

func (f *fakeSink) Save(_ context.Context, record *QARecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func intPtr(v int) *int { return &v }

// leaveCorpus holds two passages about annual leave, one from a paginated
// PDF and one from a plain text file, plus unrelated filler documents.
func leaveCorpus() []search.Chunk {
	return []search.Chunk{
		{
			ChunkID:      "pdf-chunk",
			DocumentID:   "doc-pdf",
			DocumentName: "handbook.pdf",
			Text:         "Employees receive 25 vacation days of annual leave per year.",
			Page:         intPtr(3),
		},
		{
			ChunkID:      "txt-chunk",
			DocumentID:   "doc-txt",
			DocumentName: "policy.txt",
			Text:         "Annual leave accrues monthly; vacation days carry over up to five.",
		},
		{ChunkID: "f1", DocumentID: "doc-f1", DocumentName: "setup.md", Text: "Install the toolchain before building the project."},
		{ChunkID: "f2", DocumentID: "doc-f2", DocumentName: "setup.md", Text: "Run the formatter on every commit."},
		{ChunkID: "f3", DocumentID: "doc-f3", DocumentName: "ops.md", Text: "Rotate credentials quarterly per the security checklist."},
		{ChunkID: "f4", DocumentID: "doc-f4", DocumentName: "ops.md", Text: "Escalate incidents through the on-call rotation."},
	}
}

func seededDense(t *testing.T) *vectorstore.Memory {
	t.Helper()
	store := vectorstore.NewMemory()
	err := store.Upsert(context.Background(), []vectorstore.Point{
		{
			ID:           "pdf-chunk",
			Vector:       []float32{0.9, 0.1, 0},
			Text:         "Employees receive 25 vacation days of annual leave per year.",
			DocumentID:   "doc-pdf",
			DocumentName: "handbook.pdf",
			Owner:        "alice",
			Page:         intPtr(3),
		},
		{
			ID:           "txt-chunk",
			Vector:       []float32{0.8, 0.2, 0},
			Text:         "Annual leave accrues monthly; vacation days carry over up to five.",
			DocumentID:   "doc-txt",
			DocumentName: "policy.txt",
			Owner:        "alice",
		},
	})
	require.NoError(t, err)
	return store
}

func newTestService(embedder Embedder, dense DenseIndex, chunks ChunkSource, gen Generator, c cache.Cache, sink RecordSink) *Service {
	return NewService(embedder, dense, chunks, search.NewReranker(nil, nil), gen, c, sink, Options{}, nil)
}

func TestAsk_HybridSearchCitesBothDocuments(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{answer: "You get 25 vacation days [Source 1]."}
	sink := &fakeSink{}
	responseCache := cache.NewMemory()
	svc := newTestService(embedder, seededDense(t), &fakeChunkSource{chunks: leaveCorpus()}, gen, responseCache, sink)

	answer, err := svc.Ask(context.Background(), Request{Question: "how many vacation days", Owner: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "You get 25 vacation days [Source 1].", answer.Text)
	assert.False(t, answer.Cached)
	assert.NotEmpty(t, answer.QAID)
	assert.NotEmpty(t, answer.SessionID)
	assert.Equal(t, "test-model", answer.ModelName)

	names := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		names = append(names, c.DocumentName)
	}
	assert.Contains(t, names, "handbook.pdf")
	assert.Contains(t, names, "policy.txt")

	for _, c := range answer.Citations {
		switch c.DocumentName {
		case "handbook.pdf":
			require.NotNil(t, c.PageNumber)
			assert.Equal(t, 3, *c.PageNumber)
		case "policy.txt":
			assert.Nil(t, c.PageNumber)
		}
	}

	// The prompt carries both passages as numbered sources.
	require.Equal(t, 1, gen.promptCount())
	assert.Contains(t, gen.prompts[0], "handbook.pdf, Page 3")
	assert.Contains(t, gen.prompts[0], "policy.txt, Unknown location")
	assert.Contains(t, gen.prompts[0], "Question: how many vacation days")

	// One record handed to persistence with the context chunk IDs.
	require.Len(t, sink.records, 1)
	assert.Equal(t, "alice", sink.records[0].Owner)
	assert.Contains(t, sink.records[0].ContextChunkIDs, "pdf-chunk")
	assert.Contains(t, sink.records[0].ContextChunkIDs, "txt-chunk")

	// The answer is now cached for an identical question.
	stats, err := responseCache.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
}

func TestAsk_EmptyCorpusShortCircuits(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{answer: "unused"}
	sink := &fakeSink{}
	responseCache := cache.NewMemory()
	svc := newTestService(embedder, vectorstore.NewMemory(), &fakeChunkSource{}, gen, responseCache, sink)

	answer, err := svc.Ask(context.Background(), Request{Question: "anything at all"})
	require.NoError(t, err)

	assert.Equal(t, NoDocumentsAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Empty(t, answer.QAID)

	// No generation, no persistence, and no cache write: an empty corpus
	// must not pin a permanent negative answer.
	assert.Zero(t, gen.promptCount())
	assert.Empty(t, sink.records)
	stats, err := responseCache.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestAsk_ExactCacheHitSkipsPipeline(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{answer: "unused"}
	responseCache := cache.NewMemory()
	require.NoError(t, responseCache.Set(context.Background(), cache.Entry{
		Question: "What is the refund window?",
		Answer:   "Thirty days.",
		Sources:  []search.Citation{{DocumentName: "refunds.md"}},
	}))

	svc := newTestService(embedder, vectorstore.NewMemory(), &fakeChunkSource{}, gen, responseCache, &fakeSink{})

	// Same question up to case and surrounding whitespace.
	answer, err := svc.Ask(context.Background(), Request{Question: "  what is the refund window?  "})
	require.NoError(t, err)

	assert.True(t, answer.Cached)
	assert.Equal(t, string(cache.HitExact), answer.CacheKind)
	assert.Equal(t, "Thirty days.", answer.Text)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "refunds.md", answer.Citations[0].DocumentName)

	// Exact hits spend no embedding or generation calls.
	assert.Zero(t, embedder.calls)
	assert.Zero(t, gen.promptCount())
}

func TestAsk_SemanticCacheHit(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.95, 0.31224989991992, 0}}
	gen := &fakeGenerator{answer: "unused"}
	responseCache := cache.NewMemory()
	require.NoError(t, responseCache.Set(context.Background(), cache.Entry{
		Question:  "how many vacation days do I get",
		Answer:    "25 days.",
		Embedding: []float32{1, 0, 0},
	}))

	svc := newTestService(embedder, vectorstore.NewMemory(), &fakeChunkSource{}, gen, responseCache, &fakeSink{})

	answer, err := svc.Ask(context.Background(), Request{Question: "what is my annual leave allowance"})
	require.NoError(t, err)

	assert.True(t, answer.Cached)
	assert.Equal(t, string(cache.HitSemantic), answer.CacheKind)
	assert.InDelta(t, 0.95, answer.Similarity, 1e-6)
	assert.Equal(t, "25 days.", answer.Text)
	assert.Zero(t, gen.promptCount())
}

func TestAsk_EmbeddingFailureDegradesToSparseOnly(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	gen := &fakeGenerator{answer: "Annual leave is 25 days [Source 1]."}
	svc := newTestService(embedder, vectorstore.NewMemory(), &fakeChunkSource{chunks: leaveCorpus()}, gen, cache.NewMemory(), &fakeSink{})

	answer, err := svc.Ask(context.Background(), Request{Question: "how many vacation days"})
	require.NoError(t, err)

	assert.Equal(t, "Annual leave is 25 days [Source 1].", answer.Text)
	assert.NotEmpty(t, answer.Citations)
	assert.Equal(t, 1, gen.promptCount())
}

func TestAsk_BothSearchPathsFailing(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	chunks := &fakeChunkSource{err: errors.New("chunk store down")}
	svc := newTestService(embedder, vectorstore.NewMemory(), chunks, &fakeGenerator{}, nil, nil)

	answer, err := svc.Ask(context.Background(), Request{Question: "anything"})
	require.Error(t, err)
	assert.Nil(t, answer)
	assert.Contains(t, err.Error(), "search failed")
}

func TestAsk_GenerationFailureIsFatalAndUncached(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{err: errors.New("model backend unavailable")}
	sink := &fakeSink{}
	responseCache := cache.NewMemory()
	svc := newTestService(embedder, seededDense(t), &fakeChunkSource{chunks: leaveCorpus()}, gen, responseCache, sink)

	answer, err := svc.Ask(context.Background(), Request{Question: "how many vacation days"})
	require.Error(t, err)
	assert.Nil(t, answer)

	assert.Empty(t, sink.records)
	stats, statsErr := responseCache.Stats(context.Background())
	require.NoError(t, statsErr)
	assert.Zero(t, stats.Entries)
}

func TestAsk_SinkFailureDoesNotFailAnswer(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{answer: "25 days."}
	sink := &fakeSink{err: errors.New("database unavailable")}
	svc := newTestService(embedder, seededDense(t), &fakeChunkSource{chunks: leaveCorpus()}, gen, cache.NewMemory(), sink)

	answer, err := svc.Ask(context.Background(), Request{Question: "how many vacation days"})
	require.NoError(t, err)
	assert.Equal(t, "25 days.", answer.Text)
}

func TestAskStream_DeliversFragmentsAndCloses(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	gen := &fakeGenerator{answer: "You get 25 days."}
	svc := newTestService(embedder, seededDense(t), &fakeChunkSource{chunks: leaveCorpus()}, gen, cache.NewMemory(), &fakeSink{})

	out := make(chan generation.Fragment, 16)
	answer, err := svc.AskStream(context.Background(), Request{Question: "how many vacation days"}, out)
	require.NoError(t, err)

	var text strings.Builder
	var done bool
	for frag := range out {
		if frag.Done {
			done = true
			continue
		}
		text.WriteString(frag.Text)
	}
	assert.True(t, done)
	assert.Equal(t, "You get 25 days.", text.String())
	assert.Equal(t, "You get 25 days.", answer.Text)
}

func TestAskStream_EmptyCorpusStreamsFixedAnswer(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	responseCache := cache.NewMemory()
	svc := newTestService(embedder, vectorstore.NewMemory(), &fakeChunkSource{}, &fakeGenerator{}, responseCache, &fakeSink{})

	out := make(chan generation.Fragment, 4)
	answer, err := svc.AskStream(context.Background(), Request{Question: "anything"}, out)
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsAnswer, answer.Text)

	var fragments []generation.Fragment
	for frag := range out {
		fragments = append(fragments, frag)
	}
	require.Len(t, fragments, 2)
	assert.Equal(t, NoDocumentsAnswer, fragments[0].Text)
	assert.True(t, fragments[1].Done)

	stats, err := responseCache.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}
