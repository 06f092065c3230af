package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knowledgehub/rag-core/internal/cache"
	"github.com/knowledgehub/rag-core/internal/generation"
	"github.com/knowledgehub/rag-core/internal/search"
)

const (
	// DefaultTopK is the number of passages handed to generation.
	DefaultTopK = 5

	// DefaultSearchDepth is how many candidates each retrieval path
	// contributes before fusion.
	DefaultSearchDepth = 20

	// DefaultAlpha weights dense vs sparse contributions in fusion.
	DefaultAlpha = 0.7
)

// Options tune the pipeline. Zero values fall back to the defaults.
type Options struct {
	TopK        int
	SearchDepth int
	Alpha       float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.SearchDepth <= 0 {
		o.SearchDepth = DefaultSearchDepth
	}
	if o.Alpha <= 0 {
		o.Alpha = DefaultAlpha
	}
	return o
}

// Service runs the answer pipeline. It is stateless per request; the
// shared pieces are the vector store, the cache store and the reranker's
// lazily-loaded model.
type Service struct {
	embedder  Embedder
	dense     DenseIndex
	chunks    ChunkSource
	reranker  *search.Reranker
	generator Generator
	cache     cache.Cache // nil disables caching
	sink      RecordSink  // nil disables the persistence handoff
	opts      Options
	logger    *slog.Logger
}

// NewService wires the pipeline dependencies.
func NewService(
	embedder Embedder,
	dense DenseIndex,
	chunks ChunkSource,
	reranker *search.Reranker,
	generator Generator,
	responseCache cache.Cache,
	sink RecordSink,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		dense:     dense,
		chunks:    chunks,
		reranker:  reranker,
		generator: generator,
		cache:     responseCache,
		sink:      sink,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Ask answers a question end to end. Latency accounting includes the cache
// lookup.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	return s.ask(ctx, req, nil)
}

// AskStream behaves like Ask but delivers the generated answer
// incrementally on out, which is closed before AskStream returns. When the
// caller cancels the context mid-stream, nothing is persisted or cached.
func (s *Service) AskStream(ctx context.Context, req Request, out chan<- generation.Fragment) (*Answer, error) {
	return s.ask(ctx, req, out)
}

func (s *Service) ask(ctx context.Context, req Request, stream chan<- generation.Fragment) (*Answer, error) {
	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// Exact-text cache lookup first: it needs no embedding call.
	if hit := s.cacheGet(ctx, req.Question, nil); hit != nil {
		return s.cachedAnswer(req, sessionID, hit, start, stream), nil
	}

	// The question embedding serves both the semantic cache lookup and
	// dense search. An embedding failure degrades to sparse-only search.
	vector, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		s.logger.Warn("question embedding failed, dense search skipped", "error", err)
		vector = nil
	}

	if vector != nil {
		if hit := s.cacheGet(ctx, req.Question, vector); hit != nil {
			return s.cachedAnswer(req, sessionID, hit, start, stream), nil
		}
	}

	fused, err := s.hybridSearch(ctx, req, vector)
	if err != nil {
		s.closeStream(stream)
		return nil, err
	}

	if len(fused) == 0 {
		// Short-circuit: no generation, no cache write.
		answer := &Answer{
			QAID:      "",
			SessionID: sessionID,
			Question:  req.Question,
			Text:      NoDocumentsAnswer,
			Citations: []search.Citation{},
			ModelName: s.generator.Model(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if stream != nil {
			stream <- generation.Fragment{Text: answer.Text}
			stream <- generation.Fragment{Done: true}
			close(stream)
		}
		return answer, nil
	}

	reranked := s.reranker.Rerank(ctx, req.Question, fused, s.opts.TopK)
	contextBlock, citations := BuildContext(reranked)
	prompt := BuildPrompt(req.Question, contextBlock)

	var text string
	if stream != nil {
		text, err = s.generator.GenerateStream(ctx, prompt, stream)
	} else {
		text, err = s.generator.Generate(ctx, prompt)
	}
	if err != nil {
		// Fatal to this question; nothing partial is persisted or cached.
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	record := &QARecord{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		Owner:           req.Owner,
		Question:        req.Question,
		Answer:          text,
		Citations:       citations,
		ContextChunkIDs: chunkIDs(reranked),
		ModelName:       s.generator.Model(),
		LatencyMS:       latency,
		CreatedAt:       time.Now().UTC(),
	}
	if s.sink != nil {
		if err := s.sink.Save(ctx, record); err != nil {
			s.logger.Warn("record persistence failed", "qa_id", record.ID, "error", err)
		}
	}

	s.cacheSet(ctx, cache.Entry{
		Question:  req.Question,
		Answer:    text,
		Sources:   citations,
		Embedding: vector,
		Metadata:  map[string]string{"model": s.generator.Model()},
	})

	return &Answer{
		QAID:      record.ID,
		SessionID: sessionID,
		Question:  req.Question,
		Text:      text,
		Citations: citations,
		ModelName: s.generator.Model(),
		LatencyMS: latency,
	}, nil
}

// hybridSearch runs dense and sparse retrieval concurrently and fuses the
// rankings. Either path may degrade to empty on failure; only both failing
// is an error.
func (s *Service) hybridSearch(ctx context.Context, req Request, vector []float32) ([]search.Result, error) {
	var dense, sparse []search.Result
	var denseErr, sparseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if vector == nil {
			denseErr = errors.New("no question embedding")
			return nil
		}
		dense, denseErr = s.dense.Query(gctx, vector, s.opts.SearchDepth, req.Owner)
		return nil
	})
	g.Go(func() error {
		corpus, err := s.chunks.VisibleChunks(gctx, req.Owner)
		if err != nil {
			sparseErr = err
			return nil
		}
		sparse = search.NewSparseIndex(corpus).Search(req.Question, s.opts.SearchDepth)
		return nil
	})
	_ = g.Wait()

	if denseErr != nil && sparseErr != nil {
		return nil, fmt.Errorf("search failed: dense: %v; sparse: %w", denseErr, sparseErr)
	}
	if denseErr != nil {
		s.logger.Warn("dense search unavailable, using sparse results only", "error", denseErr)
	}
	if sparseErr != nil {
		s.logger.Warn("sparse search unavailable, using dense results only", "error", sparseErr)
	}

	return search.Fuse(dense, sparse, s.opts.Alpha, s.opts.SearchDepth), nil
}

// cacheGet is best-effort: store failures count as misses.
func (s *Service) cacheGet(ctx context.Context, question string, vector []float32) *cache.Hit {
	if s.cache == nil {
		return nil
	}
	hit, err := s.cache.Get(ctx, question, vector)
	if err != nil {
		s.logger.Warn("cache lookup failed", "error", err)
		return nil
	}
	return hit
}

// cacheSet is best-effort: a failed write only forfeits the speed benefit.
func (s *Service) cacheSet(ctx context.Context, entry cache.Entry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.logger.Warn("cache write failed", "error", err)
	}
}

func (s *Service) cachedAnswer(req Request, sessionID string, hit *cache.Hit, start time.Time, stream chan<- generation.Fragment) *Answer {
	answer := &Answer{
		SessionID:  sessionID,
		Question:   req.Question,
		Text:       hit.Entry.Answer,
		Citations:  hit.Entry.Sources,
		ModelName:  s.generator.Model(),
		LatencyMS:  time.Since(start).Milliseconds(),
		Cached:     true,
		CacheKind:  string(hit.Kind),
		Similarity: hit.Similarity,
	}
	if stream != nil {
		stream <- generation.Fragment{Text: answer.Text}
		stream <- generation.Fragment{Done: true}
		close(stream)
	}
	return answer
}

func (s *Service) closeStream(stream chan<- generation.Fragment) {
	if stream != nil {
		close(stream)
	}
}

func chunkIDs(results []search.Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}
