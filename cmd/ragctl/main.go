// Package main provides the ragctl CLI for the knowledge hub retrieval
// pipeline: document ingestion, question answering and cache management.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/knowledgehub/rag-core/internal/answer"
	"github.com/knowledgehub/rag-core/internal/cache"
	"github.com/knowledgehub/rag-core/internal/chunker"
	"github.com/knowledgehub/rag-core/internal/config"
	"github.com/knowledgehub/rag-core/internal/embedding"
	"github.com/knowledgehub/rag-core/internal/generation"
	"github.com/knowledgehub/rag-core/internal/ingest"
	"github.com/knowledgehub/rag-core/internal/search"
	"github.com/knowledgehub/rag-core/internal/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Knowledge hub retrieval pipeline tool",
	Long: `CLI for the knowledge hub retrieval pipeline.

Environment variables (see internal/config for the full list):
  QDRANT_HOST          Qdrant hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  REDIS_ADDR           Redis address for the semantic cache (default: in-process)
  OPENAI_API_KEY       API key for embeddings and generation
  EMBEDDING_BASE_URL   OpenAI-compatible embedding endpoint (optional)
  GENERATION_BASE_URL  OpenAI-compatible chat endpoint (optional)
  RERANKER_URL         Cross-encoder service URL (empty disables reranking)`,
}

var (
	askOwner  string
	askStream bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question over the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var ingestOwner string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Extract, chunk, embed and index documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the semantic response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache occupancy and limits",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached response",
	RunE:  runCacheClear,
}

func init() {
	askCmd.Flags().StringVar(&askOwner, "owner", "", "restrict search to this owner's documents")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "stream the answer as it is generated")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner tag for the ingested documents")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(askCmd, ingestCmd, cacheCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack bundles the wired pipeline components a command needs.
type stack struct {
	cfg      *config.Config
	store    *vectorstore.Qdrant
	cache    cache.Cache
	embedder *embedding.Embedder
	logger   *slog.Logger
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg := config.Load()
	logger := slog.Default()

	store, err := vectorstore.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	embeddingClient, err := embedding.NewClient(cfg.EmbeddingBaseURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, cfg.EmbeddingModel, 0)

	var responseCache cache.Cache
	if cfg.RedisAddr != "" {
		responseCache, err = cache.NewRedis(cfg.RedisAddr, cfg.CacheSimilarityThreshold, cfg.CacheTTL, cfg.CacheMaxEntries)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	} else {
		responseCache = cache.NewMemory(
			cache.WithThreshold(cfg.CacheSimilarityThreshold),
			cache.WithLimits(cfg.CacheTTL, cfg.CacheMaxEntries),
		)
	}

	return &stack{
		cfg:      cfg,
		store:    store,
		cache:    responseCache,
		embedder: embedder,
		logger:   logger,
	}, nil
}

func (s *stack) reranker() *search.Reranker {
	if s.cfg.RerankerURL == "" {
		return search.NewReranker(nil, s.logger)
	}
	url := s.cfg.RerankerURL
	return search.NewReranker(func() (search.Scorer, error) {
		return search.NewCrossEncoderClient(url)
	}, s.logger)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.store.Close()

	generator, err := generation.NewClient(s.cfg.GenerationModel, s.cfg.GenerationBaseURL)
	if err != nil {
		return fmt.Errorf("create generation client: %w", err)
	}

	service := answer.NewService(
		s.embedder,
		s.store,
		s.store,
		s.reranker(),
		generator,
		s.cache,
		nil,
		answer.Options{
			TopK:        s.cfg.TopK,
			SearchDepth: s.cfg.SearchDepth,
			Alpha:       s.cfg.FusionAlpha,
		},
		s.logger,
	)

	req := answer.Request{Question: args[0], Owner: askOwner}

	var result *answer.Answer
	if askStream {
		out := make(chan generation.Fragment, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for frag := range out {
				if !frag.Done {
					fmt.Print(frag.Text)
				}
			}
			fmt.Println()
		}()
		result, err = service.AskStream(ctx, req, out)
		<-done
	} else {
		result, err = service.Ask(ctx, req)
		if err == nil {
			fmt.Println(result.Text)
		}
	}
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if result.Cached {
		fmt.Printf("\n(cached: %s", result.CacheKind)
		if result.CacheKind == string(cache.HitSemantic) {
			fmt.Printf(", similarity %.3f", result.Similarity)
		}
		fmt.Println(")")
	}
	if len(result.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, c := range result.Citations {
			fmt.Printf("  %d. %s (%s)\n", i+1, c.DocumentName, c.Location())
		}
	}
	fmt.Printf("\nLatency: %dms\n", result.LatencyMS)

	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.store.Close()

	docs := make([]ingest.Document, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, ingest.Document{
			Name:     filepath.Base(path),
			FileType: strings.TrimPrefix(filepath.Ext(path), "."),
			Owner:    ingestOwner,
			Content:  content,
		})
	}

	ch := chunker.New(s.cfg.ChunkMaxTokens, s.cfg.ChunkOverlapTokens, nil)
	pipeline := ingest.NewPipeline(ch, s.embedder, s.store, nil, s.logger)

	result := pipeline.ProcessAll(ctx, docs)

	fmt.Printf("Ingested %d/%d documents, %d chunks in %s\n",
		result.SuccessfulDocs, result.TotalDocs, result.TotalChunks,
		time.Since(start).Round(time.Millisecond))
	for _, failed := range result.FailedDocs {
		fmt.Printf("  failed: %s: %s\n", failed.Name, failed.Reason)
	}

	return nil
}

// cacheOnly builds just the cache client; the cache commands have no use
// for qdrant or the model clients.
func cacheOnly() (cache.Cache, *config.Config, error) {
	cfg := config.Load()
	if cfg.RedisAddr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDR is not set; the in-process cache has no state to manage")
	}
	c, err := cache.NewRedis(cfg.RedisAddr, cfg.CacheSimilarityThreshold, cfg.CacheTTL, cfg.CacheMaxEntries)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return c, cfg, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, _, err := cacheOnly()
	if err != nil {
		return err
	}

	stats, err := c.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}

	fmt.Printf("Entries:   %d / %d\n", stats.Entries, stats.MaxEntries)
	fmt.Printf("TTL:       %s\n", stats.TTL)
	fmt.Printf("Threshold: %.2f\n", stats.SimilarityThreshold)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, _, err := cacheOnly()
	if err != nil {
		return err
	}

	removed, err := c.InvalidateAll(context.Background())
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	fmt.Printf("Removed %d cached responses\n", removed)
	return nil
}
