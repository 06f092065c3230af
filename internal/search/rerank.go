package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrRerankUnavailable reports that the relevance model could not be
// loaded. It is logged and degraded around, never surfaced to callers.
var ErrRerankUnavailable = errors.New("reranker unavailable")

// Scorer produces one relevance logit per (query, passage) pair.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// ScorerLoader constructs a Scorer. Loading may be expensive (remote health
// check, model warm-up), so the Reranker calls it at most once.
type ScorerLoader func() (Scorer, error)

// Reranker re-scores fused candidates with a pairwise relevance model. The
// model is loaded lazily on first use; the load outcome, success or
// permanent failure, is cached for the process lifetime. When the model is
// unavailable the stage degrades to truncation of the incoming ranking.
type Reranker struct {
	load   ScorerLoader
	logger *slog.Logger

	once    sync.Once
	scorer  Scorer
	loadErr error
}

// NewReranker creates a reranker. A nil loader means reranking is disabled
// and every call is a pass-through.
func NewReranker(load ScorerLoader, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{load: load, logger: logger}
}

// Rerank re-sorts results by cross-encoder logit descending and truncates
// to topK. Any failure, load or scoring, falls back to truncating the
// incoming order; reranking never aborts the pipeline.
func (r *Reranker) Rerank(ctx context.Context, query string, results []Result, topK int) []Result {
	if len(results) == 0 {
		return results
	}

	scorer := r.scorerOnce()
	if scorer == nil {
		return truncate(results, topK)
	}

	passages := make([]string, len(results))
	for i, res := range results {
		passages[i] = res.Text
	}

	scores, err := scorer.Score(ctx, query, passages)
	if err != nil || len(scores) != len(results) {
		r.logger.Warn("rerank scoring failed, passing through fused order", "error", err)
		return truncate(results, topK)
	}

	reranked := make([]Result, len(results))
	copy(reranked, results)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return truncate(reranked, topK)
}

// scorerOnce resolves the lazy load. Concurrent first-use resolves to a
// single load attempt whose outcome is shared.
func (r *Reranker) scorerOnce() Scorer {
	if r.load == nil {
		return nil
	}
	r.once.Do(func() {
		start := time.Now()
		r.scorer, r.loadErr = r.load()
		if r.loadErr != nil {
			r.logger.Warn("relevance model load failed, reranking disabled",
				"error", fmt.Errorf("%w: %v", ErrRerankUnavailable, r.loadErr))
			return
		}
		r.logger.Info("relevance model loaded", "duration", time.Since(start))
	})
	return r.scorer
}

func truncate(results []Result, topK int) []Result {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// CrossEncoderClient scores (query, passage) pairs against an HTTP
// cross-encoder endpoint (a TEI-style /rerank API).
type CrossEncoderClient struct {
	baseURL string
	http    *http.Client
}

// NewCrossEncoderClient creates a client for the given endpoint and checks
// it is reachable, so that an unreachable scorer is a load failure rather
// than a per-query one.
func NewCrossEncoderClient(baseURL string) (*CrossEncoderClient, error) {
	c := &CrossEncoderClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	resp, err := c.http.Get(baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health returned %d", ErrRerankUnavailable, resp.StatusCode)
	}
	return c, nil
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score sends the pairs to the rerank endpoint and returns logits in input
// order.
func (c *CrossEncoderClient) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank returned %d: %s", resp.StatusCode, payload)
	}

	var items []rerankResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("malformed rerank response: %w", err)
	}

	scores := make([]float64, len(passages))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(scores) {
			return nil, fmt.Errorf("rerank response index %d out of range", item.Index)
		}
		scores[item.Index] = item.Score
	}
	return scores, nil
}
