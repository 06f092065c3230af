package search

import (
	"math"
	"sort"
	"strings"
)

// BM25 parameters, matching the usual Okapi defaults.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25 // floor factor for negative IDF values
)

// Chunk is one visible corpus entry for sparse scoring.
type Chunk struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Text         string
	Page         *int
	Paragraph    *int
}

// SparseIndex is a BM25 lexical index over a chunk corpus. It is built
// fresh per query scope: the corpus mutates frequently relative to query
// volume, so nothing lexical is kept across queries.
type SparseIndex struct {
	corpus    []Chunk
	termFreqs []map[string]int
	docLens   []int
	avgLen    float64
	idf       map[string]float64
}

// NewSparseIndex builds the index over the visible chunk set.
func NewSparseIndex(corpus []Chunk) *SparseIndex {
	idx := &SparseIndex{
		corpus:    corpus,
		termFreqs: make([]map[string]int, len(corpus)),
		docLens:   make([]int, len(corpus)),
		idf:       make(map[string]float64),
	}

	df := make(map[string]int)
	totalLen := 0
	for i, chunk := range corpus {
		tokens := tokenize(chunk.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for tok := range tf {
			df[tok]++
		}
	}
	if len(corpus) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(corpus))
	}

	// Okapi IDF can go negative for terms in most documents; those are
	// floored to a fraction of the average IDF instead.
	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for term, freq := range df {
		idf := math.Log((n - float64(freq) + 0.5) / (float64(freq) + 0.5))
		idx.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(df) > 0 {
		floor := bm25Epsilon * idfSum / float64(len(df))
		for _, term := range negative {
			idx.idf[term] = floor
		}
	}

	return idx
}

// Search scores the query against every corpus chunk, keeps scores > 0 and
// returns the topK by descending score. Ties keep corpus order (stable
// sort); this is intentional, there is no secondary key.
func (idx *SparseIndex) Search(query string, topK int) []Result {
	if len(idx.corpus) == 0 {
		return nil
	}

	queryTokens := tokenize(query)
	scores := make([]float64, len(idx.corpus))
	for i := range idx.corpus {
		scores[i] = idx.score(queryTokens, i)
	}

	order := make([]int, len(idx.corpus))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var results []Result
	for _, i := range order {
		if len(results) >= topK {
			break
		}
		if scores[i] <= 0 {
			continue
		}
		chunk := idx.corpus[i]
		results = append(results, Result{
			ChunkID:      chunk.ChunkID,
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			Text:         chunk.Text,
			Page:         chunk.Page,
			Paragraph:    chunk.Paragraph,
			Score:        scores[i],
		})
	}
	return results
}

func (idx *SparseIndex) score(queryTokens []string, doc int) float64 {
	tf := idx.termFreqs[doc]
	dl := float64(idx.docLens[doc])

	var score float64
	for _, tok := range queryTokens {
		freq, ok := tf[tok]
		if !ok {
			continue
		}
		f := float64(freq)
		score += idx.idf[tok] * (f * (bm25K1 + 1)) /
			(f + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
	}
	return score
}

// tokenize lower-cases and splits on whitespace. No stemming.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
