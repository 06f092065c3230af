// Package search implements the query-side ranking stages: sparse lexical
// scoring, reciprocal rank fusion of dense and sparse results, and
// cross-encoder reranking.
package search

import (
	"fmt"
	"strings"
)

// SnippetLimit is the maximum citation snippet length in characters.
const SnippetLimit = 200

// Result is a retrieved chunk with a relevance score. The meaning of Score
// changes per stage: cosine similarity after dense search, RRF score after
// fusion, cross-encoder logit after reranking.
type Result struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Text         string
	Page         *int // nil for non-paginated formats; 0 is a valid page
	Paragraph    *int
	Score        float64
}

// Citation is the user-facing summary of a Result, built once per answer.
type Citation struct {
	DocumentID      string  `json:"document_id"`
	DocumentName    string  `json:"document_name"`
	PageNumber      *int    `json:"page_number"`
	ParagraphNumber *int    `json:"paragraph_number"`
	TextSnippet     string  `json:"text_snippet"`
	RelevanceScore  float64 `json:"relevance_score"`
}

// NewCitation derives a citation from a result, truncating the snippet to
// SnippetLimit characters with an ellipsis.
func NewCitation(r Result) Citation {
	snippet := r.Text
	if len(snippet) > SnippetLimit {
		snippet = snippet[:SnippetLimit] + "..."
	}
	return Citation{
		DocumentID:      r.DocumentID,
		DocumentName:    r.DocumentName,
		PageNumber:      r.Page,
		ParagraphNumber: r.Paragraph,
		TextSnippet:     snippet,
		RelevanceScore:  r.Score,
	}
}

// Location renders the human-readable provenance of a citation, e.g.
// "Page 3, Paragraph 2". Unknown provenance renders as "Unknown location".
func (c Citation) Location() string {
	var parts []string
	if c.PageNumber != nil {
		parts = append(parts, fmt.Sprintf("Page %d", *c.PageNumber))
	}
	if c.ParagraphNumber != nil {
		parts = append(parts, fmt.Sprintf("Paragraph %d", *c.ParagraphNumber))
	}
	if len(parts) == 0 {
		return "Unknown location"
	}
	return strings.Join(parts, ", ")
}
