// Package chunker splits extracted document text into token-bounded,
// overlap-linked passages while preserving page/paragraph provenance.
package chunker

import (
	"strings"
)

const (
	// DefaultMaxTokens is the chunk token budget.
	DefaultMaxTokens = 512

	// DefaultOverlapTokens is the maximum size of the overlap carried from
	// one chunk into the next.
	DefaultOverlapTokens = 128
)

// Segment is one extracted unit of document text (typically a paragraph)
// with optional provenance. Page is nil for non-paginated formats.
type Segment struct {
	Text      string
	Page      *int
	Paragraph *int
}

// Chunk is a token-bounded passage produced from a sequence of segments.
// Page and Paragraph are the tags of the last segment that contributed.
type Chunk struct {
	Text       string
	TokenCount int
	Page       *int
	Paragraph  *int
}

// TokenCounter reports the token count of a text. The default counts
// whitespace-separated words, which tracks embedding-model tokenization
// closely enough for budgeting purposes.
type TokenCounter func(text string) int

// WordCount is the default TokenCounter.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Chunker accumulates segments into chunks within a token budget.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	countTokens   TokenCounter
}

// New creates a chunker. Non-positive maxTokens or overlapTokens fall back
// to the defaults; a nil counter falls back to WordCount.
func New(maxTokens, overlapTokens int, counter TokenCounter) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}
	if counter == nil {
		counter = WordCount
	}
	return &Chunker{
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		countTokens:   counter,
	}
}

// Chunk greedily accumulates segments into chunks. When adding the next
// segment would exceed the budget, the buffer is flushed and the next buffer
// is seeded with the last accumulated segment if it fits within the overlap
// budget. A single segment larger than the budget is flushed separately and
// split at sentence boundaries; a sentence is never split further, so the
// final sub-chunk of an over-long sentence may exceed the budget.
func (c *Chunker) Chunk(segments []Segment) []Chunk {
	var chunks []Chunk
	var buf []string
	bufTokens := 0
	var page, paragraph *int

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:       strings.Join(buf, " "),
			TokenCount: bufTokens,
			Page:       page,
			Paragraph:  paragraph,
		})
		buf = nil
		bufTokens = 0
	}

	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		tokens := c.countTokens(seg.Text)

		// Oversized segments are flushed separately and sentence-split.
		if tokens > c.maxTokens {
			flush()
			chunks = append(chunks, c.splitLarge(seg)...)
			continue
		}

		if bufTokens+tokens > c.maxTokens && len(buf) > 0 {
			last := buf[len(buf)-1]
			lastTokens := c.countTokens(last)
			flush()
			if lastTokens <= c.overlapTokens {
				buf = []string{last}
				bufTokens = lastTokens
			}
		}

		buf = append(buf, seg.Text)
		bufTokens += tokens
		page = seg.Page
		paragraph = seg.Paragraph
	}

	flush()
	return chunks
}

// splitLarge splits a segment that exceeds the budget at sentence boundaries.
// The terminators . ! ? are treated as one class.
func (c *Chunker) splitLarge(seg Segment) []Chunk {
	normalized := strings.NewReplacer("!", ".", "?", ".").Replace(seg.Text)
	sentences := strings.Split(normalized, ".")

	var chunks []Chunk
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:       strings.Join(buf, ". ") + ".",
			TokenCount: bufTokens,
			Page:       seg.Page,
			Paragraph:  seg.Paragraph,
		})
		buf = nil
		bufTokens = 0
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		tokens := c.countTokens(sentence)
		if bufTokens+tokens > c.maxTokens && len(buf) > 0 {
			flush()
		}
		buf = append(buf, sentence)
		bufTokens += tokens
	}
	flush()

	return chunks
}
