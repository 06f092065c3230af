package chunker

import (
	"strings"
	"testing"
)

func intPtr(n int) *int { return &n }

// words builds a segment with n distinct words.
func words(n int, page, paragraph *int) Segment {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w"
	}
	return Segment{Text: strings.Join(parts, " "), Page: page, Paragraph: paragraph}
}

func TestChunk_Empty(t *testing.T) {
	c := New(10, 3, nil)

	if got := c.Chunk(nil); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
	if got := c.Chunk([]Segment{{Text: "   "}, {Text: ""}}); len(got) != 0 {
		t.Errorf("expected no chunks for blank input, got %d", len(got))
	}
}

func TestChunk_NonBlankInputProducesChunks(t *testing.T) {
	c := New(10, 3, nil)

	got := c.Chunk([]Segment{{Text: "hello world"}})
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0].Text != "hello world" {
		t.Errorf("unexpected chunk text %q", got[0].Text)
	}
	if got[0].TokenCount != 2 {
		t.Errorf("expected token count 2, got %d", got[0].TokenCount)
	}
}

func TestChunk_BudgetRespected(t *testing.T) {
	c := New(10, 3, nil)

	segments := []Segment{
		words(4, intPtr(1), intPtr(1)),
		words(4, intPtr(1), intPtr(2)),
		words(4, intPtr(2), intPtr(1)),
		words(4, intPtr(2), intPtr(2)),
	}

	chunks := c.Chunk(segments)
	for i, chunk := range chunks {
		if chunk.TokenCount > 10 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, chunk.TokenCount)
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

func TestChunk_OverlapSeedsNextChunk(t *testing.T) {
	c := New(10, 4, nil)

	segments := []Segment{
		{Text: "a b c d e"}, // 5 tokens
		{Text: "f g h"},     // 3 tokens, buffer now 8
		{Text: "i j k"},     // would exceed: flush, seed with "f g h" (3 <= 4)
	}

	chunks := c.Chunk(segments)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "a b c d e f g h" {
		t.Errorf("chunk 0: got %q", chunks[0].Text)
	}
	if chunks[1].Text != "f g h i j k" {
		t.Errorf("chunk 1 should start with overlap, got %q", chunks[1].Text)
	}
}

func TestChunk_NoOverlapWhenLastSegmentTooLarge(t *testing.T) {
	c := New(10, 2, nil)

	segments := []Segment{
		{Text: "a b c d e"},
		{Text: "f g h i"}, // 4 tokens > overlap budget 2
		{Text: "j k l"},
	}

	chunks := c.Chunk(segments)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "j k l" {
		t.Errorf("chunk 1 should carry no overlap, got %q", chunks[1].Text)
	}
}

func TestChunk_OversizedSegmentSplitBySentence(t *testing.T) {
	c := New(6, 2, nil)

	seg := Segment{
		Text: "one two three four. five six seven! eight nine ten?",
		Page: intPtr(3),
	}

	chunks := c.Chunk([]Segment{seg})
	if len(chunks) < 2 {
		t.Fatalf("expected sentence-split chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.TokenCount > 6 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, chunk.TokenCount)
		}
		if chunk.Page == nil || *chunk.Page != 3 {
			t.Errorf("chunk %d lost page provenance", i)
		}
		if !strings.HasSuffix(chunk.Text, ".") {
			t.Errorf("chunk %d not re-terminated: %q", i, chunk.Text)
		}
	}
}

func TestChunk_UnsplittableSentenceMayExceedBudget(t *testing.T) {
	c := New(3, 1, nil)

	// A single sentence of 6 words cannot be subdivided.
	chunks := c.Chunk([]Segment{{Text: "a b c d e f"}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].TokenCount != 6 {
		t.Errorf("expected the whole sentence kept, got %d tokens", chunks[0].TokenCount)
	}
}

func TestChunk_OversizedSegmentFlushesBufferFirst(t *testing.T) {
	c := New(6, 2, nil)

	segments := []Segment{
		{Text: "a b c", Paragraph: intPtr(1)},
		{Text: "one two three. four five six. seven eight nine.", Paragraph: intPtr(2)},
	}

	chunks := c.Chunk(segments)
	if len(chunks) < 3 {
		t.Fatalf("expected flushed buffer plus split chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "a b c" {
		t.Errorf("buffer should flush before the split, got %q", chunks[0].Text)
	}
	if chunks[0].Paragraph == nil || *chunks[0].Paragraph != 1 {
		t.Errorf("chunk 0 has wrong paragraph tag")
	}
}

func TestChunk_ProvenanceIsLastContributor(t *testing.T) {
	c := New(20, 5, nil)

	segments := []Segment{
		{Text: "a b", Page: intPtr(1), Paragraph: intPtr(1)},
		{Text: "c d", Page: intPtr(2), Paragraph: intPtr(4)},
	}

	chunks := c.Chunk(segments)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Page == nil || *chunks[0].Page != 2 {
		t.Errorf("expected page of last contributor")
	}
	if chunks[0].Paragraph == nil || *chunks[0].Paragraph != 4 {
		t.Errorf("expected paragraph of last contributor")
	}
}

func TestChunk_NilPageStaysNil(t *testing.T) {
	c := New(10, 2, nil)

	chunks := c.Chunk([]Segment{{Text: "plain text file content", Paragraph: intPtr(1)}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Page != nil {
		t.Errorf("page must stay nil for non-paginated input, got %d", *chunks[0].Page)
	}
}

func TestChunk_CoversAllInput(t *testing.T) {
	c := New(8, 3, nil)

	segments := []Segment{
		{Text: "alpha beta gamma"},
		{Text: "delta epsilon zeta"},
		{Text: "eta theta iota"},
		{Text: "kappa lambda mu"},
	}

	chunks := c.Chunk(segments)
	joined := ""
	for _, chunk := range chunks {
		joined += " " + chunk.Text
	}
	for _, seg := range segments {
		if !strings.Contains(joined, seg.Text) {
			t.Errorf("segment %q not covered by any chunk", seg.Text)
		}
	}
}
