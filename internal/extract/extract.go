// Package extract converts uploaded document bytes into ordered text
// segments with provenance, ready for chunking. Unsupported or corrupt
// files are terminal per-document failures; retry policy belongs to the
// caller's task runner.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/knowledgehub/rag-core/internal/chunker"
)

// ErrUnsupportedType reports a file type the extractor cannot handle.
var ErrUnsupportedType = errors.New("unsupported file type")

// Document extracts segments from raw file content based on the file type
// extension (without dot, lower-cased): "md" and "txt" are supported.
func Document(fileType string, src []byte) ([]chunker.Segment, error) {
	switch strings.ToLower(fileType) {
	case "md", "markdown":
		return Markdown(src)
	case "txt", "text":
		return Text(src), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
}

// Text splits plain text into blank-line-separated paragraphs. Plain text
// has no page structure, so Page stays nil.
func Text(src []byte) []chunker.Segment {
	var segments []chunker.Segment
	paragraphNum := 0
	for _, block := range strings.Split(string(src), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphNum++
		n := paragraphNum
		segments = append(segments, chunker.Segment{
			Text:      block,
			Paragraph: &n,
		})
	}
	return segments
}

// Markdown renders markdown down to plain text by walking the goldmark AST
// and collecting the text content of top-level blocks. Formatting is
// discarded; each block becomes one paragraph segment.
func Markdown(src []byte) ([]chunker.Segment, error) {
	md := goldmark.New()
	reader := text.NewReader(src)
	doc := md.Parser().Parse(reader)

	var segments []chunker.Segment
	paragraphNum := 0

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		content := blockText(node, src)
		if content == "" {
			continue
		}
		paragraphNum++
		n := paragraphNum
		segments = append(segments, chunker.Segment{
			Text:      content,
			Paragraph: &n,
		})
	}

	return segments, nil
}

// blockText flattens a block node into plain text. Inline text segments are
// concatenated as-is; line breaks and nested blocks become single spaces.
func blockText(node ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if s := strings.TrimRight(string(seg.Value(src)), "\n"); s != "" {
					if b.Len() > 0 {
						b.WriteByte(' ')
					}
					b.WriteString(s)
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
