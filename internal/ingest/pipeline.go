// Package ingest turns uploaded documents into embedded, searchable
// chunks: extract text, chunk to the token budget, embed in batches and
// upsert into the vector store, then write the embedding ids back to the
// chunk store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/knowledgehub/rag-core/internal/chunker"
	"github.com/knowledgehub/rag-core/internal/extract"
	"github.com/knowledgehub/rag-core/internal/vectorstore"
)

// Document is one uploaded file to ingest.
type Document struct {
	ID       string // generated when empty
	Name     string
	FileType string // lowercase extension, e.g. "md" or "txt"
	Owner    string
	Content  []byte
}

// ChunkRecord is the chunk-store row written back after a successful
// vector upsert. EmbeddingID is the vector point id for the chunk.
type ChunkRecord struct {
	ChunkID     string
	DocumentID  string
	ChunkIndex  int
	Text        string
	TokenCount  int
	Page        *int
	Paragraph   *int
	EmbeddingID string
}

// ChunkWriter persists chunk rows to the external document/chunk store.
type ChunkWriter interface {
	WriteChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error
}

// BatchEmbedder is the embedding dependency for ingestion.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result contains statistics for one ingested document.
type Result struct {
	DocumentID string
	Chunks     int
	Tokens     int
	Duration   time.Duration
}

// FailedDoc records a document that could not be ingested. The reason is
// human-readable; retrying is the caller's decision.
type FailedDoc struct {
	Name   string
	Reason string
}

// BatchResult contains statistics for a multi-document ingestion run.
type BatchResult struct {
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// Pipeline orchestrates ingestion from raw document content to stored
// vectors and chunk rows.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder BatchEmbedder
	store    vectorstore.Store
	writer   ChunkWriter // nil skips the chunk-store write-back
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline with the given components.
func NewPipeline(
	ch *chunker.Chunker,
	embedder BatchEmbedder,
	store vectorstore.Store,
	writer ChunkWriter,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:  ch,
		embedder: embedder,
		store:    store,
		writer:   writer,
		logger:   logger,
	}
}

// ProcessAll ingests every document, skipping the ones that fail so one
// bad file cannot sink the batch. Returns detailed statistics.
func (p *Pipeline) ProcessAll(ctx context.Context, docs []Document) *BatchResult {
	start := time.Now()
	result := &BatchResult{TotalDocs: len(docs)}

	for _, doc := range docs {
		stats, err := p.ProcessDocument(ctx, doc)
		if err != nil {
			p.logger.Warn("Failed to ingest document", "name", doc.Name, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				Name:   doc.Name,
				Reason: err.Error(),
			})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += stats.Chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result
}

// ProcessDocument ingests a single document. Extraction and embedding
// failures are terminal for the document; nothing partial is stored, and
// the chunk-store write-back happens only after the vector upsert
// succeeded.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	segments, err := extract.Document(doc.FileType, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", doc.Name, err)
	}

	chunks := p.chunker.Chunk(segments)
	if len(chunks) == 0 {
		p.logger.Info("Document produced no chunks", "name", doc.Name)
		return &Result{DocumentID: doc.ID, Duration: time.Since(start)}, nil
	}
	p.logger.Debug("Chunked document", "name", doc.Name, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", doc.Name, err)
	}

	points := make([]vectorstore.Point, len(chunks))
	records := make([]ChunkRecord, len(chunks))
	tokens := 0
	for i, chunk := range chunks {
		id := uuid.New().String()
		points[i] = vectorstore.Point{
			ID:           id,
			Vector:       embeddings[i],
			Text:         chunk.Text,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Owner:        doc.Owner,
			ChunkIndex:   i,
			Page:         chunk.Page,
			Paragraph:    chunk.Paragraph,
		}
		records[i] = ChunkRecord{
			ChunkID:     id,
			DocumentID:  doc.ID,
			ChunkIndex:  i,
			Text:        chunk.Text,
			TokenCount:  chunk.TokenCount,
			Page:        chunk.Page,
			Paragraph:   chunk.Paragraph,
			EmbeddingID: id,
		}
		tokens += chunk.TokenCount
	}

	if err := p.store.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("store embeddings %q: %w", doc.Name, err)
	}

	if p.writer != nil {
		if err := p.writer.WriteChunks(ctx, doc.ID, records); err != nil {
			return nil, fmt.Errorf("write chunks %q: %w", doc.Name, err)
		}
	}

	p.logger.Info("Ingested document", "name", doc.Name, "chunks", len(chunks), "tokens", tokens)
	return &Result{
		DocumentID: doc.ID,
		Chunks:     len(chunks),
		Tokens:     tokens,
		Duration:   time.Since(start),
	}, nil
}

// DeleteDocument removes a document's vectors from the dense index.
// Missing ids are a no-op, so a partially ingested document can still be
// cleaned up.
func (p *Pipeline) DeleteDocument(ctx context.Context, embeddingIDs []string) error {
	if len(embeddingIDs) == 0 {
		return nil
	}
	if err := p.store.Delete(ctx, embeddingIDs); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}
