package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/knowledgehub/rag-core/internal/search"
)

// CollectionName is the single Qdrant collection holding all chunk vectors.
const CollectionName = "knowledge_hub"

// upsertBatchSize bounds points per upsert call.
const upsertBatchSize = 100

// Qdrant implements Store against a Qdrant server over gRPC.
type Qdrant struct {
	client    *qdrant.Client
	dimension uint64
}

// NewQdrant creates a Qdrant-backed store and verifies the server is
// reachable, retrying the health check with exponential backoff.
func NewQdrant(host string, port int, dimension int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &Qdrant{
		client:    client,
		dimension: uint64(dimension),
	}

	ctx := context.Background()
	if err := store.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return store, nil
}

// healthCheckWithRetry performs the startup health check with exponential
// backoff: initial 500ms, max interval 10s, max elapsed 30s.
func (s *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *Qdrant) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection with cosine-distance vectors
// and payload indexes for the filterable fields. Idempotent.
func (s *Qdrant) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without these indexes equality filtering is dramatically slower.
	for _, field := range []string{"owner", "document_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// Close closes the underlying client connection.
func (s *Qdrant) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upsert stores chunk points, batched, with retry on transient failures.
func (s *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	for i, p := range points {
		if uint64(len(p.Vector)) != s.dimension {
			return fmt.Errorf("%w: point %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(p.Vector), s.dimension)
		}
	}

	for i := 0; i < len(points); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-i)
		for _, p := range points[i:end] {
			payload := map[string]any{
				"text":          p.Text,
				"document_id":   p.DocumentID,
				"document_name": p.DocumentName,
				"owner":         p.Owner,
				"chunk_index":   p.ChunkIndex,
			}
			// Optional provenance is stored only when present so that a
			// missing page is distinguishable from page 0.
			if p.Page != nil {
				payload["page_number"] = *p.Page
			}
			if p.Paragraph != nil {
				payload["paragraph_number"] = *p.Paragraph
			}
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		if err := s.upsertWithRetry(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// upsertWithRetry performs one upsert call with exponential backoff.
func (s *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// Query runs a nearest-neighbor search scoped to the owner filter and maps
// the hits to search results. Qdrant reports cosine similarity directly, so
// the score is used as-is.
func (s *Qdrant) Query(ctx context.Context, vector []float32, topK int, owner string) ([]search.Result, error) {
	if uint64(len(vector)) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	var filter *qdrant.Filter
	if owner != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("owner", owner),
			},
		}
	}

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	results := make([]search.Result, 0, len(hits))
	for _, hit := range hits {
		payload := hit.Payload

		var page, paragraph *int
		if v, ok := payload["page_number"]; ok {
			n := int(v.GetIntegerValue())
			page = &n
		}
		if v, ok := payload["paragraph_number"]; ok {
			n := int(v.GetIntegerValue())
			paragraph = &n
		}

		results = append(results, search.Result{
			ChunkID:      hit.Id.GetUuid(),
			DocumentID:   payload["document_id"].GetStringValue(),
			DocumentName: payload["document_name"].GetStringValue(),
			Text:         payload["text"].GetStringValue(),
			Page:         page,
			Paragraph:    paragraph,
			Score:        float64(hit.Score),
		})
	}

	return results, nil
}

// VisibleChunks scrolls every chunk visible to the owner, for sparse
// scoring. The payload already carries the text and provenance, so no
// separate chunk store round trip is needed.
func (s *Qdrant) VisibleChunks(ctx context.Context, owner string) ([]search.Chunk, error) {
	var filter *qdrant.Filter
	if owner != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("owner", owner),
			},
		}
	}

	var chunks []search.Chunk
	var offset *qdrant.PointId
	batchSize := uint32(256)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Filter:         filter,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll chunks: %w", err)
		}

		for _, result := range results {
			payload := result.Payload

			var page, paragraph *int
			if v, ok := payload["page_number"]; ok {
				n := int(v.GetIntegerValue())
				page = &n
			}
			if v, ok := payload["paragraph_number"]; ok {
				n := int(v.GetIntegerValue())
				paragraph = &n
			}

			chunks = append(chunks, search.Chunk{
				ChunkID:      result.Id.GetUuid(),
				DocumentID:   payload["document_id"].GetStringValue(),
				DocumentName: payload["document_name"].GetStringValue(),
				Text:         payload["text"].GetStringValue(),
				Page:         page,
				Paragraph:    paragraph,
			})
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	return chunks, nil
}

// Delete removes points by id. Missing ids are a no-op, not an error.
func (s *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}
