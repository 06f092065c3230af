package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	entryPrefix = "semantic_cache:"
	indexKey    = "cache_index"
)

// Redis is a Redis-backed Cache. Entries live under per-key expiry;
// embeddings are mirrored into a hash so the semantic scan can read them
// all in one round trip. Redis hashes preserve insertion order for small
// sizes only, so an insertion timestamp rides along with each embedding
// for oldest-first pruning.
type Redis struct {
	rdb        *goredis.Client
	threshold  float64
	ttl        time.Duration
	maxEntries int
}

type indexedEmbedding struct {
	Embedding  []float32 `json:"embedding"`
	InsertedAt int64     `json:"inserted_at"` // unix nanos
}

// NewRedis creates a Redis cache and verifies connectivity.
func NewRedis(addr string, threshold float64, ttl time.Duration, maxEntries int) (*Redis, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrCacheStore, addr, err)
	}

	return &Redis{
		rdb:        rdb,
		threshold:  threshold,
		ttl:        ttl,
		maxEntries: maxEntries,
	}, nil
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Get(ctx context.Context, question string, embedding []float32) (*Hit, error) {
	key := entryPrefix + Key(question)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry Entry
		if unmarshalErr := json.Unmarshal(raw, &entry); unmarshalErr == nil {
			return &Hit{Entry: entry, Kind: HitExact}, nil
		}
		// Corrupt entry: fall through to the semantic path.
	case err != goredis.Nil:
		return nil, fmt.Errorf("%w: get: %v", ErrCacheStore, err)
	}

	if embedding == nil {
		return nil, nil
	}
	return r.semanticLookup(ctx, embedding)
}

// semanticLookup scans all indexed embeddings for the best cosine
// similarity above the threshold.
func (r *Redis) semanticLookup(ctx context.Context, embedding []float32) (*Hit, error) {
	index, err := r.rdb.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrCacheStore, err)
	}

	bestKey := ""
	bestSimilarity := 0.0
	for key, raw := range index {
		var indexed indexedEmbedding
		if err := json.Unmarshal([]byte(raw), &indexed); err != nil {
			continue
		}
		similarity := CosineSimilarity(embedding, indexed.Embedding)
		if similarity >= r.threshold && similarity > bestSimilarity {
			bestSimilarity = similarity
			bestKey = key
		}
	}
	if bestKey == "" {
		return nil, nil
	}

	raw, err := r.rdb.Get(ctx, bestKey).Bytes()
	if err == goredis.Nil {
		// Entry expired but its index slot lingers; treat as a miss.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrCacheStore, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil
	}
	return &Hit{Entry: entry, Kind: HitSemantic, Similarity: bestSimilarity}, nil
}

func (r *Redis) Set(ctx context.Context, entry Entry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	key := entryPrefix + Key(entry.Question)

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal entry: %v", ErrCacheStore, err)
	}
	if err := r.rdb.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrCacheStore, err)
	}

	if len(entry.Embedding) > 0 {
		indexed, err := json.Marshal(indexedEmbedding{
			Embedding:  entry.Embedding,
			InsertedAt: entry.CachedAt.UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("%w: marshal embedding: %v", ErrCacheStore, err)
		}
		if err := r.rdb.HSet(ctx, indexKey, key, indexed).Err(); err != nil {
			return fmt.Errorf("%w: index embedding: %v", ErrCacheStore, err)
		}
	}

	return r.pruneIfNeeded(ctx)
}

// pruneIfNeeded removes the oldest ~10% of indexed entries, by insertion
// timestamp, when the index is over the cap.
func (r *Redis) pruneIfNeeded(ctx context.Context) error {
	size, err := r.rdb.HLen(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("%w: index size: %v", ErrCacheStore, err)
	}
	if size <= int64(r.maxEntries) {
		return nil
	}

	index, err := r.rdb.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("%w: read index: %v", ErrCacheStore, err)
	}

	type aged struct {
		key        string
		insertedAt int64
	}
	entries := make([]aged, 0, len(index))
	for key, raw := range index {
		var indexed indexedEmbedding
		if err := json.Unmarshal([]byte(raw), &indexed); err != nil {
			entries = append(entries, aged{key: key}) // corrupt sorts oldest
			continue
		}
		entries = append(entries, aged{key: key, insertedAt: indexed.InsertedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].insertedAt < entries[j].insertedAt
	})

	toRemove := int(math.Ceil(float64(size) * pruneFraction))
	if toRemove > len(entries) {
		toRemove = len(entries)
	}

	pipe := r.rdb.TxPipeline()
	for _, e := range entries[:toRemove] {
		pipe.Del(ctx, e.key)
		pipe.HDel(ctx, indexKey, e.key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: prune: %v", ErrCacheStore, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, question string) (bool, error) {
	key := entryPrefix + Key(question)

	deleted, err := r.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: delete: %v", ErrCacheStore, err)
	}
	if err := r.rdb.HDel(ctx, indexKey, key).Err(); err != nil {
		return false, fmt.Errorf("%w: deindex: %v", ErrCacheStore, err)
	}
	return deleted > 0, nil
}

func (r *Redis) InvalidateAll(ctx context.Context) (int, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, entryPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: scan: %v", ErrCacheStore, err)
	}

	count := 0
	if len(keys) > 0 {
		deleted, err := r.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: delete: %v", ErrCacheStore, err)
		}
		count = int(deleted)
	}
	if err := r.rdb.Del(ctx, indexKey).Err(); err != nil {
		return count, fmt.Errorf("%w: drop index: %v", ErrCacheStore, err)
	}
	return count, nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	size, err := r.rdb.HLen(ctx, indexKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: index size: %v", ErrCacheStore, err)
	}
	return Stats{
		Entries:             int(size),
		SimilarityThreshold: r.threshold,
		TTL:                 r.ttl,
		MaxEntries:          r.maxEntries,
	}, nil
}
