package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomehq/tome/pkg/metrics"
)

// embedTTL keeps cached vectors around long enough to cover restarts and
// re-crawls without growing unbounded.
const embedTTL = 14 * 24 * time.Hour

// EmbedCache is the content-addressed embedding cache. A chunk's vector is
// keyed by (content hash, model id), so re-ingesting unchanged content after
// a worker restart or a re-crawl never re-bills the embedding service.
// Content hashes carry no tenant data; sharing vectors across tenants for
// identical text is safe and intentional.
type EmbedCache struct {
	rdb *redis.Client
}

// NewEmbedCache creates the embedding cache.
func (c *Cache) NewEmbedCache() *EmbedCache {
	return &EmbedCache{rdb: c.rdb}
}

// Get returns the cached vector for (contentHash, modelID), if present.
func (e *EmbedCache) Get(ctx context.Context, contentHash, modelID string) ([]float32, bool) {
	data, err := e.rdb.Get(ctx, embedKey(contentHash, modelID)).Bytes()
	if err != nil {
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, false
	}

	metrics.EmbeddingCacheHits.Inc()
	return vector, true
}

// Put stores a vector under (contentHash, modelID).
func (e *EmbedCache) Put(ctx context.Context, contentHash, modelID string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	return e.rdb.Set(ctx, embedKey(contentHash, modelID), data, embedTTL).Err()
}

func embedKey(contentHash, modelID string) string {
	return fmt.Sprintf("emb:%s:%s", modelID, contentHash)
}
