package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/types"
)

// CachedAnswer is the stored shape of one query response.
type CachedAnswer struct {
	Content    string           `json:"content"`
	Intent     types.Intent     `json:"intent"`
	Confidence float64          `json:"confidence"`
	Citations  []types.Citation `json:"citations,omitempty"`
	Handoff    bool             `json:"handoff,omitempty"`
	CachedAt   time.Time        `json:"cached_at"`
}

// QueryCache caches pipeline answers keyed by (org, domain, intent,
// normalised query). Invalidation is generational: each (org, domain) pair
// has a generation counter baked into every key, and invalidating bumps the
// counter so stale entries simply stop being addressable and age out via TTL.
// Keys are tenant-scoped, so a stale hit can never cross org or domain.
type QueryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQueryCache creates a query cache with the given TTL.
func (c *Cache) NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{rdb: c.rdb, ttl: ttl}
}

// Get returns the cached answer for the query, if present.
func (q *QueryCache) Get(ctx context.Context, orgID, domainID uuid.UUID, intent types.Intent, query string) (*CachedAnswer, bool) {
	key, err := q.key(ctx, orgID, domainID, intent, query)
	if err != nil {
		return nil, false
	}

	data, err := q.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, false
	}

	metrics.QueryCacheHits.Inc()
	return &answer, true
}

// Set stores an answer under the query's key.
func (q *QueryCache) Set(ctx context.Context, orgID, domainID uuid.UUID, intent types.Intent, query string, answer *CachedAnswer) error {
	key, err := q.key(ctx, orgID, domainID, intent, query)
	if err != nil {
		return err
	}

	answer.CachedAt = time.Now()
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to encode cached answer: %w", err)
	}
	return q.rdb.Set(ctx, key, data, q.ttl).Err()
}

// Invalidate drops every cached answer for one (org, domain) by bumping the
// tenant's generation counter. Called when documents change under the domain.
func (q *QueryCache) Invalidate(ctx context.Context, orgID, domainID uuid.UUID) error {
	return q.rdb.Incr(ctx, genKey(orgID, domainID)).Err()
}

func (q *QueryCache) key(ctx context.Context, orgID, domainID uuid.UUID, intent types.Intent, query string) (string, error) {
	gen, err := q.rdb.Get(ctx, genKey(orgID, domainID)).Int64()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("failed to read cache generation: %w", err)
	}

	h := sha256.Sum256([]byte(NormalizeQuery(query)))
	return fmt.Sprintf("qc:%s:%s:%d:%s:%x", orgID, domainID, gen, intent, h[:12]), nil
}

func genKey(orgID, domainID uuid.UUID) string {
	return fmt.Sprintf("qg:%s:%s", orgID, domainID)
}

// NormalizeQuery canonicalises a query for cache keying: lower-cased,
// punctuation stripped, whitespace collapsed. "How do I reset?" and "how do
// i reset" share one entry.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	lastSpace := true
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
