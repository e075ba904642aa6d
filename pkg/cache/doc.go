/*
Package cache provides Tome's redis-backed caches: query responses and
content-addressed embeddings.

# Query Cache

Answers are keyed by (org, domain, intent, normalised query text). The
intent component means "my uploads fail" cached under bug_report never
shadows the same words classified differently later; the tenant components
mean a stale entry can never leak across organisations or domains.

Invalidation is generational rather than scan-and-delete: each (org, domain)
pair owns a counter that is part of every key. When documents change, the
counter is bumped in O(1) and the old generation's entries become
unaddressable, expiring naturally via TTL.

	qcache := c.NewQueryCache(cfg.Query.CacheTTL)
	if answer, ok := qcache.Get(ctx, orgID, domainID, intent, query); ok {
		return answer
	}
	// ... run pipeline ...
	qcache.Set(ctx, orgID, domainID, intent, query, answer)

	// on ingest:
	qcache.Invalidate(ctx, orgID, domainID)

# Embedding Cache

Vectors are keyed by (content hash, model id) with a two-week TTL. The
ingestion pipeline consults it before calling the embedding service, so a
restarted worker or a re-crawl of unchanged pages costs nothing. Keys carry
no tenant component on purpose: identical text embeds identically under a
given model, and hashes reveal nothing about which tenant ingested them.

# Integration Points

  - pkg/query: response cache probe and fill (pipeline step 3)
  - pkg/ingest: embedding cache consult before batch embedding
  - pkg/health: redis reachability check via Ping
*/
package cache
