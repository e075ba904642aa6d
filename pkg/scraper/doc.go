// Package scraper crawls the websites behind web connectors and feeds the
// pages worth keeping into ingestion.
//
// # Overview
//
// A crawl session runs in two phases:
//
//	 seeds                    frontier (priority heap,
//	   │                       capped at max_pages)
//	   ▼                               │
//	┌──────────────┐    crawlable      ▼
//	│  DISCOVERY   │──────────▶┌──────────────┐
//	│  BFS links,  │           │    FETCH     │──▶ quality + dedup ──▶ ingest
//	│  robots.txt, │  blocked  │  per-host    │
//	│  classify    │──────────▶│  politeness  │──▶ CrawledPage record
//	└──────────────┘  recorded └──────────────┘
//
// Discovery walks links breadth-first to max_depth, classifying every URL
// it sees: crawlable pages enter a bounded priority frontier where
// documentation-shaped paths outrank blog posts and dated archives;
// blocked URLs are recorded with the reason. Fetch drains the frontier
// best-first under a per-host concurrency bound and an adaptive delay that
// backs off when the host slows down or errors.
//
// # Page pipeline
//
// Each fetched page is reduced to main-content markdown (go-readability,
// then html-to-markdown), scored for quality across readability, content
// density, structure, term variety, and freshness, and deduplicated twice:
// exact matches by content hash against previously crawled pages, near
// matches by token-set Jaccard against a window of recently accepted ones.
// Pages that survive become web-source documents; re-crawled pages whose
// content changed re-ingest into their existing document. Every outcome,
// including skips and failures, lands in one CrawledPage row per URL.
//
// # Failure semantics
//
// Transport errors and 5xx responses are retried with backoff inside the
// fetcher; 4xx are terminal. A page failing never fails the session, but a
// site where discovery cannot fetch a single page fails the crawl outright.
// Cancellation is observed between loop iterations and finishes the
// session in state cancelled with its stats intact.
//
// # Integration Points
//
//   - pkg/connector: the web connector wraps Engine.Crawl as its sync cycle
//   - pkg/ingest: accepted pages become virtual documents
//   - pkg/store: CrawledPage records, prior-crawl lookups
//   - pkg/api: live session stats, preview, and discovery endpoints
package scraper
