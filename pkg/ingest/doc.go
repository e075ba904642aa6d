// Package ingest turns uploaded files and crawled pages into embedded,
// searchable chunks.
//
// # Pipeline
//
//	 Upload                        queue                    worker pool
//	┌─────────────────┐   ┌──────────────────────┐   ┌──────────────────────┐
//	│ validate size & │   │  ingest_document job │   │ extract → chunk →    │
//	│ type, hash,     │──▶│  (durable, at-least- │──▶│ embed → persist →    │
//	│ dedup, store    │   │   once, with retry)  │   │ index → invalidate   │
//	│ blob, row       │   └──────────────────────┘   └──────────────────────┘
//	└─────────────────┘
//
// Upload is synchronous and cheap: it rejects oversized payloads, detects
// the content type from magic bytes, refuses content the extractor registry
// cannot handle, and deduplicates by SHA-256 within the (org, domain). The
// heavy work happens on the worker pool.
//
// # Extraction
//
// A registry maps detected media types to extractors: PDF (page-aware),
// DOCX (heading-aware, embedded images), XLSX and CSV (tabular render),
// HTML (readability pass, then markdown), markdown (heading sections), and
// plain text or source code. Detection never trusts the client-declared
// content type.
//
// # Idempotency
//
// Processing is safe to repeat. Chunk ids are a deterministic function of
// (document id, chunk index, content hash); embeddings are served from a
// content-addressed cache keyed by (content hash, model id); and the final
// persist replaces the document's chunks and marks it ready in one
// transaction. A job redelivered after a crash converges on identical rows
// without re-billing the embedding service.
//
// Re-ingest of changed upstream content (a re-crawled page, a synced
// record) runs the same pipeline and swaps the document's chunks and
// vectors in place.
//
// # Integration Points
//
//   - pkg/api: Upload and DeleteDocument back the /files endpoints
//   - pkg/scraper: IngestWeb and Reingest persist crawled pages
//   - pkg/vectorindex: vectors are swapped after every successful ingest
//   - pkg/store: durable queue driving the worker pool
package ingest
