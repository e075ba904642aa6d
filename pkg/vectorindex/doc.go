// Package vectorindex maintains one logical similarity index per
// (organization, domain) pair and answers top-k searches over it.
//
// # Overview
//
// The Index contract hides two interchangeable backends:
//
//	                 ┌─────────────────┐
//	  Upsert/Delete  │      Index      │  Search/Stats
//	 ───────────────▶│    (contract)   │◀───────────────
//	                 └────────┬────────┘
//	              ┌───────────┴───────────┐
//	      ┌───────▼───────┐       ┌───────▼───────┐
//	      │    PgIndex    │       │  MemoryIndex  │
//	      │  pgvector +   │       │  per-tenant   │
//	      │  tsvector     │       │  matrices +   │
//	      │  (HNSW)       │       │  bbolt snaps  │
//	      └───────────────┘       └───────────────┘
//
// PgIndex runs searches as SQL over the chunks table, ordering by pgvector
// cosine distance. MemoryIndex keeps normalised vectors in RAM behind an
// RWMutex and scans linearly, which is exact and fast enough well past the
// point where an embedded deployment should switch to pgvector.
//
// # Isolation
//
// Every call is scoped to one (org, domain) pair, and results are checked
// against that scope inside the index before they are returned. A payload
// from another tenant can never leave a Search call, even if internal state
// were corrupted.
//
// # Durability
//
// The relational store is the source of truth; the index is a rebuildable
// projection. MemoryIndex write-through-snapshots each tenant to BoltDB and,
// on restart, replays chunks created after the snapshot watermark. The
// Reconciler compares per-tenant chunk counts against vector counts on a
// timer and rebuilds any tenant that drifted; chunks whose stored vectors no
// longer match the pinned dimension are queued for re-embedding instead of
// being indexed.
//
// # Hybrid search
//
// A search filter may carry keywords. Candidates are then scored by both
// cosine similarity and keyword presence (ts_rank in SQL, substring fraction
// in memory) and blended, by default 0.7 vector and 0.3 keyword.
//
// # Integration Points
//
//   - pkg/ingest: upserts embedded chunks after persisting them
//   - pkg/query: retrieves context for answer synthesis
//   - pkg/store: source of truth for rebuilds and replay
//   - cmd/tome: picks the backend and runs the reconciler
package vectorindex
