// Package store defines the persistence interfaces and their
// implementations.
//
// # Overview
//
// Every component depends on a narrow interface (DocumentStore, ChatStore,
// JobQueue, ...) rather than on a database. Two implementations exist:
//
//   - Postgres: production. One pgx pool serves all interfaces; chunk
//     embeddings live in a pgvector column so the relational store is the
//     single source of truth the in-memory index is rebuilt from.
//   - Memory: tests and the single-binary demo mode. Same semantics,
//     including uniqueness rules, cascades and job-queue claiming.
//
// # Tenant isolation
//
// Organization and domain ids are denormalised onto every row that needs
// filtering (documents, chunks, pages, sessions). Reads take the caller's
// org id and treat foreign rows as not found; a cross-tenant id never
// yields data, only a 404.
//
// # Job queue
//
// The durable queue backs ingestion and connector syncs. Dequeue claims at
// most one due job per call; in Postgres this is SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent workers never double-claim. Failed jobs retry with
// the delay the worker chooses until MaxAttempts is exhausted. Jobs whose
// worker died are returned to pending once their lease lapses.
//
// # Integration Points
//
//   - pkg/ingest, pkg/scraper, pkg/query, pkg/connector: persistence
//   - pkg/auth: users, memberships, auth sessions
//   - pkg/vectorindex: rebuilds from ListChunksByDomain
//   - cmd/tome: migrate applies the schema
package store
