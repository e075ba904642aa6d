/*
Package types defines the core data structures shared across all Tome
components.

The types package has no dependencies on other Tome packages, making it safe
to import from anywhere without circular dependency concerns. It contains the
tenant tree, the ingestion and retrieval records, chat and audit entities,
and the string enums that drive every state machine in the system.

# Containment Tree

Tenant data forms a strict containment hierarchy; deleting a parent deletes
its children:

	Organization
	    │
	    ├── OrgMember (user ↔ org link, role)
	    │
	    └── Domain (knowledge partition, AI config, access mode)
	            │
	            ├── Document ── Chunk (embedding unit)
	            │
	            ├── Connector ── SyncJob
	            │        └───── CrawledPage
	            │
	            └── ChatSession ── Message (append-only, seq-ordered)

Every row that carries tenant data carries the organization id, and where
applicable the domain id, denormalised onto the row itself. Isolation filters
never rely on joins.

# State Machines

	Document:     pending → processing → (ready | failed)
	SyncJob:      pending → running → (success | failed)
	CrawlState:   idle → discovering → fetching → (completed | failed | cancelled)
	AuthSession:  created → active → (expired | refreshed | revoked)
	Job:          pending → running → (succeeded | failed)

All enums are string-typed for readable persistence and wire format.

# Identity

All entities use github.com/google/uuid identifiers. Chunk ids are
deterministic (derived from document id, chunk index, and content hash) so a
restarted ingestion run regenerates identical rows instead of duplicates.

# Integration Points

  - pkg/store: persists every type in this package
  - pkg/ingest: Document, Chunk lifecycle
  - pkg/scraper: CrawledPage, CrawlStats, QualityMetrics
  - pkg/query: Classification, RAGExecution, Citation, Message
  - pkg/auth: User, OrgMember, AuthSession, TokenPair
  - pkg/connector: Connector, SyncJob
*/
package types
