// Package connector feeds external content sources into domains through
// a uniform capability surface.
//
// # Overview
//
// A connector row pairs a source type with a free-form JSON config. The
// framework owns everything type-independent; variants only know how to
// talk to their remote:
//
//	          validate (strict), seal credentials
//	 API ──▶ ┌─────────────┐ ──────────────▶ connector rows
//	         │   Service   │
//	         │  registry   │ ◀── scheduler: due schedules ▸ sync jobs
//	         └──────┬──────┘
//	     dispatch   │   test · preview · sync
//	   ┌──────┬─────┴──┬──────────┬────────────┐
//	   ▼      ▼        ▼          ▼            ▼
//	 file    web     jira      github     confluence
//	   │      │        └──────────┴──────┬─────┘
//	   │      ▼                          │ paged JSON APIs
//	   │   scraper engine                ▼
//	   └──────┴───────────────▶ ingest (markdown documents)
//
// Configs persist exactly as the client sent them and are normalised to
// typed views at this boundary: writes decode strictly so unknown keys
// are rejected, reads decode leniently so rows written by newer builds
// still load. Credential fields are sealed with AES-GCM before a row is
// stored and opened only for the call that talks to the remote; API
// reads get a redaction placeholder that the update path recognises and
// restores.
//
// # Sync lifecycle
//
// A sync runs as one SyncJob: pending when triggered, running once a
// queue worker picks it up, then success or failed. Triggering, by hand
// or by the scheduler, creates the job row and a durable connector_sync
// queue entry with a single attempt; a failed sync waits for its next
// schedule rather than a queue retry. Every job reaches a terminal state:
// variant failures, deleted connectors, and cancellation all finish the
// record (terminal writes are detached from cancellation), and the
// scheduler fails any running job older than the lease. LastSyncAt is
// stamped on both outcomes, so a failing connector waits out its full
// schedule instead of being retried every scan.
//
// # Integration Points
//
//   - pkg/scraper: the web variant wraps the crawl engine
//   - pkg/ingest: synced content becomes web-source documents
//   - pkg/store: connector rows, sync jobs, the durable job queue
//   - pkg/security: AES-GCM sealing for credentials at rest
//   - pkg/api: CRUD, test, preview, sync, and capability endpoints
package connector
