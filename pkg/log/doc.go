/*
Package log provides structured logging for Tome using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. Every log line carries a timestamp; request-scoped
lines additionally carry the correlation id that the API layer echoes back to
the client and writes into audit rows.

# Architecture

	┌──────────────────── LOGGING SYSTEM ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐            │
	│  │            Global Logger                   │            │
	│  │  - Zerolog instance                        │            │
	│  │  - Initialized via log.Init()              │            │
	│  │  - Thread-safe for concurrent use          │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │         Context Loggers                    │            │
	│  │  - WithComponent("ingest")                 │            │
	│  │  - WithRequest(requestID)                  │            │
	│  │  - WithOrg(orgID) / WithDocument(docID)    │            │
	│  │  - WithSession(sessionID)                  │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │            Log Output                      │            │
	│  │  JSON (production) or console (dev)        │            │
	│  └────────────────────────────────────────────┘            │
	└────────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/tomehq/tome/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Component loggers:

	ingestLog := log.WithComponent("ingest")
	ingestLog.Info().
		Str("document_id", doc.ID.String()).
		Int("chunks", n).
		Msg("document ingested")

Request-scoped logging:

	reqLog := log.WithRequest(requestID)
	reqLog.Error().Err(err).Msg("query pipeline failed")

# Integration Points

  - pkg/api: request logging middleware, one child logger per request
  - pkg/ingest: pipeline stage logging keyed by document_id
  - pkg/scraper: crawl session progress keyed by session id
  - pkg/query: per-stage timings and degraded-path decisions
  - pkg/connector: sync job lifecycle
  - pkg/store: slow-query and transaction failure logging

# Security

Never log credentials, refresh tokens, raw connector configs (they may embed
API keys), or document content. Log ids and lengths instead. Authority
failures log detail here and to audit; the HTTP response stays opaque.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
