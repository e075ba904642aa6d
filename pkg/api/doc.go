// Package api serves the REST and websocket surface.
//
// # Overview
//
// Every request passes one middleware chain before reaching a handler:
//
//	         ┌────────┐  ┌─────────┐  ┌──────┐  ┌───────────┐
//	 HTTP ─▶ │ req id │─▶│ logging │─▶│ cors │─▶│ bearer    │
//	         └────────┘  └─────────┘  └──────┘  │ auth      │
//	                                            └─────┬─────┘
//	                                                  ▼
//	                                     ┌───────────────────────┐
//	                                     │ rate limit ▸ metrics  │
//	                                     └───────────┬───────────┘
//	                ┌───────────────┬────────────────┤
//	                ▼               ▼                ▼
//	           /files /search   /connectors/*   /ws/{session}
//	           /chat /domains   (sync, crawl)   (streaming chat)
//
// Handlers stay thin: they decode, call a service, and write the result.
// Authorisation happens in the services, not here; the handlers only pin
// tenancy by passing the token's claims down. Error mapping is uniform:
// writeError reads the status from the error chain, so a handler never
// picks a status code by hand.
//
// The chat socket is the one long-lived route. It mounts outside the
// request timeout, holds a read deadline refreshed by traffic, and
// streams answer deltas as they leave the model; the final answer frame
// carries the citations the deltas never had.
//
// # Integration Points
//
//   - pkg/auth: token verification, registration, login, refresh
//   - pkg/query: Pipeline.Answer and Pipeline.Search behind /chat and /search
//   - pkg/ingest: file upload, document listing and deletion
//   - pkg/connector: connector CRUD, preview, sync jobs
//   - pkg/scraper: crawl control and crawl analytics
//   - pkg/blob: presigned download links
//   - pkg/metrics: /metrics and the health probes
package api
