// Package audit maintains the append-only audit trail.
//
// Every security-relevant action (uploads, deletions, logins, denials,
// token replays, integrity violations) produces one immutable row scoped to
// an organization, plus a live event on the broker so connected dashboards
// see it immediately.
//
// Recording is deliberately fire-and-forget: an audit write failure is
// logged but never fails the audited operation. The trail is evidence, not
// a transaction participant.
//
// # Integration Points
//
//   - pkg/auth: login, denial and token-replay entries
//   - pkg/ingest: upload, delete and re-ingestion entries
//   - pkg/scraper: crawl lifecycle entries
//   - pkg/connector: credential and sync entries
//   - pkg/api: exposes GET /audit to org admins
package audit
