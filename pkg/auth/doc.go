// Package auth implements authentication and role-based authorization.
//
// # Architecture
//
//	login ──> bcrypt compare ──> session row ──> access JWT + refresh token
//	                                  │
//	request ──> Verify(JWT) ─────────>│ session must be active
//	                                  │
//	refresh ──> rotate ──> new session, old chained via ReplacedBy
//	                                  │
//	replay of rotated token ─────────>│ revoke whole chain + critical audit
//
// Access tokens are short-lived HS256 JWTs carrying the user, organization,
// session and a permission snapshot. Refresh tokens are 256-bit random
// values stored only as SHA-256 hashes; each is single-use. Because every
// access token is checked against its server-side session, revocation takes
// effect immediately rather than at JWT expiry.
//
// # Session states
//
//	created -> active -> expired    refresh TTL passed
//	                  -> refreshed  rotated, successor in ReplacedBy
//	                  -> revoked    logout, or chain revocation after replay
//
// # Authorization
//
// Roles are fixed permission sets (owner > admin > member > viewer) scoped
// to one organization. Require checks the permission against the claims;
// RequireDomain additionally applies the domain's access mode. A claim for
// the wrong organization reads as tenant mismatch, which the API maps to
// 404 so resource existence never leaks across tenants.
//
// Authentication failures are deliberately opaque: unknown account, wrong
// password and disabled user all return the same sentinel. Detail lives in
// the audit trail only.
//
// # Integration Points
//
//   - pkg/api: bearer middleware calls Verify, handlers call Require
//   - pkg/store: users, memberships, auth_sessions tables
//   - pkg/audit: login, denial and replay entries
//   - pkg/metrics: failure counters by reason, replay counter
package auth
