package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomehq/tome/pkg/types"
)

// Audit operations

func (p *Postgres) CreateAuditEvent(ctx context.Context, event *types.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = types.AuditInfo
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_events (id, organization_id, user_id, action, resource, resource_id, detail, request_id, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.OrgID, event.UserID, event.Action, event.Resource, event.ResourceID,
		event.Detail, event.RequestID, event.Severity, event.CreatedAt)
	if err != nil {
		return wrapErr(err, "audit event")
	}
	return nil
}

func (p *Postgres) ListAuditEvents(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*types.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, user_id, action, resource, resource_id, detail, request_id, severity, created_at
		FROM audit_events WHERE organization_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, wrapErr(err, "audit events")
	}
	defer rows.Close()

	var out []*types.AuditEvent
	for rows.Next() {
		var e types.AuditEvent
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID,
			&e.Detail, &e.RequestID, &e.Severity, &e.CreatedAt); err != nil {
			return nil, wrapErr(err, "audit event")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Classification and execution records

func (p *Postgres) CreateClassification(ctx context.Context, c *types.Classification) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO classifications (id, organization_id, domain_id, query, intent, confidence, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrgID, c.DomainID, c.Query, c.Intent, c.Confidence, c.Reasoning, c.CreatedAt)
	if err != nil {
		return wrapErr(err, "classification")
	}
	return nil
}

func (p *Postgres) CreateExecution(ctx context.Context, e *types.RAGExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rag_executions (id, organization_id, domain_id, session_id, query, intent,
			retrieved_count, cache_hit, llm_failed, confidence, timings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.OrgID, e.DomainID, e.SessionID, e.Query, e.Intent,
		e.RetrievedCount, e.CacheHit, e.LLMFailed, e.Confidence, e.Timings, e.CreatedAt)
	if err != nil {
		return wrapErr(err, "execution record")
	}
	return nil
}

func (p *Postgres) ListExecutions(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.RAGExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, domain_id, session_id, query, intent,
			retrieved_count, cache_hit, llm_failed, confidence, timings, created_at
		FROM rag_executions WHERE organization_id = $1 AND domain_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		orgID, domainID, limit)
	if err != nil {
		return nil, wrapErr(err, "execution records")
	}
	defer rows.Close()

	var out []*types.RAGExecution
	for rows.Next() {
		var e types.RAGExecution
		if err := rows.Scan(&e.ID, &e.OrgID, &e.DomainID, &e.SessionID, &e.Query, &e.Intent,
			&e.RetrievedCount, &e.CacheHit, &e.LLMFailed, &e.Confidence, &e.Timings, &e.CreatedAt); err != nil {
			return nil, wrapErr(err, "execution record")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Workflow side tables

func (p *Postgres) CreateKnownIssue(ctx context.Context, issue *types.KnownIssue) error {
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO known_issues (id, organization_id, domain_id, title, symptoms, resolution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		issue.ID, issue.OrgID, issue.DomainID, issue.Title, issue.Symptoms, issue.Resolution, issue.CreatedAt)
	if err != nil {
		return wrapErr(err, "known issue")
	}
	return nil
}

func (p *Postgres) ListKnownIssues(ctx context.Context, orgID, domainID uuid.UUID) ([]*types.KnownIssue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, domain_id, title, symptoms, resolution, created_at
		FROM known_issues WHERE organization_id = $1 AND domain_id = $2
		ORDER BY created_at DESC`,
		orgID, domainID)
	if err != nil {
		return nil, wrapErr(err, "known issues")
	}
	defer rows.Close()

	var out []*types.KnownIssue
	for rows.Next() {
		var issue types.KnownIssue
		if err := rows.Scan(&issue.ID, &issue.OrgID, &issue.DomainID, &issue.Title,
			&issue.Symptoms, &issue.Resolution, &issue.CreatedAt); err != nil {
			return nil, wrapErr(err, "known issue")
		}
		out = append(out, &issue)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateFeatureCandidate(ctx context.Context, fc *types.FeatureCandidate) error {
	if fc.ID == uuid.Nil {
		fc.ID = uuid.New()
	}
	if fc.CreatedAt.IsZero() {
		fc.CreatedAt = time.Now()
	}
	if fc.Status == "" {
		fc.Status = "new"
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO feature_candidates (id, organization_id, domain_id, title, description, query, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fc.ID, fc.OrgID, fc.DomainID, fc.Title, fc.Description, fc.Query, fc.Status, fc.CreatedAt)
	if err != nil {
		return wrapErr(err, "feature candidate")
	}
	return nil
}

func (p *Postgres) ListFeatureCandidates(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.FeatureCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, domain_id, title, description, query, status, created_at
		FROM feature_candidates WHERE organization_id = $1 AND domain_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		orgID, domainID, limit)
	if err != nil {
		return nil, wrapErr(err, "feature candidates")
	}
	defer rows.Close()

	var out []*types.FeatureCandidate
	for rows.Next() {
		var fc types.FeatureCandidate
		if err := rows.Scan(&fc.ID, &fc.OrgID, &fc.DomainID, &fc.Title,
			&fc.Description, &fc.Query, &fc.Status, &fc.CreatedAt); err != nil {
			return nil, wrapErr(err, "feature candidate")
		}
		out = append(out, &fc)
	}
	return out, rows.Err()
}

// Auth session operations

const authSessionColumns = `id, user_id, organization_id, refresh_hash, state, replaced_by, expires_at, created_at, last_used_at`

func (p *Postgres) CreateAuthSession(ctx context.Context, s *types.AuthSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = s.CreatedAt
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_sessions (id, user_id, organization_id, refresh_hash, state, replaced_by, expires_at, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.OrgID, s.RefreshHash, s.State, s.ReplacedBy, s.ExpiresAt, s.CreatedAt, s.LastUsedAt)
	if err != nil {
		return wrapErr(err, "auth session")
	}
	return nil
}

func scanAuthSession(row pgx.Row) (*types.AuthSession, error) {
	var s types.AuthSession
	err := row.Scan(&s.ID, &s.UserID, &s.OrgID, &s.RefreshHash, &s.State, &s.ReplacedBy,
		&s.ExpiresAt, &s.CreatedAt, &s.LastUsedAt)
	if err != nil {
		return nil, wrapErr(err, "auth session")
	}
	return &s, nil
}

func (p *Postgres) GetAuthSession(ctx context.Context, id uuid.UUID) (*types.AuthSession, error) {
	return scanAuthSession(p.pool.QueryRow(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE id = $1`, id))
}

func (p *Postgres) GetAuthSessionByRefreshHash(ctx context.Context, hash string) (*types.AuthSession, error) {
	return scanAuthSession(p.pool.QueryRow(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE refresh_hash = $1`, hash))
}

func (p *Postgres) UpdateAuthSession(ctx context.Context, s *types.AuthSession) error {
	s.LastUsedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE auth_sessions SET state = $2, replaced_by = $3, expires_at = $4, last_used_at = $5
		WHERE id = $1`,
		s.ID, s.State, s.ReplacedBy, s.ExpiresAt, s.LastUsedAt)
	if err != nil {
		return wrapErr(err, "auth session")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "auth session")
	}
	return nil
}

// RevokeSessionChain revokes the session and every session linked to it by
// refresh rotation, in both directions, so a replayed token kills all live
// descendants of the stolen credential.
func (p *Postgres) RevokeSessionChain(ctx context.Context, startID uuid.UUID) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		WITH RECURSIVE fwd AS (
			SELECT id, replaced_by FROM auth_sessions WHERE id = $1
			UNION
			SELECT s.id, s.replaced_by FROM auth_sessions s JOIN fwd ON s.id = fwd.replaced_by
		), bwd AS (
			SELECT id, replaced_by FROM auth_sessions WHERE id = $1
			UNION
			SELECT s.id, s.replaced_by FROM auth_sessions s JOIN bwd ON s.replaced_by = bwd.id
		)
		UPDATE auth_sessions SET state = $2, last_used_at = now()
		WHERE (id IN (SELECT id FROM fwd) OR id IN (SELECT id FROM bwd)) AND state <> $2`,
		startID, types.SessionStateRevoked)
	if err != nil {
		return 0, wrapErr(err, "auth sessions")
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ExpireAuthSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE auth_sessions SET state = $1 WHERE state = $2 AND expires_at < $3`,
		types.SessionStateExpired, types.SessionStateActive, now)
	if err != nil {
		return 0, wrapErr(err, "auth sessions")
	}
	return int(tag.RowsAffected()), nil
}
