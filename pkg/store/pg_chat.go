package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomehq/tome/pkg/types"
)

// Chat operations

func (p *Postgres) CreateSession(ctx context.Context, session *types.ChatSession) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if session.Status == "" {
		session.Status = types.SessionActive
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, organization_id, domain_id, user_id, title, status, message_count, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.OrgID, session.DomainID, session.UserID, session.Title,
		session.Status, session.MessageCount, session.LastActivity, session.CreatedAt)
	if err != nil {
		return wrapErr(err, "session")
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, orgID, id uuid.UUID) (*types.ChatSession, error) {
	var s types.ChatSession
	err := p.pool.QueryRow(ctx, `
		SELECT id, organization_id, domain_id, user_id, title, status, message_count, last_activity, created_at
		FROM chat_sessions WHERE id = $1 AND organization_id = $2`, id, orgID).
		Scan(&s.ID, &s.OrgID, &s.DomainID, &s.UserID, &s.Title, &s.Status, &s.MessageCount, &s.LastActivity, &s.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "session")
	}
	return &s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]*types.ChatSession, error) {
	query := `
		SELECT id, organization_id, domain_id, user_id, title, status, message_count, last_activity, created_at
		FROM chat_sessions WHERE organization_id = $1`
	args := []any{orgID}
	if userID != uuid.Nil {
		args = append(args, userID)
		query += ` AND user_id = $2`
	}
	query += ` ORDER BY last_activity DESC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "sessions")
	}
	defer rows.Close()

	var out []*types.ChatSession
	for rows.Next() {
		var s types.ChatSession
		if err := rows.Scan(&s.ID, &s.OrgID, &s.DomainID, &s.UserID, &s.Title, &s.Status, &s.MessageCount, &s.LastActivity, &s.CreatedAt); err != nil {
			return nil, wrapErr(err, "session")
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) ArchiveSession(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE chat_sessions SET status = $3 WHERE id = $1 AND organization_id = $2`,
		id, orgID, types.SessionArchived)
	if err != nil {
		return wrapErr(err, "session")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "session")
	}
	return nil
}

// AppendMessages assigns seq numbers under a row lock on the session, so
// concurrent appends to one conversation serialise and seq stays gapless.
func (p *Postgres) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		var orgID uuid.UUID
		var count int
		err := tx.QueryRow(ctx, `
			SELECT organization_id, message_count FROM chat_sessions WHERE id = $1 FOR UPDATE`,
			sessionID).Scan(&orgID, &count)
		if err != nil {
			return wrapErr(err, "session")
		}

		now := time.Now()
		for _, msg := range msgs {
			count++
			msg.Seq = count
			msg.SessionID = sessionID
			msg.OrgID = orgID
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = now
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO messages (id, session_id, organization_id, seq, type, content, intent, confidence, citations, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				msg.ID, msg.SessionID, msg.OrgID, msg.Seq, msg.Type, msg.Content,
				msg.Intent, msg.Confidence, msg.Citations, msg.CreatedAt); err != nil {
				return wrapErr(err, "message")
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE chat_sessions SET message_count = $2, last_activity = $3 WHERE id = $1`,
			sessionID, count, now); err != nil {
			return wrapErr(err, "session")
		}
		return nil
	})
}

func (p *Postgres) ListMessages(ctx context.Context, orgID, sessionID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	// Session lookup enforces tenancy; messages carry org_id for defence in
	// depth but the filter below is what callers rely on.
	if _, err := p.GetSession(ctx, orgID, sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, organization_id, seq, type, content, intent, confidence, citations, created_at
		FROM messages WHERE session_id = $1 AND organization_id = $2
		ORDER BY seq`
	args := []any{sessionID, orgID}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "messages")
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.OrgID, &msg.Seq, &msg.Type, &msg.Content,
			&msg.Intent, &msg.Confidence, &msg.Citations, &msg.CreatedAt); err != nil {
			return nil, wrapErr(err, "message")
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (p *Postgres) ActiveSessionCount(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM chat_sessions WHERE status = $1 AND last_activity > $2`,
		types.SessionActive, since).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, "sessions")
	}
	return n, nil
}
