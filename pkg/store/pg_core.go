package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomehq/tome/pkg/types"
)

// Organization operations

func (p *Postgres) CreateOrganization(ctx context.Context, org *types.Organization) error {
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = org.CreatedAt
	_, err := p.pool.Exec(ctx, `
		INSERT INTO organizations (id, slug, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Slug, org.Name, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return wrapErr(err, "organization")
	}
	return nil
}

func (p *Postgres) GetOrganization(ctx context.Context, id uuid.UUID) (*types.Organization, error) {
	return scanOrganization(p.pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at, updated_at
		FROM organizations WHERE id = $1`, id))
}

func (p *Postgres) GetOrganizationBySlug(ctx context.Context, slug string) (*types.Organization, error) {
	return scanOrganization(p.pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at, updated_at
		FROM organizations WHERE slug = $1`, slug))
}

func scanOrganization(row pgx.Row) (*types.Organization, error) {
	var org types.Organization
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err, "organization")
	}
	return &org, nil
}

func (p *Postgres) ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]*types.Organization, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT o.id, o.slug, o.name, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.slug`, userID)
	if err != nil {
		return nil, wrapErr(err, "organizations")
	}
	defer rows.Close()

	var out []*types.Organization
	for rows.Next() {
		var org types.Organization
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, wrapErr(err, "organization")
		}
		out = append(out, &org)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err, "organization")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "organization")
	}
	return nil
}

// User operations

func (p *Postgres) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, active, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return wrapErr(err, "user")
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, active, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, active, created_at, updated_at
		FROM users WHERE email = lower($1)`, email))
}

func scanUser(row pgx.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err, "user")
	}
	return &user, nil
}

func (p *Postgres) UpdateUser(ctx context.Context, user *types.User) error {
	user.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET email = lower($2), password_hash = $3, active = $4, updated_at = $5
		WHERE id = $1`,
		user.ID, user.Email, user.PasswordHash, user.Active, user.UpdatedAt)
	if err != nil {
		return wrapErr(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "user")
	}
	return nil
}

func (p *Postgres) AddMember(ctx context.Context, member *types.OrgMember) error {
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if member.Active {
			// At most one active membership per user.
			if _, err := tx.Exec(ctx, `
				UPDATE org_members SET active = false WHERE user_id = $1 AND active`,
				member.UserID); err != nil {
				return wrapErr(err, "membership")
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO org_members (organization_id, user_id, role, active, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			member.OrgID, member.UserID, member.Role, member.Active, member.CreatedAt); err != nil {
			return wrapErr(err, "membership")
		}
		return nil
	})
}

func (p *Postgres) GetMember(ctx context.Context, orgID, userID uuid.UUID) (*types.OrgMember, error) {
	var member types.OrgMember
	err := p.pool.QueryRow(ctx, `
		SELECT organization_id, user_id, role, active, created_at
		FROM org_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID).
		Scan(&member.OrgID, &member.UserID, &member.Role, &member.Active, &member.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "membership")
	}
	return &member, nil
}

func (p *Postgres) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*types.OrgMember, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT organization_id, user_id, role, active, created_at
		FROM org_members WHERE organization_id = $1
		ORDER BY created_at`, orgID)
	if err != nil {
		return nil, wrapErr(err, "memberships")
	}
	defer rows.Close()

	var out []*types.OrgMember
	for rows.Next() {
		var member types.OrgMember
		if err := rows.Scan(&member.OrgID, &member.UserID, &member.Role, &member.Active, &member.CreatedAt); err != nil {
			return nil, wrapErr(err, "membership")
		}
		out = append(out, &member)
	}
	return out, rows.Err()
}

func (p *Postgres) ActiveMembership(ctx context.Context, userID uuid.UUID) (*types.OrgMember, error) {
	var member types.OrgMember
	err := p.pool.QueryRow(ctx, `
		SELECT organization_id, user_id, role, active, created_at
		FROM org_members WHERE user_id = $1 AND active
		LIMIT 1`, userID).
		Scan(&member.OrgID, &member.UserID, &member.Role, &member.Active, &member.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "membership")
	}
	return &member, nil
}

// Domain operations

func (p *Postgres) CreateDomain(ctx context.Context, domain *types.Domain) error {
	if domain.CreatedAt.IsZero() {
		domain.CreatedAt = time.Now()
	}
	domain.UpdatedAt = domain.CreatedAt
	if domain.Settings == nil {
		domain.Settings = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO domains (id, organization_id, name, display_name, template, ai_config, access_mode, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		domain.ID, domain.OrgID, domain.Name, domain.DisplayName, domain.Template,
		domain.AI, domain.AccessMode, domain.Settings, domain.CreatedAt, domain.UpdatedAt)
	if err != nil {
		return wrapErr(err, "domain")
	}
	return nil
}

func (p *Postgres) GetDomain(ctx context.Context, orgID, id uuid.UUID) (*types.Domain, error) {
	return scanDomain(p.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, display_name, template, ai_config, access_mode, settings, created_at, updated_at
		FROM domains WHERE id = $1 AND organization_id = $2`, id, orgID))
}

func (p *Postgres) GetDomainByName(ctx context.Context, orgID uuid.UUID, name string) (*types.Domain, error) {
	return scanDomain(p.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, display_name, template, ai_config, access_mode, settings, created_at, updated_at
		FROM domains WHERE organization_id = $1 AND name = $2`, orgID, name))
}

func scanDomain(row pgx.Row) (*types.Domain, error) {
	var domain types.Domain
	err := row.Scan(&domain.ID, &domain.OrgID, &domain.Name, &domain.DisplayName, &domain.Template,
		&domain.AI, &domain.AccessMode, &domain.Settings, &domain.CreatedAt, &domain.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err, "domain")
	}
	return &domain, nil
}

func (p *Postgres) ListDomains(ctx context.Context, orgID uuid.UUID) ([]*types.Domain, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, name, display_name, template, ai_config, access_mode, settings, created_at, updated_at
		FROM domains WHERE organization_id = $1
		ORDER BY name`, orgID)
	if err != nil {
		return nil, wrapErr(err, "domains")
	}
	defer rows.Close()

	var out []*types.Domain
	for rows.Next() {
		var domain types.Domain
		if err := rows.Scan(&domain.ID, &domain.OrgID, &domain.Name, &domain.DisplayName, &domain.Template,
			&domain.AI, &domain.AccessMode, &domain.Settings, &domain.CreatedAt, &domain.UpdatedAt); err != nil {
			return nil, wrapErr(err, "domain")
		}
		out = append(out, &domain)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDomain(ctx context.Context, domain *types.Domain) error {
	domain.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE domains SET display_name = $3, template = $4, ai_config = $5, access_mode = $6, settings = $7, updated_at = $8
		WHERE id = $1 AND organization_id = $2`,
		domain.ID, domain.OrgID, domain.DisplayName, domain.Template,
		domain.AI, domain.AccessMode, domain.Settings, domain.UpdatedAt)
	if err != nil {
		return wrapErr(err, "domain")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "domain")
	}
	return nil
}

func (p *Postgres) DeleteDomain(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM domains WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return wrapErr(err, "domain")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "domain")
	}
	return nil
}
