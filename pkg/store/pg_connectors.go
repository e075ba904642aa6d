package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomehq/tome/pkg/types"
)

// Connector operations

const connectorColumns = `id, organization_id, domain_id, name, type, config, enabled, schedule, last_sync_at, created_at, updated_at`

func (p *Postgres) CreateConnector(ctx context.Context, c *types.Connector) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO connectors (id, organization_id, domain_id, name, type, config, enabled, schedule, last_sync_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.OrgID, c.DomainID, c.Name, c.Type, c.Config, c.Enabled, c.Schedule, c.LastSyncAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return wrapErr(err, "connector")
	}
	return nil
}

func scanConnector(row pgx.Row) (*types.Connector, error) {
	var c types.Connector
	err := row.Scan(&c.ID, &c.OrgID, &c.DomainID, &c.Name, &c.Type, &c.Config, &c.Enabled,
		&c.Schedule, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err, "connector")
	}
	return &c, nil
}

func (p *Postgres) GetConnector(ctx context.Context, orgID, id uuid.UUID) (*types.Connector, error) {
	return scanConnector(p.pool.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE id = $1 AND organization_id = $2`, id, orgID))
}

func (p *Postgres) ListConnectors(ctx context.Context, orgID, domainID uuid.UUID) ([]*types.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE organization_id = $1`
	args := []any{orgID}
	if domainID != uuid.Nil {
		args = append(args, domainID)
		query += ` AND domain_id = $2`
	}
	query += ` ORDER BY name`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "connectors")
	}
	defer rows.Close()

	var out []*types.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateConnector(ctx context.Context, c *types.Connector) error {
	c.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE connectors SET name = $3, config = $4, enabled = $5, schedule = $6, last_sync_at = $7, updated_at = $8
		WHERE id = $1 AND organization_id = $2`,
		c.ID, c.OrgID, c.Name, c.Config, c.Enabled, c.Schedule, c.LastSyncAt, c.UpdatedAt)
	if err != nil {
		return wrapErr(err, "connector")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "connector")
	}
	return nil
}

func (p *Postgres) DeleteConnector(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM connectors WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return wrapErr(err, "connector")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "connector")
	}
	return nil
}

// ListDueConnectors fetches enabled scheduled connectors and filters due
// ones in Go; schedules are Go duration strings, not SQL intervals.
func (p *Postgres) ListDueConnectors(ctx context.Context, now time.Time) ([]*types.Connector, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+connectorColumns+` FROM connectors
		WHERE enabled AND schedule <> ''
		ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err, "connectors")
	}
	defer rows.Close()

	var out []*types.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		interval, err := time.ParseDuration(c.Schedule)
		if err != nil || interval <= 0 {
			continue
		}
		if c.LastSyncAt == nil || c.LastSyncAt.Add(interval).Before(now) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// Sync job operations

func (p *Postgres) CreateSyncJob(ctx context.Context, job *types.SyncJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_jobs (id, connector_id, organization_id, status, started_at, completed_at,
			pages_processed, documents_created, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.ConnectorID, job.OrgID, job.Status, job.StartedAt, job.CompletedAt,
		job.PagesProcessed, job.DocumentsCreated, job.ErrorMessage, job.CreatedAt)
	if err != nil {
		return wrapErr(err, "sync job")
	}
	return nil
}

func (p *Postgres) UpdateSyncJob(ctx context.Context, job *types.SyncJob) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, started_at = $3, completed_at = $4,
			pages_processed = $5, documents_created = $6, error_message = $7
		WHERE id = $1`,
		job.ID, job.Status, job.StartedAt, job.CompletedAt,
		job.PagesProcessed, job.DocumentsCreated, job.ErrorMessage)
	if err != nil {
		return wrapErr(err, "sync job")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "sync job")
	}
	return nil
}

func (p *Postgres) GetSyncJob(ctx context.Context, orgID, id uuid.UUID) (*types.SyncJob, error) {
	var job types.SyncJob
	err := p.pool.QueryRow(ctx, `
		SELECT id, connector_id, organization_id, status, started_at, completed_at,
			pages_processed, documents_created, error_message, created_at
		FROM sync_jobs WHERE id = $1 AND organization_id = $2`, id, orgID).
		Scan(&job.ID, &job.ConnectorID, &job.OrgID, &job.Status, &job.StartedAt, &job.CompletedAt,
			&job.PagesProcessed, &job.DocumentsCreated, &job.ErrorMessage, &job.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "sync job")
	}
	return &job, nil
}

func (p *Postgres) ListSyncJobs(ctx context.Context, orgID, connectorID uuid.UUID, limit int) ([]*types.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, connector_id, organization_id, status, started_at, completed_at,
			pages_processed, documents_created, error_message, created_at
		FROM sync_jobs WHERE organization_id = $1 AND connector_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		orgID, connectorID, limit)
	if err != nil {
		return nil, wrapErr(err, "sync jobs")
	}
	defer rows.Close()

	var out []*types.SyncJob
	for rows.Next() {
		var job types.SyncJob
		if err := rows.Scan(&job.ID, &job.ConnectorID, &job.OrgID, &job.Status, &job.StartedAt, &job.CompletedAt,
			&job.PagesProcessed, &job.DocumentsCreated, &job.ErrorMessage, &job.CreatedAt); err != nil {
			return nil, wrapErr(err, "sync job")
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

func (p *Postgres) FailStaleSyncJobs(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sync_jobs SET status = $1, error_message = 'sync exceeded maximum runtime', completed_at = now()
		WHERE status = $2 AND coalesce(started_at, created_at) < $3`,
		types.SyncFailed, types.SyncRunning, olderThan)
	if err != nil {
		return 0, wrapErr(err, "sync jobs")
	}
	return int(tag.RowsAffected()), nil
}

// Crawled page operations

const pageColumns = `id, connector_id, organization_id, domain_id, url, title, status, error_message,
	word_count, content_hash, depth, quality_metrics, content_preview, document_id, last_crawled`

func (p *Postgres) UpsertCrawledPage(ctx context.Context, page *types.CrawledPage) error {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	if page.LastCrawled.IsZero() {
		page.LastCrawled = time.Now()
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO crawled_pages (id, connector_id, organization_id, domain_id, url, title, status, error_message,
			word_count, content_hash, depth, quality_metrics, content_preview, document_id, last_crawled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (connector_id, url) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			word_count = EXCLUDED.word_count,
			content_hash = EXCLUDED.content_hash,
			depth = EXCLUDED.depth,
			quality_metrics = EXCLUDED.quality_metrics,
			content_preview = EXCLUDED.content_preview,
			document_id = EXCLUDED.document_id,
			last_crawled = EXCLUDED.last_crawled
		RETURNING id`,
		page.ID, page.ConnectorID, page.OrgID, page.DomainID, page.URL, page.Title, page.Status, page.ErrorMessage,
		page.WordCount, page.ContentHash, page.Depth, page.Quality, page.ContentPreview, page.DocumentID, page.LastCrawled).
		Scan(&page.ID)
	if err != nil {
		return wrapErr(err, "crawled page")
	}
	return nil
}

func scanPage(row pgx.Row) (*types.CrawledPage, error) {
	var page types.CrawledPage
	err := row.Scan(&page.ID, &page.ConnectorID, &page.OrgID, &page.DomainID, &page.URL, &page.Title,
		&page.Status, &page.ErrorMessage, &page.WordCount, &page.ContentHash, &page.Depth,
		&page.Quality, &page.ContentPreview, &page.DocumentID, &page.LastCrawled)
	if err != nil {
		return nil, wrapErr(err, "crawled page")
	}
	return &page, nil
}

func (p *Postgres) ListCrawledPages(ctx context.Context, orgID, connectorID uuid.UUID, status types.PageStatus, limit, offset int) ([]*types.CrawledPage, int, error) {
	where := `WHERE organization_id = $1 AND connector_id = $2`
	args := []any{orgID, connectorID}
	if status != "" {
		args = append(args, status)
		where += ` AND status = $3`
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM crawled_pages `+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr(err, "crawled pages")
	}

	query := `SELECT ` + pageColumns + ` FROM crawled_pages ` + where + ` ORDER BY last_crawled DESC`
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
		return nil, 0, wrapErr(err, "crawled pages")
	}
	defer rows.Close()

	var out []*types.CrawledPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, page)
	}
	return out, total, rows.Err()
}

func (p *Postgres) GetPageByURL(ctx context.Context, connectorID uuid.UUID, url string) (*types.CrawledPage, error) {
	return scanPage(p.pool.QueryRow(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE connector_id = $1 AND url = $2`,
		connectorID, url))
}

func (p *Postgres) GetPageByHash(ctx context.Context, orgID, domainID uuid.UUID, hash string) (*types.CrawledPage, error) {
	return scanPage(p.pool.QueryRow(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE organization_id = $1 AND domain_id = $2 AND content_hash = $3
		LIMIT 1`,
		orgID, domainID, hash))
}

func (p *Postgres) RecentPages(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.CrawledPage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE organization_id = $1 AND domain_id = $2
		ORDER BY last_crawled DESC LIMIT $3`,
		orgID, domainID, limit)
	if err != nil {
		return nil, wrapErr(err, "crawled pages")
	}
	defer rows.Close()

	var out []*types.CrawledPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func (p *Postgres) PageAnalytics(ctx context.Context, orgID, connectorID uuid.UUID) (*PageAnalytics, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT status, count(*), avg((quality_metrics->>'overall')::float), avg(word_count)
		FROM crawled_pages
		WHERE organization_id = $1 AND connector_id = $2
		GROUP BY status`,
		orgID, connectorID)
	if err != nil {
		return nil, wrapErr(err, "page analytics")
	}
	defer rows.Close()

	analytics := &PageAnalytics{ByStatus: make(map[types.PageStatus]int)}
	var qualityWeighted, wordWeighted float64
	for rows.Next() {
		var status types.PageStatus
		var n int
		var avgQuality, avgWords *float64
		if err := rows.Scan(&status, &n, &avgQuality, &avgWords); err != nil {
			return nil, wrapErr(err, "page analytics")
		}
		analytics.ByStatus[status] = n
		analytics.TotalPages += n
		if avgQuality != nil {
			qualityWeighted += *avgQuality * float64(n)
		}
		if avgWords != nil {
			wordWeighted += *avgWords * float64(n)
		}
	}
	if analytics.TotalPages > 0 {
		analytics.AvgQuality = qualityWeighted / float64(analytics.TotalPages)
		analytics.AvgWordCount = wordWeighted / float64(analytics.TotalPages)
		analytics.DuplicateRatio = float64(analytics.ByStatus[types.PageSkippedDuplicate]) / float64(analytics.TotalPages)
	}
	return analytics, rows.Err()
}
