package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/metrics"
)

// PgIndex implements Index on the chunks table itself: with pgvector the
// relational store and the query structure are the same rows, so Upsert
// writes the embedding column of rows the ingestion pipeline already
// persisted, and Delete clears it. A missing row on Upsert means the two
// write paths drifted and fails the batch.
type PgIndex struct {
	pool      *pgxpool.Pool
	dimension int
	weights   Weights
}

var _ Index = (*PgIndex)(nil)

// NewPgIndex creates a pgvector-backed index over the given pool
func NewPgIndex(pool *pgxpool.Pool, dimension int, weights Weights) *PgIndex {
	if weights.Vector == 0 && weights.Keyword == 0 {
		weights = DefaultWeights
	}
	return &PgIndex{pool: pool, dimension: dimension, weights: weights}
}

func (x *PgIndex) Upsert(ctx context.Context, orgID, domainID uuid.UUID, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if len(item.Vector) != x.dimension {
			return fmt.Errorf("vector dimension %d, index pinned to %d: %w",
				len(item.Vector), x.dimension, errdefs.ErrIntegrity)
		}
		if item.OrgID != orgID || item.DomainID != domainID {
			return fmt.Errorf("item %s scoped to %s/%s, upsert targets %s/%s: %w",
				item.ID, item.OrgID, item.DomainID, orgID, domainID, errdefs.ErrIntegrity)
		}
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return errdefs.Storage(err, true)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		tag, err := tx.Exec(ctx, `
			UPDATE chunks SET embedding = $4
			WHERE id = $1 AND organization_id = $2 AND domain_id = $3`,
			item.ID, orgID, domainID, pgvector.NewVector(item.Vector))
		if err != nil {
			return errdefs.Storage(err, true)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("chunk %s missing from relational store: %w", item.ID, errdefs.ErrIntegrity)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errdefs.Storage(err, true)
	}
	return nil
}

func (x *PgIndex) Delete(ctx context.Context, orgID, domainID uuid.UUID, filter Filter) (int, error) {
	query := `UPDATE chunks SET embedding = NULL WHERE organization_id = $1 AND domain_id = $2 AND embedding IS NOT NULL`
	args := []any{orgID, domainID}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		query += ` AND document_id = ANY($3)`
	}
	tag, err := x.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, errdefs.Storage(err, true)
	}
	return int(tag.RowsAffected()), nil
}

func (x *PgIndex) Search(ctx context.Context, orgID, domainID uuid.UUID, vector []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search k must be positive: %w", errdefs.ErrBadRequest)
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("query vector dimension %d, index pinned to %d: %w",
			len(vector), x.dimension, errdefs.ErrIntegrity)
	}

	query := pgvector.NewVector(Normalize(vector))
	args := []any{orgID, domainID, query}

	score := `1 - (embedding <=> $3)`
	where := `organization_id = $1 AND domain_id = $2 AND embedding IS NOT NULL`

	if filter != nil && len(filter.Keywords) > 0 {
		args = append(args, strings.Join(filter.Keywords, " "))
		score = fmt.Sprintf(
			`%s * (1 - (embedding <=> $3)) + %s * ts_rank(content_tsv, plainto_tsquery('english', $%d))`,
			formatWeight(x.weights.Vector), formatWeight(x.weights.Keyword), len(args))
	}
	if filter != nil && len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		where += fmt.Sprintf(` AND document_id = ANY($%d)`, len(args))
	}
	args = append(args, k)

	sql := fmt.Sprintf(`
		SELECT id, document_id, organization_id, domain_id, chunk_index, content, metadata, %s AS score
		FROM chunks
		WHERE %s
		ORDER BY score DESC, created_at, chunk_index
		LIMIT $%d`, score, where, len(args))

	start := time.Now()
	rows, err := x.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errdefs.Storage(err, true)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Item.ID, &r.Item.DocumentID, &r.Item.OrgID, &r.Item.DomainID,
			&r.Item.ChunkIndex, &r.Item.Content, &r.Item.Metadata, &r.Similarity); err != nil {
			return nil, errdefs.Storage(err, true)
		}
		if r.Item.OrgID != orgID || r.Item.DomainID != domainID {
			return nil, fmt.Errorf("search returned item %s outside tenant scope: %w",
				r.Item.ID, errdefs.ErrIntegrity)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Storage(err, true)
	}
	metrics.IndexSearchDuration.Observe(time.Since(start).Seconds())
	return results, nil
}

func (x *PgIndex) Stats(ctx context.Context, orgID, domainID uuid.UUID) (Stats, error) {
	stats := Stats{Dimension: x.dimension}
	var last *time.Time
	err := x.pool.QueryRow(ctx, `
		SELECT count(*), max(created_at) FROM chunks
		WHERE organization_id = $1 AND domain_id = $2 AND embedding IS NOT NULL`,
		orgID, domainID).Scan(&stats.VectorCount, &last)
	if err != nil {
		return Stats{}, errdefs.Storage(err, true)
	}
	if last != nil {
		stats.LastUpdated = *last
	}
	return stats, nil
}

// formatWeight renders a blend weight as a SQL literal. Weights come from
// config, never from request input.
func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
