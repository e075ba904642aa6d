package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/tomehq/tome/pkg/types"
)

// Document operations

const documentColumns = `id, organization_id, domain_id, filename, content_type, size_bytes,
	content_hash, source, status, error_message, chunk_count, storage_path, metadata,
	uploaded_by, created_at, updated_at`

func (p *Postgres) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = doc.CreatedAt
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, organization_id, domain_id, filename, content_type, size_bytes,
			content_hash, source, status, error_message, chunk_count, storage_path, metadata,
			uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		doc.ID, doc.OrgID, doc.DomainID, doc.Filename, doc.ContentType, doc.SizeBytes,
		doc.ContentHash, doc.Source, doc.Status, doc.ErrorMessage, doc.ChunkCount, doc.StoragePath,
		doc.Metadata, doc.UploadedBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return wrapErr(err, "document")
	}
	return nil
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	var doc types.Document
	err := row.Scan(&doc.ID, &doc.OrgID, &doc.DomainID, &doc.Filename, &doc.ContentType, &doc.SizeBytes,
		&doc.ContentHash, &doc.Source, &doc.Status, &doc.ErrorMessage, &doc.ChunkCount, &doc.StoragePath,
		&doc.Metadata, &doc.UploadedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err, "document")
	}
	return &doc, nil
}

func (p *Postgres) GetDocument(ctx context.Context, orgID, id uuid.UUID) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND organization_id = $2`, id, orgID))
}

func (p *Postgres) GetDocumentAny(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

func (p *Postgres) GetDocumentByHash(ctx context.Context, orgID, domainID uuid.UUID, hash string) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE organization_id = $1 AND domain_id = $2 AND content_hash = $3`,
		orgID, domainID, hash))
}

func (p *Postgres) ListDocuments(ctx context.Context, orgID, domainID uuid.UUID, status types.DocumentStatus, limit, offset int) ([]*types.Document, int, error) {
	where := `WHERE organization_id = $1`
	args := []any{orgID}
	if domainID != uuid.Nil {
		args = append(args, domainID)
		where += fmt.Sprintf(` AND domain_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr(err, "documents")
	}

	query := `SELECT ` + documentColumns + ` FROM documents ` + where + ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr(err, "documents")
	}
	defer rows.Close()

	var out []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	return out, total, rows.Err()
}

func (p *Postgres) UpdateDocument(ctx context.Context, doc *types.Document) error {
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET filename = $3, content_type = $4, size_bytes = $5, content_hash = $6,
			source = $7, metadata = $8, updated_at = $9
		WHERE id = $1 AND organization_id = $2`,
		doc.ID, doc.OrgID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.ContentHash,
		doc.Source, doc.Metadata, doc.UpdatedAt)
	if err != nil {
		return wrapErr(err, "document")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "document")
	}
	return nil
}

func (p *Postgres) SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, error_message = $4, updated_at = now()
		WHERE id = $1`,
		id, status, chunkCount, errMsg)
	if err != nil {
		return wrapErr(err, "document")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "document")
	}
	return nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM documents WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return wrapErr(err, "document")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "document")
	}
	return nil
}

func (p *Postgres) DocumentCounts(ctx context.Context) (map[types.DocumentStatus]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, count(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, wrapErr(err, "documents")
	}
	defer rows.Close()

	counts := make(map[types.DocumentStatus]int)
	for rows.Next() {
		var status types.DocumentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr(err, "documents")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Chunk operations

const chunkColumns = `id, document_id, organization_id, domain_id, chunk_index, content,
	content_hash, model_id, token_count, embedding, metadata, created_at`

func (p *Postgres) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		for _, chunk := range chunks {
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, organization_id, domain_id, chunk_index, content,
					content_hash, model_id, token_count, embedding, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (document_id, chunk_index) DO UPDATE SET
					id = EXCLUDED.id,
					content = EXCLUDED.content,
					content_hash = EXCLUDED.content_hash,
					model_id = EXCLUDED.model_id,
					token_count = EXCLUDED.token_count,
					embedding = EXCLUDED.embedding,
					metadata = EXCLUDED.metadata`,
				chunk.ID, chunk.DocumentID, chunk.OrgID, chunk.DomainID, chunk.Index, chunk.Content,
				chunk.ContentHash, chunk.ModelID, chunk.TokenCount, pgvector.NewVector(chunk.Embedding),
				chunk.Metadata, chunk.CreatedAt); err != nil {
				return wrapErr(err, "chunk")
			}
		}
		return nil
	})
}

func (p *Postgres) ReplaceDocumentChunks(ctx context.Context, documentID uuid.UUID, chunks []*types.Chunk) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return wrapErr(err, "chunks")
		}
		for _, chunk := range chunks {
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, organization_id, domain_id, chunk_index, content,
					content_hash, model_id, token_count, embedding, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				chunk.ID, chunk.DocumentID, chunk.OrgID, chunk.DomainID, chunk.Index, chunk.Content,
				chunk.ContentHash, chunk.ModelID, chunk.TokenCount, pgvector.NewVector(chunk.Embedding),
				chunk.Metadata, chunk.CreatedAt); err != nil {
				return wrapErr(err, "chunk")
			}
		}
		return nil
	})
}

func (p *Postgres) FinishDocumentIngest(ctx context.Context, documentID uuid.UUID, chunks []*types.Chunk) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return wrapErr(err, "chunks")
		}
		for _, chunk := range chunks {
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, organization_id, domain_id, chunk_index, content,
					content_hash, model_id, token_count, embedding, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				chunk.ID, chunk.DocumentID, chunk.OrgID, chunk.DomainID, chunk.Index, chunk.Content,
				chunk.ContentHash, chunk.ModelID, chunk.TokenCount, pgvector.NewVector(chunk.Embedding),
				chunk.Metadata, chunk.CreatedAt); err != nil {
				return wrapErr(err, "chunk")
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE documents SET status = $2, chunk_count = $3, error_message = '', updated_at = now()
			WHERE id = $1`,
			documentID, types.DocumentReady, len(chunks))
		if err != nil {
			return wrapErr(err, "document")
		}
		if tag.RowsAffected() == 0 {
			return wrapErr(pgx.ErrNoRows, "document")
		}
		return nil
	})
}

func scanChunk(row pgx.Row) (*types.Chunk, error) {
	var chunk types.Chunk
	var embedding pgvector.Vector
	err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.OrgID, &chunk.DomainID, &chunk.Index, &chunk.Content,
		&chunk.ContentHash, &chunk.ModelID, &chunk.TokenCount, &embedding, &chunk.Metadata, &chunk.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "chunk")
	}
	chunk.Embedding = embedding.Slice()
	return &chunk, nil
}

func (p *Postgres) ListChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`
	args := []any{documentID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "chunks")
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func (p *Postgres) ListChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID, createdAfter time.Time) ([]*types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE organization_id = $1 AND domain_id = $2 AND created_at > $3
		ORDER BY created_at`,
		orgID, domainID, createdAfter)
	if err != nil {
		return nil, wrapErr(err, "chunks")
	}
	defer rows.Close()

	var out []*types.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func (p *Postgres) CountChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, "chunks")
	}
	return n, nil
}

func (p *Postgres) CountChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM chunks WHERE organization_id = $1 AND domain_id = $2`,
		orgID, domainID).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, "chunks")
	}
	return n, nil
}

// LookupEmbedding serves the content-addressed embedding reuse path: a chunk
// whose text already went through the same model never re-embeds.
func (p *Postgres) LookupEmbedding(ctx context.Context, contentHash, modelID string) ([]float32, bool, error) {
	var embedding pgvector.Vector
	err := p.pool.QueryRow(ctx, `
		SELECT embedding FROM chunks
		WHERE content_hash = $1 AND model_id = $2 AND embedding IS NOT NULL
		LIMIT 1`,
		contentHash, modelID).Scan(&embedding)
	if err != nil {
		if errorsIsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr(err, "embedding")
	}
	return embedding.Slice(), true, nil
}

func (p *Postgres) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, wrapErr(err, "chunks")
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ChunkCountsByTenant(ctx context.Context) ([]ChunkTenantCount, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT organization_id, domain_id, count(*) FROM chunks
		GROUP BY organization_id, domain_id
		ORDER BY organization_id, domain_id`)
	if err != nil {
		return nil, wrapErr(err, "chunk counts")
	}
	defer rows.Close()

	var out []ChunkTenantCount
	for rows.Next() {
		var c ChunkTenantCount
		if err := rows.Scan(&c.OrgID, &c.DomainID, &c.Count); err != nil {
			return nil, wrapErr(err, "chunk counts")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
