package store

import "fmt"

// Schema returns the full DDL. It is idempotent; migrate runs it on every
// deploy. The embedding column dimension comes from configuration and must
// match the pinned embedding model.
func Schema(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS organizations (
    id              UUID PRIMARY KEY,
    slug            TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
    id              UUID PRIMARY KEY,
    email           TEXT NOT NULL UNIQUE,
    password_hash   TEXT NOT NULL,
    active          BOOLEAN NOT NULL DEFAULT true,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS org_members (
    organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    user_id         UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    active          BOOLEAN NOT NULL DEFAULT false,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (organization_id, user_id)
);

CREATE TABLE IF NOT EXISTS domains (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    display_name    TEXT NOT NULL DEFAULT '',
    template        TEXT NOT NULL DEFAULT 'custom',
    ai_config       JSONB NOT NULL DEFAULT '{}',
    access_mode     TEXT NOT NULL DEFAULT 'public',
    settings        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (organization_id, name)
);

CREATE TABLE IF NOT EXISTS documents (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    domain_id       UUID NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
    filename        TEXT NOT NULL,
    content_type    TEXT NOT NULL DEFAULT '',
    size_bytes      BIGINT NOT NULL DEFAULT 0,
    content_hash    TEXT NOT NULL,
    source          TEXT NOT NULL DEFAULT 'file',
    status          TEXT NOT NULL DEFAULT 'pending',
    error_message   TEXT NOT NULL DEFAULT '',
    chunk_count     INTEGER NOT NULL DEFAULT 0,
    storage_path    TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    uploaded_by     UUID,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (organization_id, domain_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (organization_id, domain_id, status);

CREATE TABLE IF NOT EXISTS chunks (
    id              UUID PRIMARY KEY,
    document_id     UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    chunk_index     INTEGER NOT NULL,
    content         TEXT NOT NULL,
    content_hash    TEXT NOT NULL,
    model_id        TEXT NOT NULL DEFAULT '',
    token_count     INTEGER NOT NULL DEFAULT 0,
    embedding       vector(%d),
    metadata        JSONB NOT NULL DEFAULT '{}',
    content_tsv     TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks (organization_id, domain_id);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks (content_hash, model_id);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING gin (content_tsv);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    domain_id       UUID NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
    user_id         UUID NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active',
    message_count   INTEGER NOT NULL DEFAULT 0,
    last_activity   TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON chat_sessions (organization_id, user_id, last_activity DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              UUID PRIMARY KEY,
    session_id      UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    organization_id UUID NOT NULL,
    seq             INTEGER NOT NULL,
    type            TEXT NOT NULL,
    content         TEXT NOT NULL,
    intent          TEXT NOT NULL DEFAULT '',
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    citations       JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS connectors (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    domain_id       UUID NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    type            TEXT NOT NULL,
    config          JSONB NOT NULL DEFAULT '{}',
    enabled         BOOLEAN NOT NULL DEFAULT true,
    schedule        TEXT NOT NULL DEFAULT '',
    last_sync_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (organization_id, domain_id, name)
);

CREATE TABLE IF NOT EXISTS sync_jobs (
    id                UUID PRIMARY KEY,
    connector_id      UUID NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
    organization_id   UUID NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    started_at        TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ,
    pages_processed   INTEGER NOT NULL DEFAULT 0,
    documents_created INTEGER NOT NULL DEFAULT 0,
    error_message     TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_connector ON sync_jobs (connector_id, created_at DESC);

CREATE TABLE IF NOT EXISTS crawled_pages (
    id              UUID PRIMARY KEY,
    connector_id    UUID NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    url             TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    error_message   TEXT NOT NULL DEFAULT '',
    word_count      INTEGER NOT NULL DEFAULT 0,
    content_hash    TEXT NOT NULL DEFAULT '',
    depth           INTEGER NOT NULL DEFAULT 0,
    quality_metrics JSONB NOT NULL DEFAULT '{}',
    content_preview TEXT NOT NULL DEFAULT '',
    document_id     UUID,
    last_crawled    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (connector_id, url)
);
CREATE INDEX IF NOT EXISTS idx_pages_tenant ON crawled_pages (organization_id, domain_id, last_crawled DESC);
CREATE INDEX IF NOT EXISTS idx_pages_hash ON crawled_pages (organization_id, domain_id, content_hash);

CREATE TABLE IF NOT EXISTS audit_events (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    user_id         UUID,
    action          TEXT NOT NULL,
    resource        TEXT NOT NULL DEFAULT '',
    resource_id     TEXT NOT NULL DEFAULT '',
    detail          TEXT NOT NULL DEFAULT '',
    request_id      TEXT NOT NULL DEFAULT '',
    severity        TEXT NOT NULL DEFAULT 'info',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_events (organization_id, created_at DESC);

CREATE TABLE IF NOT EXISTS classifications (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    query           TEXT NOT NULL,
    intent          TEXT NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    reasoning       TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rag_executions (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    session_id      UUID,
    query           TEXT NOT NULL,
    intent          TEXT NOT NULL DEFAULT '',
    retrieved_count INTEGER NOT NULL DEFAULT 0,
    cache_hit       BOOLEAN NOT NULL DEFAULT false,
    llm_failed      BOOLEAN NOT NULL DEFAULT false,
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    timings         JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_executions_tenant ON rag_executions (organization_id, domain_id, created_at DESC);

CREATE TABLE IF NOT EXISTS known_issues (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    title           TEXT NOT NULL,
    symptoms        TEXT NOT NULL DEFAULT '',
    resolution      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feature_candidates (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    domain_id       UUID NOT NULL,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    query           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'new',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS auth_sessions (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    organization_id UUID NOT NULL,
    refresh_hash    TEXT NOT NULL UNIQUE,
    state           TEXT NOT NULL DEFAULT 'active',
    replaced_by     UUID,
    expires_at      TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_used_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_state ON auth_sessions (state, expires_at);

CREATE TABLE IF NOT EXISTS jobs (
    id              UUID PRIMARY KEY,
    kind            TEXT NOT NULL,
    organization_id UUID NOT NULL,
    payload         BYTEA,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL DEFAULT 3,
    run_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    locked_by       TEXT NOT NULL DEFAULT '',
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (status, run_at);
`
