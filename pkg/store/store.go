package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/types"
)

// OrganizationStore defines operations for organization persistence
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*types.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*types.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]*types.Organization, error)
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
}

// UserStore defines operations for user and membership persistence
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	UpdateUser(ctx context.Context, user *types.User) error
	AddMember(ctx context.Context, member *types.OrgMember) error
	GetMember(ctx context.Context, orgID, userID uuid.UUID) (*types.OrgMember, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*types.OrgMember, error)
	ActiveMembership(ctx context.Context, userID uuid.UUID) (*types.OrgMember, error)
}

// DomainStore defines operations for domain persistence
type DomainStore interface {
	CreateDomain(ctx context.Context, domain *types.Domain) error
	GetDomain(ctx context.Context, orgID, id uuid.UUID) (*types.Domain, error)
	GetDomainByName(ctx context.Context, orgID uuid.UUID, name string) (*types.Domain, error)
	ListDomains(ctx context.Context, orgID uuid.UUID) ([]*types.Domain, error)
	UpdateDomain(ctx context.Context, domain *types.Domain) error
	DeleteDomain(ctx context.Context, orgID, id uuid.UUID) error
}

// DocumentStore defines operations for source-document persistence
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, orgID, id uuid.UUID) (*types.Document, error)
	GetDocumentAny(ctx context.Context, id uuid.UUID) (*types.Document, error)
	GetDocumentByHash(ctx context.Context, orgID, domainID uuid.UUID, hash string) (*types.Document, error)
	ListDocuments(ctx context.Context, orgID, domainID uuid.UUID, status types.DocumentStatus, limit, offset int) ([]*types.Document, int, error)
	UpdateDocument(ctx context.Context, doc *types.Document) error
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error
	// FinishDocumentIngest atomically replaces the document's chunks and
	// marks it ready with the final count. Replace semantics make retried
	// ingest runs idempotent and turn re-ingest into an atomic swap.
	FinishDocumentIngest(ctx context.Context, documentID uuid.UUID, chunks []*types.Chunk) error
	DeleteDocument(ctx context.Context, orgID, id uuid.UUID) error
	DocumentCounts(ctx context.Context) (map[types.DocumentStatus]int, error)
}

// ChunkStore defines operations for chunk persistence. Chunks carry their
// embedding vector; the relational store is the source of truth the vector
// index is rebuilt from.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []*types.Chunk) error
	ReplaceDocumentChunks(ctx context.Context, documentID uuid.UUID, chunks []*types.Chunk) error
	ListChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*types.Chunk, error)
	ListChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID, createdAfter time.Time) ([]*types.Chunk, error)
	CountChunks(ctx context.Context, documentID uuid.UUID) (int, error)
	CountChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID) (int, error)
	LookupEmbedding(ctx context.Context, contentHash, modelID string) ([]float32, bool, error)
	DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int, error)
	ChunkCountsByTenant(ctx context.Context) ([]ChunkTenantCount, error)
}

// ChunkTenantCount aggregates chunk rows per (org, domain); the index
// reconciler compares these against live vector counts
type ChunkTenantCount struct {
	OrgID    uuid.UUID
	DomainID uuid.UUID
	Count    int
}

// ChatStore defines operations for session and message persistence.
// AppendMessages serialises concurrent appends to one session and assigns
// seq numbers inside the same transaction that bumps message_count.
type ChatStore interface {
	CreateSession(ctx context.Context, session *types.ChatSession) error
	GetSession(ctx context.Context, orgID, id uuid.UUID) (*types.ChatSession, error)
	ListSessions(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]*types.ChatSession, error)
	ArchiveSession(ctx context.Context, orgID, id uuid.UUID) error
	AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []*types.Message) error
	ListMessages(ctx context.Context, orgID, sessionID uuid.UUID, limit, offset int) ([]*types.Message, error)
	ActiveSessionCount(ctx context.Context, since time.Time) (int, error)
}

// ConnectorStore defines operations for connector, sync-job, and
// crawled-page persistence
type ConnectorStore interface {
	CreateConnector(ctx context.Context, c *types.Connector) error
	GetConnector(ctx context.Context, orgID, id uuid.UUID) (*types.Connector, error)
	ListConnectors(ctx context.Context, orgID, domainID uuid.UUID) ([]*types.Connector, error)
	UpdateConnector(ctx context.Context, c *types.Connector) error
	DeleteConnector(ctx context.Context, orgID, id uuid.UUID) error
	ListDueConnectors(ctx context.Context, now time.Time) ([]*types.Connector, error)

	CreateSyncJob(ctx context.Context, job *types.SyncJob) error
	UpdateSyncJob(ctx context.Context, job *types.SyncJob) error
	GetSyncJob(ctx context.Context, orgID, id uuid.UUID) (*types.SyncJob, error)
	ListSyncJobs(ctx context.Context, orgID, connectorID uuid.UUID, limit int) ([]*types.SyncJob, error)
	FailStaleSyncJobs(ctx context.Context, olderThan time.Time) (int, error)

	UpsertCrawledPage(ctx context.Context, page *types.CrawledPage) error
	ListCrawledPages(ctx context.Context, orgID, connectorID uuid.UUID, status types.PageStatus, limit, offset int) ([]*types.CrawledPage, int, error)
	GetPageByURL(ctx context.Context, connectorID uuid.UUID, url string) (*types.CrawledPage, error)
	GetPageByHash(ctx context.Context, orgID, domainID uuid.UUID, hash string) (*types.CrawledPage, error)
	RecentPages(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.CrawledPage, error)
	PageAnalytics(ctx context.Context, orgID, connectorID uuid.UUID) (*PageAnalytics, error)
}

// AuditStore defines operations for the append-only audit trail
type AuditStore interface {
	CreateAuditEvent(ctx context.Context, event *types.AuditEvent) error
	ListAuditEvents(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*types.AuditEvent, error)
}

// RecordStore defines operations for the query pipeline's immutable records
// and the workflow side tables
type RecordStore interface {
	CreateClassification(ctx context.Context, c *types.Classification) error
	CreateExecution(ctx context.Context, e *types.RAGExecution) error
	ListExecutions(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.RAGExecution, error)
	CreateKnownIssue(ctx context.Context, issue *types.KnownIssue) error
	ListKnownIssues(ctx context.Context, orgID, domainID uuid.UUID) ([]*types.KnownIssue, error)
	CreateFeatureCandidate(ctx context.Context, fc *types.FeatureCandidate) error
	ListFeatureCandidates(ctx context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.FeatureCandidate, error)
}

// AuthSessionStore defines operations for server-side auth sessions
type AuthSessionStore interface {
	CreateAuthSession(ctx context.Context, s *types.AuthSession) error
	GetAuthSession(ctx context.Context, id uuid.UUID) (*types.AuthSession, error)
	GetAuthSessionByRefreshHash(ctx context.Context, hash string) (*types.AuthSession, error)
	UpdateAuthSession(ctx context.Context, s *types.AuthSession) error
	RevokeSessionChain(ctx context.Context, startID uuid.UUID) (int, error)
	ExpireAuthSessions(ctx context.Context, now time.Time) (int, error)
}

// JobQueue is the durable background job queue. Dequeue claims at most one
// due job using row-level locking so concurrent workers never double-claim.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.Job) error
	Dequeue(ctx context.Context, workerID string, kinds []types.JobKind) (*types.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string, retryIn time.Duration) error
	RequeueStaleJobs(ctx context.Context, lease time.Duration) (int, error)
	PendingJobCount(ctx context.Context) (int, error)
}

// PageAnalytics aggregates crawl outcomes for one connector
type PageAnalytics struct {
	TotalPages     int                      `json:"total_pages"`
	ByStatus       map[types.PageStatus]int `json:"by_status"`
	AvgQuality     float64                  `json:"avg_quality"`
	AvgWordCount   float64                  `json:"avg_word_count"`
	DuplicateRatio float64                  `json:"duplicate_ratio"`
}

// Store aggregates every persistence interface. The postgres implementation
// satisfies all of them from one connection pool.
type Store interface {
	OrganizationStore
	UserStore
	DomainStore
	DocumentStore
	ChunkStore
	ChatStore
	ConnectorStore
	AuditStore
	RecordStore
	AuthSessionStore
	JobQueue

	// Close releases the underlying pool
	Close()
}
