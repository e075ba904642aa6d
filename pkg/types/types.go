package types

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the top-level tenant. Every data row in the system belongs
// to exactly one organization; deletion cascades through domains, documents,
// chunks, sessions, and connectors.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"` // URL-safe unique identifier
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a person who can authenticate. Users belong to organizations
// through memberships; at most one membership is active for default context.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // bcrypt, never serialized
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OrgMember links a user to an organization with a role
type OrgMember struct {
	OrgID     uuid.UUID `json:"organization_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"` // default context for the user
	CreatedAt time.Time `json:"created_at"`
}

// Role names a permission set assigned per (user, org)
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// AccessMode controls who inside the org may query a domain
type AccessMode string

const (
	AccessPublic     AccessMode = "public"     // every org member
	AccessPrivate    AccessMode = "private"    // admins and owners only
	AccessRestricted AccessMode = "restricted" // explicit allow list, plus admins
)

// AIConfig is the per-domain model configuration
type AIConfig struct {
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	Temperature         float32 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	ConfidenceThreshold float64 `json:"confidence_threshold"` // below this, answers hand off
	SystemPrompt        string  `json:"system_prompt"`
}

// Domain is a knowledge partition inside one org. Identified by
// (org_id, name); cascade-deletes all its documents, chunks, and sessions.
type Domain struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"organization_id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Template    string         `json:"template"` // support | docs | internal | custom
	AI          AIConfig       `json:"ai_config"`
	AccessMode  AccessMode     `json:"access_mode"`
	Settings    map[string]any `json:"settings"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentStatus tracks the ingestion lifecycle of a source document
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// SourceType records where a document came from
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceWeb  SourceType = "web"
	SourceAPI  SourceType = "api"
)

// Document is an ingested source document ("file"). ContentHash is unique
// within (org, domain) and makes uploads idempotent.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"organization_id"`
	DomainID     uuid.UUID      `json:"domain_id"`
	Filename     string         `json:"filename"`
	ContentType  string         `json:"content_type"` // detected from magic bytes
	SizeBytes    int64          `json:"size_bytes"`
	ContentHash  string         `json:"content_hash"` // sha256 hex
	Source       SourceType     `json:"source"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"` // set when status reaches ready
	StoragePath  string         `json:"-"`           // object-store key
	Metadata     map[string]any `json:"metadata,omitempty"`
	UploadedBy   *uuid.UUID     `json:"uploaded_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ChunkMetadata carries the auxiliary structure extracted alongside the text
type ChunkMetadata struct {
	Page    int      `json:"page,omitempty"`
	Anchor  string   `json:"anchor,omitempty"`  // URL fragment for web sources
	Heading string   `json:"heading,omitempty"` // nearest preceding heading
	Images  []string `json:"images,omitempty"`  // base64, capped per document
	Steps   []string `json:"steps,omitempty"`   // extracted step-list items
}

// Chunk is the unit of embedding and retrieval. Org and domain ids are
// denormalised so isolation filters never need a join.
type Chunk struct {
	ID          uuid.UUID     `json:"id"` // deterministic: sha256(document, index, hash)
	DocumentID  uuid.UUID     `json:"document_id"`
	OrgID       uuid.UUID     `json:"organization_id"`
	DomainID    uuid.UUID     `json:"domain_id"`
	Index       int           `json:"chunk_index"`
	Content     string        `json:"content"`
	ContentHash string        `json:"content_hash"`
	ModelID     string        `json:"model_id"` // embedding model that produced the vector
	TokenCount  int           `json:"token_count"`
	Embedding   []float32     `json:"-"`
	Metadata    ChunkMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ConnectorType tags the source adapter variant
type ConnectorType string

const (
	ConnectorFile       ConnectorType = "file"
	ConnectorWeb        ConnectorType = "web"
	ConnectorJira       ConnectorType = "jira"
	ConnectorGitHub     ConnectorType = "github"
	ConnectorConfluence ConnectorType = "confluence"
)

// Connector is a configured source adapter feeding one domain. Config is the
// free-form JSON the client supplied; typed views are derived at the
// component boundary. Credential fields inside Config are encrypted at rest.
type Connector struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      uuid.UUID      `json:"organization_id"`
	DomainID   uuid.UUID      `json:"domain_id"`
	Name       string         `json:"name"`
	Type       ConnectorType  `json:"type"`
	Config     map[string]any `json:"config"`
	Enabled    bool           `json:"enabled"`
	Schedule   string         `json:"schedule,omitempty"` // sync interval, e.g. "6h"
	LastSyncAt *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SyncStatus tracks one connector sync invocation
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// SyncJob records one invocation of a connector's ingest cycle
type SyncJob struct {
	ID               uuid.UUID  `json:"id"`
	ConnectorID      uuid.UUID  `json:"connector_id"`
	OrgID            uuid.UUID  `json:"organization_id"`
	Status           SyncStatus `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	PagesProcessed   int        `json:"pages_processed"`
	DocumentsCreated int        `json:"documents_created"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// PageStatus records the outcome for one crawled URL
type PageStatus string

const (
	PageIngested         PageStatus = "ingested"
	PageSkippedDuplicate PageStatus = "skipped_duplicate"
	PageSkippedQuality   PageStatus = "skipped_low_quality"
	PageBlocked          PageStatus = "blocked" // robots or pattern
	PageFailed           PageStatus = "failed"
)

// QualityMetrics scores a crawled page's content in [0,1] per dimension
type QualityMetrics struct {
	Overall          float64 `json:"overall"`
	Readability      float64 `json:"readability"`
	ContentDensity   float64 `json:"content_density"`   // text / HTML ratio
	SemanticRichness float64 `json:"semantic_richness"` // heading structure
	InfoDensity      float64 `json:"info_density"`      // unique-term ratio
	Freshness        float64 `json:"freshness"`
}

// CrawledPage is the per-URL record a crawl session produces
type CrawledPage struct {
	ID             uuid.UUID      `json:"id"`
	ConnectorID    uuid.UUID      `json:"connector_id"`
	OrgID          uuid.UUID      `json:"organization_id"`
	DomainID       uuid.UUID      `json:"domain_id"`
	URL            string         `json:"url"`
	Title          string         `json:"title"`
	Status         PageStatus     `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	WordCount      int            `json:"word_count"`
	ContentHash    string         `json:"content_hash"`
	Depth          int            `json:"depth"`
	Quality        QualityMetrics `json:"quality_metrics"`
	ContentPreview string         `json:"content_preview,omitempty"`
	DocumentID     *uuid.UUID     `json:"document_id,omitempty"` // set when ingested
	LastCrawled    time.Time      `json:"last_crawled"`
}

// CrawlState is the crawl session state machine
type CrawlState string

const (
	CrawlIdle        CrawlState = "idle"
	CrawlDiscovering CrawlState = "discovering"
	CrawlFetching    CrawlState = "fetching"
	CrawlCompleted   CrawlState = "completed"
	CrawlFailed      CrawlState = "failed"
	CrawlCancelled   CrawlState = "cancelled"
)

// CrawlStats is the live view of a running crawl session
type CrawlStats struct {
	State           CrawlState `json:"state"`
	PagesDiscovered int        `json:"pages_discovered"`
	PagesProcessed  int        `json:"pages_processed"`
	PagesSucceeded  int        `json:"pages_succeeded"`
	PagesFailed     int        `json:"pages_failed"`
	PagesSkipped    int        `json:"pages_skipped"`
	BytesFetched    int64      `json:"bytes_fetched"`
	PagesPerMinute  float64    `json:"pages_per_minute"`
	EstimatedDoneAt *time.Time `json:"estimated_done_at,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
}

// SessionStatus tracks a chat session's lifecycle
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// ChatSession groups the messages of one conversation
type ChatSession struct {
	ID           uuid.UUID     `json:"id"`
	OrgID        uuid.UUID     `json:"organization_id"`
	DomainID     uuid.UUID     `json:"domain_id"`
	UserID       uuid.UUID     `json:"user_id"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	LastActivity time.Time     `json:"last_activity"`
	CreatedAt    time.Time     `json:"created_at"`
}

// MessageType distinguishes the author of a chat message
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

// Citation is a back-reference from an answer to a retrieval source
type Citation struct {
	Index      int       `json:"index"` // [n] marker in the answer
	DocumentID uuid.UUID `json:"document_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	Score      float64   `json:"score"`
}

// Message is one append-only entry in a chat session. Seq is assigned by the
// store under the per-session lock; messages are totally ordered by it.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	SessionID  uuid.UUID   `json:"session_id"`
	OrgID      uuid.UUID   `json:"organization_id"`
	Seq        int         `json:"seq"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	Intent     Intent      `json:"intent,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Citations  []Citation  `json:"citations,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Intent categorises a user query for workflow routing
type Intent string

const (
	IntentBugReport      Intent = "bug_report"
	IntentFeatureRequest Intent = "feature_request"
	IntentTraining       Intent = "training"
	IntentGeneralQuery   Intent = "general_query"
)

// Classification is the immutable audit record of one intent decision
type Classification struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"organization_id"`
	DomainID   uuid.UUID `json:"domain_id"`
	Query      string    `json:"query"`
	Intent     Intent    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecutionTimings breaks a query down per pipeline stage (milliseconds)
type ExecutionTimings struct {
	ClassifyMS   int64 `json:"classify_ms"`
	EmbedMS      int64 `json:"embed_ms"`
	SearchMS     int64 `json:"search_ms"`
	SynthesizeMS int64 `json:"synthesize_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// RAGExecution is the immutable audit record of one query pipeline run
type RAGExecution struct {
	ID             uuid.UUID        `json:"id"`
	OrgID          uuid.UUID        `json:"organization_id"`
	DomainID       uuid.UUID        `json:"domain_id"`
	SessionID      *uuid.UUID       `json:"session_id,omitempty"`
	Query          string           `json:"query"`
	Intent         Intent           `json:"intent"`
	RetrievedCount int              `json:"retrieved_count"`
	CacheHit       bool             `json:"cache_hit"`
	LLMFailed      bool             `json:"llm_failed"`
	Confidence     float64          `json:"confidence"`
	Timings        ExecutionTimings `json:"timings"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AuditSeverity grades audit events
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical" // invariant violations, token replay
)

// AuditEvent is the append-only record of an authority-relevant action
type AuditEvent struct {
	ID         uuid.UUID     `json:"id"`
	OrgID      uuid.UUID     `json:"organization_id"`
	UserID     *uuid.UUID    `json:"user_id,omitempty"`
	Action     string        `json:"action"` // e.g. file.uploaded, auth.denied
	Resource   string        `json:"resource"`
	ResourceID string        `json:"resource_id,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Severity   AuditSeverity `json:"severity"`
	CreatedAt  time.Time     `json:"created_at"`
}

// KnownIssue backs the bug workflow's cross-reference table
type KnownIssue struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"organization_id"`
	DomainID   uuid.UUID `json:"domain_id"`
	Title      string    `json:"title"`
	Symptoms   string    `json:"symptoms"`
	Resolution string    `json:"resolution"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeatureCandidate is logged by the feature workflow for novel requests
type FeatureCandidate struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"organization_id"`
	DomainID    uuid.UUID `json:"domain_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Query       string    `json:"query"`
	Status      string    `json:"status"` // new | triaged | declined
	CreatedAt   time.Time `json:"created_at"`
}

// JobKind names a background job type
type JobKind string

const (
	JobIngestDocument JobKind = "ingest_document"
	JobConnectorSync  JobKind = "connector_sync"
	JobReembedChunks  JobKind = "reembed_chunks"
)

// JobStatus is the durable queue lifecycle
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one durable queue entry. Payload is job-kind specific JSON.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Kind        JobKind   `json:"kind"`
	OrgID       uuid.UUID `json:"organization_id"`
	Payload     []byte    `json:"payload"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAt       time.Time `json:"run_at"` // not before; backoff reschedules push this out
	LockedBy    string    `json:"locked_by,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IngestPayload is the payload of an ingest_document job
type IngestPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// SyncPayload is the payload of a connector_sync job
type SyncPayload struct {
	ConnectorID uuid.UUID `json:"connector_id"`
	SyncJobID   uuid.UUID `json:"sync_job_id"`
}

// ReembedPayload is the payload of a reembed_chunks job. Documents listed
// here hold chunks whose stored embedding does not match the pinned model
// dimension.
type ReembedPayload struct {
	DomainID    uuid.UUID   `json:"domain_id"`
	DocumentIDs []uuid.UUID `json:"document_ids"`
}

// SearchMode selects pure vector or hybrid retrieval
type SearchMode string

const (
	SearchVector SearchMode = "vector"
	SearchHybrid SearchMode = "hybrid"
)

// RetrievalResult is one scored chunk returned to callers of search
type RetrievalResult struct {
	DocumentID uuid.UUID      `json:"source_id"`
	ChunkID    uuid.UUID      `json:"chunk_id"`
	ChunkIndex int            `json:"chunk_index"`
	Title      string         `json:"title"`
	Snippet    string         `json:"snippet"`
	Content    string         `json:"-"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionState is the auth session state machine
type SessionState string

const (
	SessionStateCreated   SessionState = "created"
	SessionStateActive    SessionState = "active"
	SessionStateExpired   SessionState = "expired"
	SessionStateRefreshed SessionState = "refreshed"
	SessionStateRevoked   SessionState = "revoked"
)

// AuthSession is the server-side record backing a token pair. Refresh
// rotation chains sessions through ReplacedBy; replaying a rotated refresh
// token revokes the whole chain.
type AuthSession struct {
	ID          uuid.UUID    `json:"id"`
	UserID      uuid.UUID    `json:"user_id"`
	OrgID       uuid.UUID    `json:"organization_id"`
	RefreshHash string       `json:"-"` // sha256 of the refresh token
	State       SessionState `json:"state"`
	ReplacedBy  *uuid.UUID   `json:"replaced_by,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at"`
	CreatedAt   time.Time    `json:"created_at"`
	LastUsedAt  time.Time    `json:"last_used_at"`
}

// TokenPair is what a successful authentication returns
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}
