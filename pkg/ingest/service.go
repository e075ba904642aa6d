package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/ai"
	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/blob"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
)

// BlobStore is the object-storage surface ingestion needs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// EmbeddingCache serves vectors for content already embedded under the
// same model, surviving worker restarts and re-crawls.
type EmbeddingCache interface {
	Get(ctx context.Context, contentHash, modelID string) ([]float32, bool)
	Put(ctx context.Context, contentHash, modelID string, vector []float32) error
}

// AnswerCache is invalidated whenever a tenant's corpus changes.
type AnswerCache interface {
	Invalidate(ctx context.Context, orgID, domainID uuid.UUID) error
}

// Deps carries the service's collaborators. Store, Blobs, Index, and
// Embedder are required; the caches and broker may be nil.
type Deps struct {
	Store      store.Store
	Blobs      BlobStore
	Index      vectorindex.Index
	Embedder   ai.Embedder
	EmbedCache EmbeddingCache
	QueryCache AnswerCache
	Audit      *audit.Recorder
	Broker     *events.Broker
	Config     config.IngestConfig
	BatchSize  int
}

// Service owns the document lifecycle: upload, background processing into
// embedded chunks, re-ingest, and delete. Processing is idempotent; a job
// redelivered after a crash converges on the same chunks.
type Service struct {
	store      store.Store
	blobs      BlobStore
	index      vectorindex.Index
	embedder   ai.Embedder
	embedCache EmbeddingCache
	queryCache AnswerCache
	audit      *audit.Recorder
	broker     *events.Broker
	registry   *Registry
	chunker    *Chunker
	cfg        config.IngestConfig
	batchSize  int
	logger     zerolog.Logger
}

// NewService creates the ingestion service.
func NewService(deps Deps) *Service {
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 64
	}
	return &Service{
		store:      deps.Store,
		blobs:      deps.Blobs,
		index:      deps.Index,
		embedder:   deps.Embedder,
		embedCache: deps.EmbedCache,
		queryCache: deps.QueryCache,
		audit:      deps.Audit,
		broker:     deps.Broker,
		registry:   NewRegistry(deps.Config.MaxImagesPerDoc),
		chunker:    NewChunker(deps.Config.ChunkTargetTokens, deps.Config.ChunkOverlapTokens),
		cfg:        deps.Config,
		batchSize:  batch,
		logger:     log.WithComponent("ingest"),
	}
}

// UploadInput describes one file upload.
type UploadInput struct {
	OrgID      uuid.UUID
	DomainID   uuid.UUID
	Filename   string
	Data       []byte
	Source     types.SourceType
	Metadata   map[string]any
	UploadedBy *uuid.UUID
}

// Upload validates and stores a document, then queues it for processing.
// The returned document is in the pending state; callers poll or subscribe
// for the ready transition. Content already present in the domain under
// the same hash is rejected with ErrDuplicateHash.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*types.Document, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("empty upload: %w", errdefs.ErrBadRequest)
	}
	if max := s.cfg.UploadMaxBytes; max > 0 && int64(len(in.Data)) > max {
		return nil, fmt.Errorf("upload is %d bytes, limit is %d: %w", len(in.Data), max, errdefs.ErrTooLarge)
	}
	contentType, err := s.registry.Detect(in.Filename, in.Data)
	if err != nil {
		return nil, err
	}

	org, err := s.store.GetOrganization(ctx, in.OrgID)
	if err != nil {
		return nil, err
	}
	domain, err := s.store.GetDomain(ctx, in.OrgID, in.DomainID)
	if err != nil {
		return nil, err
	}

	hash := hashBytes(in.Data)
	if existing, err := s.store.GetDocumentByHash(ctx, in.OrgID, in.DomainID, hash); err == nil {
		return nil, fmt.Errorf("content already ingested as document %s: %w", existing.ID, errdefs.ErrDuplicateHash)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	source := in.Source
	if source == "" {
		source = types.SourceFile
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		filename = "untitled"
	}
	doc := &types.Document{
		ID:          uuid.New(),
		OrgID:       in.OrgID,
		DomainID:    in.DomainID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(in.Data)),
		ContentHash: hash,
		Source:      source,
		Status:      types.DocumentPending,
		Metadata:    in.Metadata,
		UploadedBy:  in.UploadedBy,
	}
	doc.StoragePath = blob.ObjectKey(org.Slug, domain.Name, doc.ID, blob.SafeFilename(filename))

	if err := s.blobs.Put(ctx, doc.StoragePath, in.Data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, doc.StoragePath)
		if errdefs.IsConflict(err) {
			// Lost a race with an identical concurrent upload.
			return nil, fmt.Errorf("content already ingested: %w", errdefs.ErrDuplicateHash)
		}
		return nil, err
	}
	if err := s.enqueueIngest(ctx, doc); err != nil {
		s.discardBlob(ctx, doc.StoragePath)
		if derr := s.store.DeleteDocument(ctx, doc.OrgID, doc.ID); derr != nil {
			s.logger.Error().Err(derr).Str("document_id", doc.ID.String()).
				Msg("Failed to roll back document after enqueue failure")
		}
		return nil, err
	}

	s.auditRecord(ctx, doc, in.UploadedBy, events.EventFileUploaded,
		fmt.Sprintf("uploaded %s (%d bytes)", filename, len(in.Data)))
	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("org_id", doc.OrgID.String()).
		Str("domain_id", doc.DomainID.String()).
		Str("content_type", contentType).
		Int64("size_bytes", doc.SizeBytes).
		Msg("Document uploaded")
	return doc, nil
}

// ProcessDocument runs the background pipeline for a queued document:
// extract, chunk, embed, persist, index. Safe to call again after a crash;
// an already-ready document is a no-op.
func (s *Service) ProcessDocument(ctx context.Context, documentID uuid.UUID) error {
	return s.process(ctx, documentID, false)
}

func (s *Service) process(ctx context.Context, documentID uuid.UUID, force bool) error {
	doc, err := s.store.GetDocumentAny(ctx, documentID)
	if errdefs.IsNotFound(err) {
		// Deleted while queued; nothing to do.
		s.logger.Warn().Str("document_id", documentID.String()).Msg("Queued document no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status == types.DocumentReady && !force {
		return nil
	}
	if err := s.store.SetDocumentStatus(ctx, doc.ID, types.DocumentProcessing, doc.ChunkCount, ""); err != nil {
		return err
	}
	data, err := s.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to load document content: %w", err)
	}
	return s.processData(ctx, doc, data)
}

// processData is the shared pipeline tail used by queued processing and
// the synchronous web-ingest path. The document must be in the processing
// state; on success it is ready with its chunks persisted and indexed.
func (s *Service) processData(ctx context.Context, doc *types.Document, data []byte) error {
	stage := time.Now()
	_, extraction, err := s.registry.Extract(doc.Filename, data)
	if err != nil {
		return err
	}
	metrics.IngestDuration.WithLabelValues("extract").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	chunks := s.chunker.Chunk(doc, extraction, s.embedder.Model())
	metrics.IngestDuration.WithLabelValues("chunk").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	if err := s.embedChunks(ctx, chunks); err != nil {
		return err
	}
	metrics.IngestDuration.WithLabelValues("embed").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	if err := s.store.FinishDocumentIngest(ctx, doc.ID, chunks); err != nil {
		return err
	}
	metrics.IngestDuration.WithLabelValues("store").Observe(time.Since(stage).Seconds())

	// The relational store is committed; index trouble past this point is
	// drift the reconciler repairs, not a pipeline failure.
	stage = time.Now()
	s.swapIndexed(ctx, doc, chunks)
	metrics.IngestDuration.WithLabelValues("index").Observe(time.Since(stage).Seconds())

	if s.queryCache != nil {
		if err := s.queryCache.Invalidate(ctx, doc.OrgID, doc.DomainID); err != nil {
			s.logger.Warn().Err(err).Str("domain_id", doc.DomainID.String()).
				Msg("Failed to invalidate query cache")
		}
	}

	metrics.ChunksIngested.Add(float64(len(chunks)))
	s.publish(events.EventDocumentReady, doc,
		fmt.Sprintf("%s processed into %d chunks", doc.Filename, len(chunks)))
	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("org_id", doc.OrgID.String()).
		Int("chunks", len(chunks)).
		Msg("Document ready")
	return nil
}

// swapIndexed replaces the document's vectors: stale entries from a prior
// revision go first, then the fresh set.
func (s *Service) swapIndexed(ctx context.Context, doc *types.Document, chunks []*types.Chunk) {
	filter := vectorindex.Filter{DocumentIDs: []uuid.UUID{doc.ID}}
	if _, err := s.index.Delete(ctx, doc.OrgID, doc.DomainID, filter); err != nil {
		s.logger.Error().Err(err).Str("document_id", doc.ID.String()).
			Msg("Failed to clear stale vectors")
		return
	}
	if len(chunks) == 0 {
		return
	}
	items := make([]vectorindex.Item, len(chunks))
	for i, chunk := range chunks {
		items[i] = vectorindex.ItemFromChunk(chunk)
	}
	if err := s.index.Upsert(ctx, doc.OrgID, doc.DomainID, items); err != nil {
		s.logger.Error().Err(err).Str("document_id", doc.ID.String()).
			Msg("Failed to index document vectors")
	}
}

// embedChunks fills in embeddings, serving from the content-addressed
// caches first and batching the misses through the embedding service.
func (s *Service) embedChunks(ctx context.Context, chunks []*types.Chunk) error {
	modelID := s.embedder.Model()
	var misses []*types.Chunk
	for _, chunk := range chunks {
		if vector, ok := s.cachedEmbedding(ctx, chunk.ContentHash, modelID); ok {
			chunk.Embedding = vector
			metrics.EmbeddingCacheHits.Inc()
			continue
		}
		misses = append(misses, chunk)
	}

	for start := 0; start < len(misses); start += s.batchSize {
		end := min(start+s.batchSize, len(misses))
		batch := misses[start:end]
		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed %d chunks: %w", len(batch), err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks: %w",
				len(vectors), len(batch), errdefs.ErrIntegrity)
		}
		for i, vector := range vectors {
			batch[i].Embedding = vector
			if s.embedCache != nil {
				if err := s.embedCache.Put(ctx, batch[i].ContentHash, modelID, vector); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to cache embedding")
				}
			}
		}
	}
	return nil
}

// cachedEmbedding consults the shared cache first, then prior chunk rows.
// Both are keyed by (content hash, model id), so a model change never
// serves stale vectors.
func (s *Service) cachedEmbedding(ctx context.Context, contentHash, modelID string) ([]float32, bool) {
	if s.embedCache != nil {
		if vector, ok := s.embedCache.Get(ctx, contentHash, modelID); ok {
			return vector, true
		}
	}
	vector, ok, err := s.store.LookupEmbedding(ctx, contentHash, modelID)
	if err != nil || !ok {
		return nil, false
	}
	return vector, true
}

// Reingest reprocesses a document with new content, swapping its chunks
// and vectors atomically from a reader's point of view. Used when a
// crawled page or synced record changes upstream. Unchanged content on an
// already-ready document is a no-op.
func (s *Service) Reingest(ctx context.Context, documentID uuid.UUID, data []byte) error {
	doc, err := s.store.GetDocumentAny(ctx, documentID)
	if err != nil {
		return err
	}
	if max := s.cfg.UploadMaxBytes; max > 0 && int64(len(data)) > max {
		return fmt.Errorf("replacement is %d bytes, limit is %d: %w", len(data), max, errdefs.ErrTooLarge)
	}
	hash := hashBytes(data)
	if hash == doc.ContentHash && doc.Status == types.DocumentReady {
		return nil
	}
	contentType, err := s.registry.Detect(doc.Filename, data)
	if err != nil {
		return err
	}

	doc.ContentType = contentType
	doc.SizeBytes = int64(len(data))
	doc.ContentHash = hash
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	if err := s.store.SetDocumentStatus(ctx, doc.ID, types.DocumentProcessing, doc.ChunkCount, ""); err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, doc.StoragePath, data, contentType); err != nil {
		return fmt.Errorf("failed to store replacement content: %w", err)
	}
	if err := s.processData(ctx, doc, data); err != nil {
		s.failDocument(ctx, doc, err)
		return err
	}
	return nil
}

// WebPage is crawled or synced content handed to ingestion as markdown.
type WebPage struct {
	OrgID       uuid.UUID
	DomainID    uuid.UUID
	ConnectorID uuid.UUID
	URL         string
	Title       string
	Markdown    string
}

// IngestWeb creates a document from crawled content and processes it
// synchronously; the caller is already a background worker. Content whose
// hash is already in the domain returns the existing document with
// created=false instead of an error, since re-crawls routinely refetch
// unchanged pages.
func (s *Service) IngestWeb(ctx context.Context, page WebPage) (*types.Document, bool, error) {
	data := []byte(page.Markdown)
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty page content: %w", errdefs.ErrBadRequest)
	}
	hash := hashBytes(data)
	if existing, err := s.store.GetDocumentByHash(ctx, page.OrgID, page.DomainID, hash); err == nil {
		return existing, false, nil
	} else if !errdefs.IsNotFound(err) {
		return nil, false, err
	}

	org, err := s.store.GetOrganization(ctx, page.OrgID)
	if err != nil {
		return nil, false, err
	}
	domain, err := s.store.GetDomain(ctx, page.OrgID, page.DomainID)
	if err != nil {
		return nil, false, err
	}

	metadata := map[string]any{"url": page.URL}
	if page.Title != "" {
		metadata["title"] = page.Title
	}
	if page.ConnectorID != uuid.Nil {
		metadata["connector_id"] = page.ConnectorID.String()
	}
	doc := &types.Document{
		ID:          uuid.New(),
		OrgID:       page.OrgID,
		DomainID:    page.DomainID,
		Filename:    webFilename(page.URL),
		ContentType: "text/markdown",
		SizeBytes:   int64(len(data)),
		ContentHash: hash,
		Source:      types.SourceWeb,
		Status:      types.DocumentPending,
		Metadata:    metadata,
	}
	doc.StoragePath = blob.ObjectKey(org.Slug, domain.Name, doc.ID, doc.Filename)

	if err := s.blobs.Put(ctx, doc.StoragePath, data, doc.ContentType); err != nil {
		return nil, false, fmt.Errorf("failed to store page content: %w", err)
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, doc.StoragePath)
		if errdefs.IsConflict(err) {
			if existing, lookupErr := s.store.GetDocumentByHash(ctx, page.OrgID, page.DomainID, hash); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if err := s.store.SetDocumentStatus(ctx, doc.ID, types.DocumentProcessing, 0, ""); err != nil {
		return nil, false, err
	}
	if err := s.processData(ctx, doc, data); err != nil {
		s.failDocument(ctx, doc, err)
		return doc, true, err
	}
	return doc, true, nil
}

// DeleteDocument removes a document, its chunks, vectors, and stored
// blob. The relational rows go first: a crash partway leaves orphan
// vectors the reconciler sweeps, never resurrected rows.
func (s *Service) DeleteDocument(ctx context.Context, orgID, documentID uuid.UUID, actor *uuid.UUID) error {
	doc, err := s.store.GetDocument(ctx, orgID, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, orgID, documentID); err != nil {
		return err
	}

	filter := vectorindex.Filter{DocumentIDs: []uuid.UUID{doc.ID}}
	if _, err := s.index.Delete(ctx, doc.OrgID, doc.DomainID, filter); err != nil {
		s.logger.Error().Err(err).Str("document_id", doc.ID.String()).
			Msg("Failed to remove document vectors")
	}
	if doc.StoragePath != "" {
		s.discardBlob(ctx, doc.StoragePath)
	}
	if s.queryCache != nil {
		if err := s.queryCache.Invalidate(ctx, doc.OrgID, doc.DomainID); err != nil {
			s.logger.Warn().Err(err).Str("domain_id", doc.DomainID.String()).
				Msg("Failed to invalidate query cache")
		}
	}

	s.auditRecord(ctx, doc, actor, events.EventFileDeleted, fmt.Sprintf("deleted %s", doc.Filename))
	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("org_id", doc.OrgID.String()).
		Msg("Document deleted")
	return nil
}

// failDocument marks a document failed with a bounded error message and
// raises the matching event and audit entry.
func (s *Service) failDocument(ctx context.Context, doc *types.Document, procErr error) {
	msg := procErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := s.store.SetDocumentStatus(ctx, doc.ID, types.DocumentFailed, 0, msg); err != nil {
		s.logger.Error().Err(err).Str("document_id", doc.ID.String()).
			Msg("Failed to mark document failed")
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			OrgID:      doc.OrgID,
			Action:     string(events.EventDocumentFailed),
			Resource:   "document",
			ResourceID: doc.ID.String(),
			Detail:     fmt.Sprintf("%s: %s", doc.Filename, msg),
			Severity:   types.AuditWarning,
		})
	}
	s.publish(events.EventDocumentFailed, doc, fmt.Sprintf("%s failed: %s", doc.Filename, msg))
	s.logger.Error().Err(procErr).
		Str("document_id", doc.ID.String()).
		Str("org_id", doc.OrgID.String()).
		Msg("Document processing failed")
}

func (s *Service) enqueueIngest(ctx context.Context, doc *types.Document) error {
	payload, err := json.Marshal(types.IngestPayload{DocumentID: doc.ID})
	if err != nil {
		return fmt.Errorf("failed to encode ingest payload: %w", err)
	}
	job := &types.Job{
		Kind:    types.JobIngestDocument,
		OrgID:   doc.OrgID,
		Payload: payload,
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to queue document processing: %w", err)
	}
	return nil
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove stored blob")
	}
}

func (s *Service) auditRecord(ctx context.Context, doc *types.Document, actor *uuid.UUID, action events.EventType, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Entry{
		OrgID:      doc.OrgID,
		UserID:     actor,
		Action:     string(action),
		Resource:   "document",
		ResourceID: doc.ID.String(),
		Detail:     detail,
	})
}

func (s *Service) publish(eventType events.EventType, doc *types.Document, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    eventType,
		OrgID:   doc.OrgID,
		Message: message,
		Metadata: map[string]string{
			"document_id": doc.ID.String(),
			"domain_id":   doc.DomainID.String(),
			"filename":    doc.Filename,
		},
	})
}

// webFilename derives a stable object name from a page URL.
func webFilename(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "page.md"
	}
	slug := strings.Trim(u.Path, "/")
	if slug == "" {
		slug = u.Host
	}
	slug = strings.ReplaceAll(slug, "/", "-")
	return blob.SafeFilename(slug + ".md")
}
