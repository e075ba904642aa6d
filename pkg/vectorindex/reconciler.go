package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// ReconcileStore is the slice of the relational store the reconciler reads
type ReconcileStore interface {
	ChunkCountsByTenant(ctx context.Context) ([]store.ChunkTenantCount, error)
	ListChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID, createdAfter time.Time) ([]*types.Chunk, error)
}

// tenantCounts is the drift signature of one tenant at the last rebuild
// attempt. If nothing changed since, another rebuild cannot help and is
// skipped; this keeps tenants with un-embeddable chunks from rebuilding
// every tick while their re-embed jobs are still queued.
type tenantCounts struct {
	chunks  int
	vectors int
}

// Reconciler compares per-tenant chunk counts in the relational store with
// live vector counts in the index and rebuilds drifted tenants from the
// store. The store is the source of truth; the index is never trusted to
// heal it.
type Reconciler struct {
	index    Index
	store    ReconcileStore
	queue    store.JobQueue // nil disables re-embed scheduling
	interval time.Duration
	lastSeen map[tenantKey]tenantCounts
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler that runs every interval
func NewReconciler(index Index, st ReconcileStore, queue store.JobQueue, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		index:    index,
		store:    st,
		queue:    queue,
		interval: interval,
		lastSeen: make(map[tenantKey]tenantCounts),
		logger:   log.WithComponent("reconciler"),
	}
}

// Run reconciles once immediately, then on every tick until ctx is done
func (r *Reconciler) Run(ctx context.Context) {
	if _, err := r.ReconcileOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Initial index reconciliation failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Index reconciliation failed")
			}
		}
	}
}

// ReconcileOnce runs a single pass and returns how many tenants were rebuilt
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	counts, err := r.store.ChunkCountsByTenant(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	rebuilt := 0
	for _, tc := range counts {
		key := tenantKey{org: tc.OrgID, domain: tc.DomainID}

		stats, err := r.index.Stats(ctx, tc.OrgID, tc.DomainID)
		if err != nil {
			r.logger.Error().Err(err).Str("tenant", key.String()).Msg("Failed to read index stats")
			continue
		}
		if stats.VectorCount == tc.Count {
			delete(r.lastSeen, key)
			continue
		}
		if prev, ok := r.lastSeen[key]; ok && prev.chunks == tc.Count && prev.vectors == stats.VectorCount {
			continue
		}

		r.logger.Warn().
			Str("tenant", key.String()).
			Int("chunks", tc.Count).
			Int("vectors", stats.VectorCount).
			Msg("Index drift detected, rebuilding tenant from store")

		indexed, err := r.rebuild(ctx, tc.OrgID, tc.DomainID, stats.Dimension)
		if err != nil {
			r.logger.Error().Err(err).Str("tenant", key.String()).Msg("Tenant rebuild failed")
			continue
		}
		r.lastSeen[key] = tenantCounts{chunks: tc.Count, vectors: indexed}
		rebuilt++
		metrics.IndexRebuilds.Inc()
	}
	return rebuilt, nil
}

// rebuild reloads one tenant from the store and returns how many vectors
// made it into the index
func (r *Reconciler) rebuild(ctx context.Context, orgID, domainID uuid.UUID, dimension int) (int, error) {
	chunks, err := r.store.ListChunksByDomain(ctx, orgID, domainID, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}

	items := make([]Item, 0, len(chunks))
	staleDocs := make(map[uuid.UUID]bool)
	for _, chunk := range chunks {
		if len(chunk.Embedding) != dimension {
			staleDocs[chunk.DocumentID] = true
			continue
		}
		items = append(items, ItemFromChunk(chunk))
	}

	if _, err := r.index.Delete(ctx, orgID, domainID, Filter{}); err != nil {
		return 0, fmt.Errorf("failed to clear tenant: %w", err)
	}
	if err := r.index.Upsert(ctx, orgID, domainID, items); err != nil {
		return 0, fmt.Errorf("failed to reload %d vectors: %w", len(items), err)
	}

	if len(staleDocs) > 0 {
		r.scheduleReembed(ctx, orgID, domainID, staleDocs)
	}
	return len(items), nil
}

// scheduleReembed queues one re-embed job covering every document whose
// stored vectors no longer match the pinned dimension
func (r *Reconciler) scheduleReembed(ctx context.Context, orgID, domainID uuid.UUID, docs map[uuid.UUID]bool) {
	if r.queue == nil {
		r.logger.Warn().
			Int("documents", len(docs)).
			Msg("Found chunks with mismatched embedding dimension and no queue to re-embed them")
		return
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	payload, err := json.Marshal(types.ReembedPayload{DomainID: domainID, DocumentIDs: ids})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode re-embed payload")
		return
	}
	job := &types.Job{
		Kind:    types.JobReembedChunks,
		OrgID:   orgID,
		Payload: payload,
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		r.logger.Error().Err(err).Msg("Failed to enqueue re-embed job")
		return
	}
	r.logger.Info().
		Int("documents", len(ids)).
		Str("job_id", job.ID.String()).
		Msg("Queued re-embedding for documents with stale vectors")
}
