package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/types"
)

// tenantKey identifies one logical index
type tenantKey struct {
	org    uuid.UUID
	domain uuid.UUID
}

func (k tenantKey) String() string {
	return k.org.String() + "/" + k.domain.String()
}

// tenantIndex is one tenant's slice: normalised vectors in insertion order
// plus an ID lookup. Replacing an item keeps its original slot so tie-break
// order stays stable across re-ingestion.
type tenantIndex struct {
	items       []Item
	byID        map[uuid.UUID]int
	lastUpdated time.Time
}

// MemoryIndex is the in-process Index implementation. Tenant slices live
// behind a single RWMutex: searches run concurrently, a batch commit takes
// the write lock for the whole batch so readers never observe a half-applied
// upsert. When a SnapshotStore is attached every mutation writes through to
// disk.
type MemoryIndex struct {
	dimension int
	weights   Weights

	mu      sync.RWMutex
	tenants map[tenantKey]*tenantIndex

	snapshots *SnapshotStore
	logger    zerolog.Logger
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index pinned to the given dimension.
// snapshots may be nil, which disables persistence.
func NewMemoryIndex(dimension int, weights Weights, snapshots *SnapshotStore) *MemoryIndex {
	if weights.Vector == 0 && weights.Keyword == 0 {
		weights = DefaultWeights
	}
	return &MemoryIndex{
		dimension: dimension,
		weights:   weights,
		tenants:   make(map[tenantKey]*tenantIndex),
		snapshots: snapshots,
		logger:    log.WithComponent("vectorindex"),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, orgID, domainID uuid.UUID, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	// Validate the whole batch before touching state so a mismatch cannot
	// leave it half-applied.
	for _, item := range items {
		if len(item.Vector) != m.dimension {
			return fmt.Errorf("vector dimension %d, index pinned to %d: %w",
				len(item.Vector), m.dimension, errdefs.ErrIntegrity)
		}
		if item.OrgID != orgID || item.DomainID != domainID {
			return fmt.Errorf("item %s scoped to %s/%s, upsert targets %s/%s: %w",
				item.ID, item.OrgID, item.DomainID, orgID, domainID, errdefs.ErrIntegrity)
		}
	}

	key := tenantKey{org: orgID, domain: domainID}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.tenants[key]
	if tenant == nil {
		tenant = &tenantIndex{byID: make(map[uuid.UUID]int)}
		m.tenants[key] = tenant
	}
	for _, item := range items {
		item.Vector = Normalize(item.Vector)
		if pos, ok := tenant.byID[item.ID]; ok {
			tenant.items[pos] = item
			continue
		}
		tenant.byID[item.ID] = len(tenant.items)
		tenant.items = append(tenant.items, item)
	}
	tenant.lastUpdated = time.Now()
	m.updateGaugeLocked()

	return m.persistLocked(key, tenant)
}

func (m *MemoryIndex) Delete(ctx context.Context, orgID, domainID uuid.UUID, filter Filter) (int, error) {
	key := tenantKey{org: orgID, domain: domainID}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.tenants[key]
	if tenant == nil {
		return 0, nil
	}

	if len(filter.DocumentIDs) == 0 {
		removed := len(tenant.items)
		delete(m.tenants, key)
		m.updateGaugeLocked()
		if m.snapshots != nil {
			if err := m.snapshots.drop(key); err != nil {
				return removed, fmt.Errorf("failed to drop snapshot: %w", err)
			}
		}
		return removed, nil
	}

	drop := make(map[uuid.UUID]bool, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		drop[id] = true
	}

	kept := tenant.items[:0]
	removed := 0
	for _, item := range tenant.items {
		if drop[item.DocumentID] {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		return 0, nil
	}

	tenant.items = kept
	tenant.byID = make(map[uuid.UUID]int, len(kept))
	for i, item := range kept {
		tenant.byID[item.ID] = i
	}
	tenant.lastUpdated = time.Now()
	m.updateGaugeLocked()

	return removed, m.persistLocked(key, tenant)
}

func (m *MemoryIndex) Search(ctx context.Context, orgID, domainID uuid.UUID, vector []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search k must be positive: %w", errdefs.ErrBadRequest)
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("query vector dimension %d, index pinned to %d: %w",
			len(vector), m.dimension, errdefs.ErrIntegrity)
	}
	query := Normalize(vector)

	var docFilter map[uuid.UUID]bool
	var keywords []string
	if filter != nil {
		if len(filter.DocumentIDs) > 0 {
			docFilter = make(map[uuid.UUID]bool, len(filter.DocumentIDs))
			for _, id := range filter.DocumentIDs {
				docFilter[id] = true
			}
		}
		keywords = filter.Keywords
	}

	start := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant := m.tenants[tenantKey{org: orgID, domain: domainID}]
	if tenant == nil {
		return nil, nil
	}

	results := make([]Result, 0, len(tenant.items))
	for _, item := range tenant.items {
		// Scope check on the stored payload itself. The per-tenant map makes
		// this structurally true; a failure here means corrupted state.
		if item.OrgID != orgID || item.DomainID != domainID {
			m.logger.Error().
				Str("item_id", item.ID.String()).
				Str("want_org", orgID.String()).
				Str("have_org", item.OrgID.String()).
				Msg("Dropping out-of-scope item from search results")
			continue
		}
		if docFilter != nil && !docFilter[item.DocumentID] {
			continue
		}
		score := dotProduct(query, item.Vector)
		if len(keywords) > 0 {
			score = m.weights.Vector*score + m.weights.Keyword*keywordScore(item.Content, keywords)
		}
		results = append(results, Result{Item: item, Similarity: score})
	}

	// Stable sort: equal scores keep insertion order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	metrics.IndexSearchDuration.Observe(time.Since(start).Seconds())
	return results, nil
}

func (m *MemoryIndex) Stats(ctx context.Context, orgID, domainID uuid.UUID) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Dimension: m.dimension}
	if tenant := m.tenants[tenantKey{org: orgID, domain: domainID}]; tenant != nil {
		stats.VectorCount = len(tenant.items)
		stats.LastUpdated = tenant.lastUpdated
	}
	return stats, nil
}

// ChunkSource is the slice of the relational store Restore replays from
type ChunkSource interface {
	ListChunksByDomain(ctx context.Context, orgID, domainID uuid.UUID, createdAfter time.Time) ([]*types.Chunk, error)
}

// Restore loads the last durable snapshot of every tenant and replays chunks
// written after each snapshot's watermark from the relational store. Tenants
// that never snapshotted are picked up by the reconciler instead.
func (m *MemoryIndex) Restore(ctx context.Context, source ChunkSource) error {
	if m.snapshots == nil {
		return nil
	}
	snaps, err := m.snapshots.load()
	if err != nil {
		return fmt.Errorf("failed to load index snapshots: %w", err)
	}

	for key, snap := range snaps {
		if bad := m.install(key, snap); bad > 0 {
			m.logger.Warn().
				Str("tenant", key.String()).
				Int("rejected", bad).
				Msg("Snapshot held vectors of the wrong dimension; tenant will be rebuilt")
		}

		chunks, err := source.ListChunksByDomain(ctx, key.org, key.domain, snap.TakenAt)
		if err != nil {
			return fmt.Errorf("failed to replay chunks for %s: %w", key, err)
		}
		if len(chunks) == 0 {
			continue
		}
		items := make([]Item, 0, len(chunks))
		for _, chunk := range chunks {
			if len(chunk.Embedding) != m.dimension {
				continue
			}
			items = append(items, ItemFromChunk(chunk))
		}
		if err := m.Upsert(ctx, key.org, key.domain, items); err != nil {
			return fmt.Errorf("failed to replay %d chunks for %s: %w", len(items), key, err)
		}
		m.logger.Info().
			Str("tenant", key.String()).
			Int("replayed", len(items)).
			Time("watermark", snap.TakenAt).
			Msg("Replayed post-snapshot chunks")
	}
	return nil
}

// install loads one snapshot without persisting it back. Returns the number
// of rejected items.
func (m *MemoryIndex) install(key tenantKey, snap snapshot) int {
	tenant := &tenantIndex{
		byID:        make(map[uuid.UUID]int, len(snap.Items)),
		lastUpdated: snap.TakenAt,
	}
	bad := 0
	for _, item := range snap.Items {
		if len(item.Vector) != m.dimension || item.OrgID != key.org || item.DomainID != key.domain {
			bad++
			continue
		}
		if pos, ok := tenant.byID[item.ID]; ok {
			tenant.items[pos] = item
			continue
		}
		tenant.byID[item.ID] = len(tenant.items)
		tenant.items = append(tenant.items, item)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[key] = tenant
	m.updateGaugeLocked()
	return bad
}

// Close flushes nothing (writes are write-through) and releases the snapshot
// store
func (m *MemoryIndex) Close() error {
	if m.snapshots == nil {
		return nil
	}
	return m.snapshots.Close()
}

func (m *MemoryIndex) persistLocked(key tenantKey, tenant *tenantIndex) error {
	if m.snapshots == nil {
		return nil
	}
	snap := snapshot{TakenAt: tenant.lastUpdated, Items: tenant.items}
	if err := m.snapshots.save(key, snap); err != nil {
		return fmt.Errorf("failed to snapshot tenant %s: %w", key, err)
	}
	return nil
}

func (m *MemoryIndex) updateGaugeLocked() {
	total := 0
	for _, tenant := range m.tenants {
		total += len(tenant.items)
	}
	metrics.IndexVectors.Set(float64(total))
}
