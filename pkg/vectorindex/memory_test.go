package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/errdefs"
)

func mkItem(orgID, domainID, docID uuid.UUID, idx int, content string, vec []float32) Item {
	return Item{
		ID:         uuid.New(),
		DocumentID: docID,
		OrgID:      orgID,
		DomainID:   domainID,
		ChunkIndex: idx,
		Content:    content,
		Vector:     vec,
	}
}

func TestMemoryIndexSearchOrdering(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	exact := mkItem(orgID, domainID, docID, 0, "exact match", []float32{1, 0, 0})
	near := mkItem(orgID, domainID, docID, 1, "near match", []float32{0.9, 0.1, 0})
	far := mkItem(orgID, domainID, docID, 2, "far away", []float32{0, 0, 1})
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{far, near, exact}))

	results, err := idx.Search(ctx, orgID, domainID, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, exact.ID, results[0].Item.ID)
	assert.Equal(t, near.ID, results[1].Item.ID)
	assert.Equal(t, far.ID, results[2].Item.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	assert.Greater(t, results[1].Similarity, results[2].Similarity)
}

func TestMemoryIndexTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	first := mkItem(orgID, domainID, docID, 0, "first", []float32{0, 1, 0})
	second := mkItem(orgID, domainID, docID, 1, "second", []float32{0, 1, 0})
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{first}))
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{second}))

	results, err := idx.Search(ctx, orgID, domainID, []float32{0, 1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, first.ID, results[0].Item.ID)
	assert.Equal(t, second.ID, results[1].Item.ID)
}

func TestMemoryIndexTopKTruncation(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	var items []Item
	for i := 0; i < 10; i++ {
		items = append(items, mkItem(orgID, domainID, docID, i, "chunk", []float32{1, float32(i) * 0.01, 0}))
	}
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, items))

	results, err := idx.Search(ctx, orgID, domainID, []float32{1, 0, 0}, 4, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestMemoryIndexTenantIsolation(t *testing.T) {
	ctx := context.Background()
	orgA, domainA := uuid.New(), uuid.New()
	orgB, domainB := uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	itemA := mkItem(orgA, domainA, uuid.New(), 0, "tenant a", []float32{1, 0, 0})
	itemB := mkItem(orgB, domainB, uuid.New(), 0, "tenant b", []float32{1, 0, 0})
	require.NoError(t, idx.Upsert(ctx, orgA, domainA, []Item{itemA}))
	require.NoError(t, idx.Upsert(ctx, orgB, domainB, []Item{itemB}))

	results, err := idx.Search(ctx, orgA, domainA, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, itemA.ID, results[0].Item.ID)
	assert.Equal(t, orgA, results[0].Item.OrgID)

	// A batch may never smuggle another tenant's payload in.
	foreign := mkItem(orgB, domainB, uuid.New(), 1, "smuggled", []float32{0, 1, 0})
	err = idx.Upsert(ctx, orgA, domainA, []Item{foreign})
	require.Error(t, err)
	assert.True(t, errdefs.IsIntegrity(err))
}

func TestMemoryIndexDimensionPinned(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	good := mkItem(orgID, domainID, docID, 0, "good", []float32{1, 0, 0})
	bad := mkItem(orgID, domainID, docID, 1, "bad", []float32{1, 0})

	err := idx.Upsert(ctx, orgID, domainID, []Item{good, bad})
	require.Error(t, err)
	assert.True(t, errdefs.IsIntegrity(err))

	// The batch is atomic: the valid item must not have been applied.
	stats, err := idx.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)

	_, err = idx.Search(ctx, orgID, domainID, []float32{1, 0}, 5, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsIntegrity(err))
}

func TestMemoryIndexDocumentFilter(t *testing.T) {
	ctx := context.Background()
	orgID, domainID := uuid.New(), uuid.New()
	docA, docB := uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docA, 0, "doc a", []float32{1, 0, 0}),
		mkItem(orgID, domainID, docB, 0, "doc b", []float32{1, 0, 0}),
	}))

	results, err := idx.Search(ctx, orgID, domainID, []float32{1, 0, 0}, 10, &Filter{DocumentIDs: []uuid.UUID{docB}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, docB, results[0].Item.DocumentID)
}

func TestMemoryIndexHybridBlend(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{Vector: 0.3, Keyword: 0.7}, nil)

	semantic := mkItem(orgID, domainID, docID, 0, "nothing relevant here", []float32{0, 1, 0})
	keyworded := mkItem(orgID, domainID, docID, 1, "the restore procedure for backups", []float32{1, 0, 0})
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{semantic, keyworded}))

	query := []float32{0, 1, 0}

	// Pure vector search ranks the semantic item first.
	results, err := idx.Search(ctx, orgID, domainID, query, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, semantic.ID, results[0].Item.ID)

	// Keyword-heavy blend flips the ranking.
	results, err = idx.Search(ctx, orgID, domainID, query, 2, &Filter{Keywords: []string{"restore", "procedure"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, keyworded.ID, results[0].Item.ID)
	// semantic: 0.3*1.0 + 0.7*0; keyworded: 0.3*0 + 0.7*1.0
	assert.InDelta(t, 0.7, results[0].Similarity, 1e-6)
	assert.InDelta(t, 0.3, results[1].Similarity, 1e-6)
}

func TestMemoryIndexUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	item := mkItem(orgID, domainID, docID, 0, "v1", []float32{1, 0, 0})
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{item}))

	item.Content = "v2"
	item.Vector = []float32{0, 1, 0}
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{item}))

	stats, err := idx.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)

	results, err := idx.Search(ctx, orgID, domainID, []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2", results[0].Item.Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestMemoryIndexDelete(t *testing.T) {
	ctx := context.Background()
	orgID, domainID := uuid.New(), uuid.New()
	docA, docB := uuid.New(), uuid.New()
	idx := NewMemoryIndex(3, Weights{}, nil)

	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docA, 0, "a0", []float32{1, 0, 0}),
		mkItem(orgID, domainID, docA, 1, "a1", []float32{0, 1, 0}),
		mkItem(orgID, domainID, docB, 0, "b0", []float32{0, 0, 1}),
	}))

	removed, err := idx.Delete(ctx, orgID, domainID, Filter{DocumentIDs: []uuid.UUID{docA}})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := idx.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)

	// Empty filter clears the tenant slice entirely.
	removed, err = idx.Delete(ctx, orgID, domainID, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	results, err := idx.Search(ctx, orgID, domainID, []float32{0, 0, 1}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndexEmptyTenant(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(3, Weights{}, nil)

	results, err := idx.Search(ctx, uuid.New(), uuid.New(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := idx.Stats(ctx, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
	assert.Equal(t, 3, stats.Dimension)

	removed, err := idx.Delete(ctx, uuid.New(), uuid.New(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestKeywordScore(t *testing.T) {
	assert.Equal(t, 1.0, keywordScore("The Restore Procedure", []string{"restore", "procedure"}))
	assert.Equal(t, 0.5, keywordScore("only restore here", []string{"restore", "procedure"}))
	assert.Equal(t, 0.0, keywordScore("nothing", []string{"restore"}))
	assert.Equal(t, 0.0, keywordScore("anything", nil))
}
