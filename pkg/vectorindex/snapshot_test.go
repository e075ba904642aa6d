package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "index.db")

	snaps, err := OpenSnapshots(path)
	require.NoError(t, err)

	idx := NewMemoryIndex(3, Weights{}, snaps)
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docID, 0, "survives restart", []float32{1, 0, 0}),
		mkItem(orgID, domainID, docID, 1, "also survives", []float32{0, 1, 0}),
	}))
	require.NoError(t, idx.Close())

	snaps2, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx2 := NewMemoryIndex(3, Weights{}, snaps2)
	defer idx2.Close()

	require.NoError(t, idx2.Restore(ctx, store.NewMemory()))

	stats, err := idx2.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)

	results, err := idx2.Search(ctx, orgID, domainID, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "survives restart", results[0].Item.Content)
}

func TestRestoreReplaysPostSnapshotChunks(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "index.db")

	snaps, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx := NewMemoryIndex(3, Weights{}, snaps)
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docID, 0, "snapshotted", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Close())

	// A chunk lands in the relational store after the snapshot was taken.
	st := store.NewMemory()
	require.NoError(t, st.UpsertChunks(ctx, []*types.Chunk{{
		ID:         uuid.New(),
		DocumentID: docID,
		OrgID:      orgID,
		DomainID:   domainID,
		Index:      1,
		Content:    "written after snapshot",
		Embedding:  []float32{0, 1, 0},
		CreatedAt:  time.Now().Add(time.Minute),
	}}))

	snaps2, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx2 := NewMemoryIndex(3, Weights{}, snaps2)
	defer idx2.Close()

	require.NoError(t, idx2.Restore(ctx, st))

	stats, err := idx2.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)

	results, err := idx2.Search(ctx, orgID, domainID, []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "written after snapshot", results[0].Item.Content)
}

func TestDeleteDropsSnapshotBucket(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "index.db")

	snaps, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx := NewMemoryIndex(3, Weights{}, snaps)
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docID, 0, "ephemeral", []float32{1, 0, 0}),
	}))

	_, err = idx.Delete(ctx, orgID, domainID, Filter{})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	snaps2, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx2 := NewMemoryIndex(3, Weights{}, snaps2)
	defer idx2.Close()

	require.NoError(t, idx2.Restore(ctx, store.NewMemory()))
	stats, err := idx2.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
}

func TestRestoreRejectsWrongDimensionSnapshot(t *testing.T) {
	ctx := context.Background()
	orgID, domainID, docID := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "index.db")

	snaps, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx := NewMemoryIndex(3, Weights{}, snaps)
	require.NoError(t, idx.Upsert(ctx, orgID, domainID, []Item{
		mkItem(orgID, domainID, docID, 0, "old model", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Close())

	// The configured model changed; the pinned dimension moved to 4.
	snaps2, err := OpenSnapshots(path)
	require.NoError(t, err)
	idx2 := NewMemoryIndex(4, Weights{}, snaps2)
	defer idx2.Close()

	require.NoError(t, idx2.Restore(ctx, store.NewMemory()))
	stats, err := idx2.Stats(ctx, orgID, domainID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount, "stale vectors must not be served under a new dimension")
}
