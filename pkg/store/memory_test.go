package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

func seedOrgDomain(t *testing.T, m *Memory) (*types.Organization, *types.Domain) {
	t.Helper()
	ctx := context.Background()
	org := &types.Organization{ID: uuid.New(), Slug: "acme", Name: "Acme"}
	require.NoError(t, m.CreateOrganization(ctx, org))
	domain := &types.Domain{ID: uuid.New(), OrgID: org.ID, Name: "support", AccessMode: types.AccessPublic}
	require.NoError(t, m.CreateDomain(ctx, domain))
	return org, domain
}

func TestDocumentHashUniquePerDomain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	doc := &types.Document{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID,
		Filename: "a.txt", ContentHash: "h1", Status: types.DocumentPending,
	}
	require.NoError(t, m.CreateDocument(ctx, doc))

	dup := &types.Document{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID,
		Filename: "b.txt", ContentHash: "h1", Status: types.DocumentPending,
	}
	err := m.CreateDocument(ctx, dup)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	// Same hash in another domain is fine.
	other := &types.Domain{ID: uuid.New(), OrgID: org.ID, Name: "docs", AccessMode: types.AccessPublic}
	require.NoError(t, m.CreateDomain(ctx, other))
	dup.DomainID = other.ID
	require.NoError(t, m.CreateDocument(ctx, dup))
}

func TestReplaceDocumentChunks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	docID := uuid.New()
	first := []*types.Chunk{
		{ID: uuid.New(), DocumentID: docID, OrgID: org.ID, DomainID: domain.ID, Index: 0, Content: "old a"},
		{ID: uuid.New(), DocumentID: docID, OrgID: org.ID, DomainID: domain.ID, Index: 1, Content: "old b"},
		{ID: uuid.New(), DocumentID: docID, OrgID: org.ID, DomainID: domain.ID, Index: 2, Content: "old c"},
	}
	require.NoError(t, m.UpsertChunks(ctx, first))

	second := []*types.Chunk{
		{ID: uuid.New(), DocumentID: docID, OrgID: org.ID, DomainID: domain.ID, Index: 1, Content: "new b"},
		{ID: uuid.New(), DocumentID: docID, OrgID: org.ID, DomainID: domain.ID, Index: 0, Content: "new a"},
	}
	require.NoError(t, m.ReplaceDocumentChunks(ctx, docID, second))

	got, err := m.ListChunks(ctx, docID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new a", got[0].Content, "chunks come back ordered by index")
	assert.Equal(t, "new b", got[1].Content)

	n, err := m.CountChunks(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLookupEmbeddingByContentHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	chunk := &types.Chunk{
		ID: uuid.New(), DocumentID: uuid.New(), OrgID: org.ID, DomainID: domain.ID,
		Index: 0, Content: "hello", ContentHash: "ch1", ModelID: "model-a",
		Embedding: []float32{0.1, 0.2},
	}
	require.NoError(t, m.UpsertChunks(ctx, []*types.Chunk{chunk}))

	vec, ok, err := m.LookupEmbedding(ctx, "ch1", "model-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	_, ok, err = m.LookupEmbedding(ctx, "ch1", "model-b")
	require.NoError(t, err)
	assert.False(t, ok, "embeddings are keyed by model too")
}

func TestAppendMessagesAssignsSeq(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	session := &types.ChatSession{ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, UserID: uuid.New()}
	require.NoError(t, m.CreateSession(ctx, session))

	require.NoError(t, m.AppendMessages(ctx, session.ID, []*types.Message{
		{ID: uuid.New(), Type: types.MessageUser, Content: "q1"},
		{ID: uuid.New(), Type: types.MessageAssistant, Content: "a1"},
	}))
	require.NoError(t, m.AppendMessages(ctx, session.ID, []*types.Message{
		{ID: uuid.New(), Type: types.MessageUser, Content: "q2"},
	}))

	msgs, err := m.ListMessages(ctx, org.ID, session.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, i+1, msg.Seq)
	}

	got, err := m.GetSession(ctx, org.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
}

func TestCrossTenantReadsAreNotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	doc := &types.Document{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID,
		Filename: "a.txt", ContentHash: "h1", Status: types.DocumentReady,
	}
	require.NoError(t, m.CreateDocument(ctx, doc))

	otherOrg := uuid.New()
	_, err := m.GetDocument(ctx, otherOrg, doc.ID)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = m.GetDomain(ctx, otherOrg, domain.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestJobQueueLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &types.Job{Kind: types.JobIngestDocument, OrgID: uuid.New(), Payload: []byte(`{}`), MaxAttempts: 2}
	require.NoError(t, m.Enqueue(ctx, job))
	require.NotEqual(t, uuid.Nil, job.ID)

	// Wrong kind filter claims nothing.
	got, err := m.Dequeue(ctx, "w1", []types.JobKind{types.JobConnectorSync})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.Dequeue(ctx, "w1", []types.JobKind{types.JobIngestDocument})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.JobRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "w1", got.LockedBy)

	// Claimed job is invisible to other workers.
	second, err := m.Dequeue(ctx, "w2", nil)
	require.NoError(t, err)
	assert.Nil(t, second)

	// First failure reschedules.
	require.NoError(t, m.FailJob(ctx, got.ID, "boom", 0))
	got, err = m.Dequeue(ctx, "w2", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "boom", got.LastError)

	// Second failure exhausts MaxAttempts.
	require.NoError(t, m.FailJob(ctx, got.ID, "boom again", 0))
	got, err = m.Dequeue(ctx, "w3", nil)
	require.NoError(t, err)
	assert.Nil(t, got, "permanently failed job must not requeue")

	n, err := m.PendingJobCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJobQueueRespectsRunAt(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &types.Job{Kind: types.JobIngestDocument, OrgID: uuid.New(), RunAt: time.Now().Add(time.Hour)}
	require.NoError(t, m.Enqueue(ctx, job))

	got, err := m.Dequeue(ctx, "w1", nil)
	require.NoError(t, err)
	assert.Nil(t, got, "future jobs are not due")
}

func TestRequeueStaleJobs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &types.Job{Kind: types.JobIngestDocument, OrgID: uuid.New()}
	require.NoError(t, m.Enqueue(ctx, job))

	got, err := m.Dequeue(ctx, "crashed-worker", nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Negative lease treats every running job as stale.
	n, err := m.RequeueStaleJobs(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = m.Dequeue(ctx, "w2", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "w2", got.LockedBy)
}

func TestUpsertCrawledPageByURL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)
	connectorID := uuid.New()

	page := &types.CrawledPage{
		ConnectorID: connectorID, OrgID: org.ID, DomainID: domain.ID,
		URL: "https://docs.example.com/a", Status: types.PageIngested, WordCount: 100,
	}
	require.NoError(t, m.UpsertCrawledPage(ctx, page))
	firstID := page.ID

	update := &types.CrawledPage{
		ConnectorID: connectorID, OrgID: org.ID, DomainID: domain.ID,
		URL: "https://docs.example.com/a", Status: types.PageSkippedDuplicate, WordCount: 100,
	}
	require.NoError(t, m.UpsertCrawledPage(ctx, update))
	assert.Equal(t, firstID, update.ID, "same URL updates in place")

	pages, total, err := m.ListCrawledPages(ctx, org.ID, connectorID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, types.PageSkippedDuplicate, pages[0].Status)
}

func TestListDueConnectors(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	now := time.Now()
	lastSync := now.Add(-2 * time.Hour)
	due := &types.Connector{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, Name: "due",
		Type: types.ConnectorWeb, Enabled: true, Schedule: "1h", LastSyncAt: &lastSync,
	}
	fresh := &types.Connector{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, Name: "fresh",
		Type: types.ConnectorWeb, Enabled: true, Schedule: "6h", LastSyncAt: &lastSync,
	}
	disabled := &types.Connector{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, Name: "disabled",
		Type: types.ConnectorWeb, Enabled: false, Schedule: "1h",
	}
	never := &types.Connector{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, Name: "never-synced",
		Type: types.ConnectorWeb, Enabled: true, Schedule: "24h",
	}
	for _, c := range []*types.Connector{due, fresh, disabled, never} {
		require.NoError(t, m.CreateConnector(ctx, c))
	}

	got, err := m.ListDueConnectors(ctx, now)
	require.NoError(t, err)
	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"due", "never-synced"}, names)
}

func TestDeleteDomainCascades(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	org, domain := seedOrgDomain(t, m)

	doc := &types.Document{
		ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID,
		Filename: "a.txt", ContentHash: "h1", Status: types.DocumentReady,
	}
	require.NoError(t, m.CreateDocument(ctx, doc))
	require.NoError(t, m.UpsertChunks(ctx, []*types.Chunk{
		{ID: uuid.New(), DocumentID: doc.ID, OrgID: org.ID, DomainID: domain.ID, Index: 0, Content: "x"},
	}))
	conn := &types.Connector{ID: uuid.New(), OrgID: org.ID, DomainID: domain.ID, Name: "web", Type: types.ConnectorWeb}
	require.NoError(t, m.CreateConnector(ctx, conn))

	require.NoError(t, m.DeleteDomain(ctx, org.ID, domain.ID))

	_, err := m.GetDocument(ctx, org.ID, doc.ID)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = m.GetConnector(ctx, org.ID, conn.ID)
	assert.True(t, errdefs.IsNotFound(err))
	n, err := m.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
