package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/ai"
	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
	"github.com/tomehq/tome/pkg/workflow"
)

// stubChatter records the request it was given and answers with a canned
// reply, a failure, or a block until cancellation.
type stubChatter struct {
	mu      sync.Mutex
	reply   string
	fail    error
	block   bool
	entered chan struct{}
	calls   int
	lastReq ai.ChatRequest
}

func (c *stubChatter) Complete(ctx context.Context, req ai.ChatRequest) (string, error) {
	c.mu.Lock()
	c.calls++
	c.lastReq = req
	entered, block, reply, fail := c.entered, c.block, c.reply, c.fail
	c.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail != nil {
		return "", fail
	}
	return reply, nil
}

func (c *stubChatter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubChatter) request() ai.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReq
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *store.Memory
	index    *vectorindex.MemoryIndex
	embedder *fixedEmbedder
	chatter  *stubChatter
	orgID    uuid.UUID
	domainID uuid.UUID
	userID   uuid.UUID
	docID    uuid.UUID
	claims   *auth.Claims
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	orgID := uuid.New()
	require.NoError(t, st.CreateOrganization(ctx, &types.Organization{ID: orgID, Slug: "acme", Name: "Acme"}))
	domainID := uuid.New()
	require.NoError(t, st.CreateDomain(ctx, &types.Domain{
		ID: domainID, OrgID: orgID, Name: "support",
		AI: types.AIConfig{Model: "test-model", Temperature: 0.2, MaxTokens: 512, ConfidenceThreshold: 0.5},
	}))
	docID := uuid.New()
	require.NoError(t, st.CreateDocument(ctx, &types.Document{
		ID: docID, OrgID: orgID, DomainID: domainID,
		Filename: "connector-guide.md", Status: types.DocumentReady,
	}))

	userID := uuid.New()
	claims := &auth.Claims{
		UserID:      userID,
		OrgID:       orgID,
		Role:        types.RoleMember,
		Permissions: auth.PermissionsForRole(types.RoleMember),
	}

	index := vectorindex.NewMemoryIndex(4, vectorindex.DefaultWeights, nil)
	embedder := &fixedEmbedder{dim: 4, vecs: map[string][]float32{}, def: []float32{1, 0, 0, 0}}
	chatter := &stubChatter{reply: "ok"}

	f := &pipelineFixture{
		store:    st,
		index:    index,
		embedder: embedder,
		chatter:  chatter,
		orgID:    orgID,
		domainID: domainID,
		userID:   userID,
		docID:    docID,
		claims:   claims,
	}
	f.pipeline = NewPipeline(Deps{
		Store:     st,
		Index:     index,
		Embedder:  embedder,
		Chatter:   chatter,
		Workflows: workflow.NewRouter(st),
		Audit:     audit.New(st, nil),
		Config: config.QueryConfig{
			KRetrieve:     20,
			MinConfidence: 0.35,
			HistoryWindow: 10,
			ContextTokens: 3000,
		},
	})
	return f
}

func (f *pipelineFixture) seedChunk(t *testing.T, domainID uuid.UUID, chunkIndex int, vec []float32, content string) {
	t.Helper()
	err := f.index.Upsert(context.Background(), f.orgID, domainID, []vectorindex.Item{{
		ID:         uuid.New(),
		DocumentID: f.docID,
		OrgID:      f.orgID,
		DomainID:   domainID,
		ChunkIndex: chunkIndex,
		Content:    content,
		Vector:     vec,
	}})
	require.NoError(t, err)
}

// seedGuide loads two chunks any reset-themed query retrieves strongly.
func (f *pipelineFixture) seedGuide(t *testing.T) {
	t.Helper()
	f.seedChunk(t, f.domainID, 0, []float32{1, 0, 0, 0},
		"Reset the connector from the settings page, then confirm the dialog.")
	f.seedChunk(t, f.domainID, 1, []float32{0.8, 0.6, 0, 0},
		"Click the reset button and wait for the restart to finish.")
}

func (f *pipelineFixture) ask(t *testing.T, text string) *Answer {
	t.Helper()
	got, err := f.pipeline.Answer(context.Background(), Input{
		Claims: f.claims, OrgID: f.orgID, DomainID: f.domainID, Text: text,
	})
	require.NoError(t, err)
	return got
}

func TestAnswerEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedGuide(t)
	f.chatter.reply = "Open the settings page and click reset [1]. Wait for the restart to finish [2]."
	ctx := context.Background()

	got := f.ask(t, "How do I reset the connector?")

	assert.Equal(t, f.chatter.reply, got.Content)
	assert.Equal(t, types.IntentTraining, got.Intent)
	assert.False(t, got.CacheHit)
	assert.False(t, got.LLMFailed)
	assert.False(t, got.Handoff)
	assert.Len(t, got.Citations, 2)
	assert.Len(t, got.Sources, 2)
	// Intent confidence 0.70 blended evenly with a perfect top hit.
	assert.InDelta(t, 0.85, got.Confidence, 1e-6)
	assert.Nil(t, got.Structured)

	// The conversation was created and both turns appended in order.
	require.NotEqual(t, uuid.Nil, got.SessionID)
	session, err := f.store.GetSession(ctx, f.orgID, got.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.userID, session.UserID)
	assert.Equal(t, 2, session.MessageCount)
	assert.Equal(t, "How do I reset the connector?", session.Title)

	msgs, err := f.store.ListMessages(ctx, f.orgID, got.SessionID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.MessageUser, msgs[0].Type)
	assert.Equal(t, "How do I reset the connector?", msgs[0].Content)
	assert.Equal(t, 1, msgs[0].Seq)
	assert.Equal(t, types.MessageAssistant, msgs[1].Type)
	assert.Equal(t, got.Content, msgs[1].Content)
	assert.Equal(t, 2, msgs[1].Seq)
	assert.Len(t, msgs[1].Citations, 2)

	// One execution record with the retrieval and cache facts.
	execs, err := f.store.ListExecutions(ctx, f.orgID, f.domainID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 2, execs[0].RetrievedCount)
	assert.False(t, execs[0].CacheHit)
	assert.False(t, execs[0].LLMFailed)
	require.NotNil(t, execs[0].SessionID)
	assert.Equal(t, got.SessionID, *execs[0].SessionID)

	events, err := f.store.ListAuditEvents(ctx, f.orgID, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "chat.message", events[0].Action)

	// The prompt carried the domain's generation settings, the numbered
	// sources, and the intent's instructions.
	req := f.chatter.request()
	assert.Equal(t, "test-model", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Equal(t, 512, req.MaxTokens)
	assert.Contains(t, req.System, "numbered sources")
	assert.Contains(t, req.System, "numbered step list")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ai.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "[1] connector-guide.md")
	assert.Contains(t, req.Messages[0].Content, "Reset the connector from the settings page")
	assert.Contains(t, req.Messages[0].Content, "Question: How do I reset the connector?")
}

func TestAnswerContinuesSessionWithHistory(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedGuide(t)
	f.chatter.reply = "Open settings and click reset [1]."
	ctx := context.Background()

	first := f.ask(t, "How do I reset the connector?")

	f.chatter.reply = "No, the reset is permanent [1]."
	second, err := f.pipeline.Answer(ctx, Input{
		Claims: f.claims, OrgID: f.orgID, DomainID: f.domainID,
		SessionID: first.SessionID, Text: "Can I undo the reset afterwards?",
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	session, err := f.store.GetSession(ctx, f.orgID, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, session.MessageCount)

	msgs, err := f.store.ListMessages(ctx, f.orgID, first.SessionID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, i+1, msg.Seq)
	}

	// The second call saw the first exchange as history ahead of its own turn.
	req := f.chatter.request()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ai.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "How do I reset the connector?", req.Messages[0].Content)
	assert.Equal(t, ai.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "Open settings and click reset [1].", req.Messages[1].Content)
	assert.Contains(t, req.Messages[2].Content, "Question: Can I undo the reset afterwards?")
}

func TestAnswerZeroRetrievalDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	got := f.ask(t, "Tell me about the pricing tiers")

	assert.Equal(t, noContextAnswer, got.Content)
	assert.Zero(t, got.Confidence)
	assert.True(t, got.Handoff, "a threshold-bearing domain hands off empty answers")
	assert.Empty(t, got.Citations)
	assert.False(t, got.LLMFailed)
	assert.Zero(t, f.chatter.callCount(), "no synthesis without context")

	msgs, err := f.store.ListMessages(ctx, f.orgID, got.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "the degraded exchange is still recorded")

	execs, err := f.store.ListExecutions(ctx, f.orgID, f.domainID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Zero(t, execs[0].RetrievedCount)
}

func TestAnswerSynthesisFailureListsSources(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedGuide(t)
	f.chatter.fail = errors.New("upstream 500")
	ctx := context.Background()

	got := f.ask(t, "How do I reset the connector?")

	assert.True(t, got.LLMFailed)
	assert.InDelta(t, degradedConfidence, got.Confidence, 1e-9)
	assert.True(t, got.Handoff)
	assert.Contains(t, got.Content, "unavailable")
	assert.Contains(t, got.Content, "connector-guide.md")
	assert.NotEmpty(t, got.Citations, "the source listing's markers resolve like any other answer")

	msgs, err := f.store.ListMessages(ctx, f.orgID, got.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	execs, err := f.store.ListExecutions(ctx, f.orgID, f.domainID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].LLMFailed)
}

func TestAnswerAuthz(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	viewer := &auth.Claims{
		UserID: uuid.New(), OrgID: f.orgID,
		Role: types.RoleViewer, Permissions: auth.PermissionsForRole(types.RoleViewer),
	}
	foreign := &auth.Claims{
		UserID: uuid.New(), OrgID: uuid.New(),
		Role: types.RoleMember, Permissions: auth.PermissionsForRole(types.RoleMember),
	}

	privateID := uuid.New()
	require.NoError(t, f.store.CreateDomain(ctx, &types.Domain{
		ID: privateID, OrgID: f.orgID, Name: "internal", AccessMode: types.AccessPrivate,
	}))

	cases := []struct {
		name  string
		input Input
		want  error
	}{
		{"no claims", Input{OrgID: f.orgID, DomainID: f.domainID, Text: "hi"}, errdefs.ErrUnauthenticated},
		{"foreign org", Input{Claims: foreign, OrgID: f.orgID, DomainID: f.domainID, Text: "hi"}, errdefs.ErrTenantMismatch},
		{"viewer lacks chat:write", Input{Claims: viewer, OrgID: f.orgID, DomainID: f.domainID, Text: "hi"}, errdefs.ErrPermissionDenied},
		{"private domain", Input{Claims: f.claims, OrgID: f.orgID, DomainID: privateID, Text: "hi"}, errdefs.ErrPermissionDenied},
		{"unknown domain", Input{Claims: f.claims, OrgID: f.orgID, DomainID: uuid.New(), Text: "hi"}, errdefs.ErrNotFound},
		{"blank text", Input{Claims: f.claims, OrgID: f.orgID, DomainID: f.domainID, Text: "   "}, errdefs.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.Answer(ctx, tc.input)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAnswerSessionValidation(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	newSession := func(userID, domainID uuid.UUID) *types.ChatSession {
		s := &types.ChatSession{
			ID: uuid.New(), OrgID: f.orgID, DomainID: domainID,
			UserID: userID, Title: "t", Status: types.SessionActive,
		}
		require.NoError(t, f.store.CreateSession(ctx, s))
		return s
	}

	archived := newSession(f.userID, f.domainID)
	require.NoError(t, f.store.ArchiveSession(ctx, f.orgID, archived.ID))
	foreign := newSession(uuid.New(), f.domainID)

	otherDomain := uuid.New()
	require.NoError(t, f.store.CreateDomain(ctx, &types.Domain{ID: otherDomain, OrgID: f.orgID, Name: "docs"}))
	crossDomain := newSession(f.userID, otherDomain)

	cases := []struct {
		name      string
		sessionID uuid.UUID
		want      error
	}{
		{"unknown session", uuid.New(), errdefs.ErrNotFound},
		{"archived session", archived.ID, errdefs.ErrConflict},
		{"another user's session", foreign.ID, errdefs.ErrNotFound},
		{"session from another domain", crossDomain.ID, errdefs.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.Answer(ctx, Input{
				Claims: f.claims, OrgID: f.orgID, DomainID: f.domainID,
				SessionID: tc.sessionID, Text: "hi",
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAnswerMinConfidenceOverride(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	openID := uuid.New()
	require.NoError(t, f.store.CreateDomain(ctx, &types.Domain{
		ID: openID, OrgID: f.orgID, Name: "everything",
		AI:       types.AIConfig{Model: "test-model", ConfidenceThreshold: 0.5},
		Settings: map[string]any{"min_confidence": 0.0},
	}))

	// The chunk is orthogonal to the query embedding and shares none of its
	// keywords, so it scores zero.
	weak := "Quarterly billing happens on the first day of the period."
	f.seedChunk(t, f.domainID, 0, []float32{0, 1, 0, 0}, weak)
	f.seedChunk(t, openID, 0, []float32{0, 1, 0, 0}, weak)
	f.chatter.reply = "The billing schedule is quarterly [1]."

	// Default floor: the zero-score chunk is dropped and the answer degrades.
	floored := f.ask(t, "completely unrelated question about gardening")
	assert.Equal(t, noContextAnswer, floored.Content)
	assert.Zero(t, f.chatter.callCount())

	// A domain that lowered its floor to zero keeps the chunk and answers.
	open, err := f.pipeline.Answer(ctx, Input{
		Claims: f.claims, OrgID: f.orgID, DomainID: openID,
		Text: "completely unrelated question about gardening",
	})
	require.NoError(t, err)
	assert.Equal(t, f.chatter.reply, open.Content)
	assert.Equal(t, 1, f.chatter.callCount())
	assert.Len(t, open.Sources, 1)
}

func TestAnswerUncitedClaimsCapConfidence(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedGuide(t)
	f.chatter.reply = "The connector keeps all of its state in one local database file."

	got := f.ask(t, "How do I reset the connector?")

	assert.InDelta(t, lowConfidenceCap, got.Confidence, 1e-9)
	assert.Empty(t, got.Citations)
	assert.True(t, got.Handoff, "capped confidence falls below the domain threshold")
}

func TestAnswerDisconnectKeepsRecords(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedGuide(t)
	f.chatter.block = true
	f.chatter.entered = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Answer(ctx, Input{
			Claims: f.claims, OrgID: f.orgID, DomainID: f.domainID,
			Text: "How do I reset the connector?",
		})
		done <- err
	}()

	select {
	case <-f.chatter.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis was never reached")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errdefs.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not observe cancellation")
	}

	// The run record survives the disconnect; the conversation does not start.
	execs, err := f.store.ListExecutions(context.Background(), f.orgID, f.domainID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].LLMFailed)
	assert.Nil(t, execs[0].SessionID)
	assert.Equal(t, 2, execs[0].RetrievedCount)

	sessions, err := f.store.ListSessions(context.Background(), f.orgID, f.userID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions, "no orphan session for an undelivered answer")
}

func TestAnswerBugWorkflowMatchesKnownIssue(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	f.seedChunk(t, f.domainID, 0, []float32{1, 0, 0, 0},
		"The export crashes with a timeout when the document is large.")
	require.NoError(t, f.store.CreateKnownIssue(ctx, &types.KnownIssue{
		ID: uuid.New(), OrgID: f.orgID, DomainID: f.domainID,
		Title:      "Export crashes on large documents",
		Symptoms:   "export crash timeout large document",
		Resolution: "Update to version 2.1 and retry.",
	}))
	f.chatter.reply = "Probable cause: the export times out on large documents [1].\n" +
		"1. Update to version 2.1.\n" +
		"2. Retry the export."

	got := f.ask(t, "The export crashes when I click the button")

	assert.Equal(t, types.IntentBugReport, got.Intent)
	require.NotNil(t, got.Structured)
	assert.Equal(t, "the export times out on large documents.", got.Structured["probable_cause"])
	assert.Equal(t, []string{"Update to version 2.1.", "Retry the export."}, got.Structured["suggested_steps"])

	// The matched issue and its stored resolution reached the prompt.
	req := f.chatter.request()
	assert.Contains(t, req.System, "Probable cause")
	assert.Contains(t, req.Messages[0].Content, "Matched known issue: Export crashes on large documents")
	assert.Contains(t, req.Messages[0].Content, "Stored resolution: Update to version 2.1 and retry.")
}

func TestAnswerFeatureWorkflowRecordsCandidate(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	openID := uuid.New()
	require.NoError(t, f.store.CreateDomain(ctx, &types.Domain{
		ID: openID, OrgID: f.orgID, Name: "ideas",
		AI:       types.AIConfig{Model: "test-model", ConfidenceThreshold: 0.5},
		Settings: map[string]any{"min_confidence": 0.0},
	}))
	// Nothing related: the request categorises as new.
	f.seedChunk(t, openID, 0, []float32{0, 1, 0, 0}, "Completely different topic here.")
	f.chatter.reply = "That is not available today [1]."

	text := "Please add support for exporting to CSV"
	got, err := f.pipeline.Answer(ctx, Input{
		Claims: f.claims, OrgID: f.orgID, DomainID: openID, Text: text,
	})
	require.NoError(t, err)

	assert.Equal(t, types.IntentFeatureRequest, got.Intent)
	assert.True(t, got.Handoff, "a weakly grounded answer falls below the threshold")
	require.NotNil(t, got.Structured)
	assert.Equal(t, "new", got.Structured["category"])

	candidates, err := f.store.ListFeatureCandidates(ctx, f.orgID, openID, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, text, candidates[0].Title)
	assert.Equal(t, text, candidates[0].Query)
	assert.Equal(t, "new", candidates[0].Status)
	assert.Equal(t, candidates[0].ID.String(), got.Structured["feature_candidate_id"])
}
