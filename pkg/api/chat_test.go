package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/types"
)

// seedCorpus uploads and processes one document so retrieval has something
// to find.
func (f *apiFixture) seedCorpus(t *testing.T, domainID uuid.UUID) *types.Document {
	t.Helper()
	doc := f.uploadFile(t, domainID, "guide.md", guideText)
	require.NoError(t, f.ingest.ProcessDocument(context.Background(), doc.ID))
	return doc
}

func TestChatAnswersWithCitations(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.seedCorpus(t, domain.ID)

	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message":   "How do I reset the connector?",
		"domain_id": domain.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var answer query.Answer
	decodeBody(t, rr, &answer)
	assert.NotEqual(t, uuid.Nil, answer.SessionID)
	assert.Contains(t, answer.Content, "Resetting takes three steps")
	assert.NotEmpty(t, answer.Citations, "the [1] marker resolves to a citation")
	assert.Positive(t, answer.Confidence)
	assert.False(t, answer.LLMFailed)
}

func TestChatReusesSession(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.seedCorpus(t, domain.ID)

	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "How do I reset the connector?", "domain_id": domain.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var first query.Answer
	decodeBody(t, rr, &first)

	rr = f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "And after the reset?", "domain_id": domain.ID, "session_id": first.SessionID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var second query.Answer
	decodeBody(t, rr, &second)
	assert.Equal(t, first.SessionID, second.SessionID)

	rr = f.do(t, http.MethodGet, "/api/v1/chat/sessions", f.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions sessionListResponse
	decodeBody(t, rr, &sessions)
	require.Len(t, sessions.Sessions, 1)

	rr = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+first.SessionID.String()+"/messages", f.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs messageListResponse
	decodeBody(t, rr, &msgs)
	require.Len(t, msgs.Messages, 4, "two turns, two messages each")
	assert.Equal(t, types.MessageUser, msgs.Messages[0].Type)
	assert.Equal(t, types.MessageAssistant, msgs.Messages[1].Type)
}

func TestChatRequiresDomain(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "hello",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatWithoutCorpusDegrades(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "empty")

	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "Anything in here?", "domain_id": domain.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var answer query.Answer
	decodeBody(t, rr, &answer)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 0, f.chatter.callCount(), "no sources, no model call")
}

func TestChatSessionsArePrivate(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.seedCorpus(t, domain.ID)

	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "How do I reset the connector?", "domain_id": domain.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var answer query.Answer
	decodeBody(t, rr, &answer)

	member := f.addTeammate(t, "member@acme.test", types.RoleMember)
	rr = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+answer.SessionID.String()+"/messages", member, nil)
	require.Equal(t, http.StatusNotFound, rr.Code, "someone else's conversation reads as absent")

	rr = f.do(t, http.MethodPost, "/api/v1/chat", member, map[string]any{
		"message": "Continuing your chat", "domain_id": domain.ID, "session_id": answer.SessionID,
	})
	require.Equal(t, http.StatusNotFound, rr.Code)

	// Audit readers may review any conversation in the org.
	admin := f.addTeammate(t, "admin@acme.test", types.RoleAdmin)
	rr = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+answer.SessionID.String()+"/messages", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSearchReturnsScoredChunks(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	doc := f.seedCorpus(t, domain.ID)

	rr := f.do(t, http.MethodPost, "/api/v1/search", f.token, map[string]any{
		"query":   "reset procedure",
		"domains": []uuid.UUID{domain.ID},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp searchResponse
	decodeBody(t, rr, &resp)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, doc.ID, resp.Results[0].DocumentID)
	assert.Positive(t, resp.Results[0].Score)
	assert.NotEmpty(t, resp.Results[0].Snippet)
}

func TestSearchSourceFilter(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.seedCorpus(t, domain.ID)

	rr := f.do(t, http.MethodPost, "/api/v1/search", f.token, map[string]any{
		"query":      "reset procedure",
		"domains":    []uuid.UUID{domain.ID},
		"source_ids": []uuid.UUID{uuid.New()},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp searchResponse
	decodeBody(t, rr, &resp)
	assert.Empty(t, resp.Results, "filtering to an unknown document leaves nothing")
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")

	rr := f.do(t, http.MethodPost, "/api/v1/search", f.token, map[string]any{
		"query": "   ", "domains": []uuid.UUID{domain.ID},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebSocketStreamsDeltasThenAnswer(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.seedCorpus(t, domain.ID)

	// The socket picks up an existing conversation.
	rr := f.do(t, http.MethodPost, "/api/v1/chat", f.token, map[string]any{
		"message": "How do I reset the connector?", "domain_id": domain.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var opened query.Answer
	decodeBody(t, rr, &opened)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/v1/ws/" + opened.SessionID.String() + "?access_token=" + f.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "And the troubleshooting steps?"}))

	var deltas []string
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "delta" {
			deltas = append(deltas, frame.Content)
			continue
		}
		require.Equal(t, "answer", frame.Type)
		require.NotNil(t, frame.Answer)
		assert.Equal(t, opened.SessionID, frame.Answer.SessionID)
		assert.NotEmpty(t, frame.Answer.Citations)
		assert.Equal(t, frame.Answer.Content, strings.Join(deltas, ""), "deltas reassemble the final answer")
		break
	}
	require.NotEmpty(t, deltas, "streaming must emit at least one delta")
}

func TestWebSocketRequiresExistingSession(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/ws/"+uuid.NewString(), f.token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
